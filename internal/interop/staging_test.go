package interop

import (
	"testing"

	"github.com/harskish/Fluctus/internal/gpu"
)

func TestStagingRoundTrip(t *testing.T) {
	dev := gpu.NewCPUDevice()
	pool := gpu.NewBufferPool(dev, 0)
	defer pool.Clear()

	m := NewManager(NewStagingRegistrar(dev, pool), Options{StrictSize: true})

	rw := newTestBuffer(1, 2, 2)
	ro := newTestBuffer(2, 2, 2)
	ro.pixels[0] = 3

	hrw, err := m.Register(rw, ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	hro, err := m.Register(ro, ReadOnly)
	if err != nil {
		t.Fatal(err)
	}

	s, err := m.Acquire(hrw, hro)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// Staged copies start out with the renderer's pixels
	roBytes, ok := gpu.HostBytes(s.Mapping(1).Buffer)
	if !ok || roBytes[0] != 3 {
		t.Fatal("read-only staging buffer was not uploaded")
	}

	rwBytes, _ := gpu.HostBytes(s.Mapping(0).Buffer)
	rwBytes[5] = 11
	roBytes[0] = 99

	if rw.pixels[5] != 0 {
		t.Error("staging wrote through before Unmap")
	}

	if err := s.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	if rw.pixels[5] != 11 {
		t.Error("read-write staging buffer was not downloaded on Unmap")
	}
	if ro.pixels[0] != 3 {
		t.Error("read-only staging buffer was downloaded on Unmap")
	}
}

func TestStagingUnregisterWhileMapped(t *testing.T) {
	dev := gpu.NewCPUDevice()
	m := NewManager(NewStagingRegistrar(dev, nil), Options{StrictSize: true})

	h, _ := m.Register(newTestBuffer(1, 1, 1), ReadWrite)
	if _, err := m.Map(h); err != nil {
		t.Fatal(err)
	}
	if err := m.Unregister(h); err != nil {
		t.Errorf("Unregister failed: %v", err)
	}
	if m.Outstanding() != 0 {
		t.Error("mapping outlived its registration")
	}
}

func TestStagingUnmapInvalidatesPointer(t *testing.T) {
	dev := gpu.NewCPUDevice()
	pool := gpu.NewBufferPool(dev, 0)
	defer pool.Clear()

	m := NewManager(NewStagingRegistrar(dev, pool), Options{StrictSize: true})

	ha, _ := m.Register(newTestBuffer(1, 2, 2), ReadWrite)
	hb, _ := m.Register(newTestBuffer(2, 2, 2), ReadWrite)

	stale, err := m.Map(ha)
	if err != nil {
		t.Fatal(err)
	}
	if stale.Buffer.Ptr() == 0 {
		t.Fatal("mapped buffer has no address")
	}
	if err := m.Unmap(ha); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if stale.Buffer.Ptr() != 0 {
		t.Error("pointer still valid after Unmap")
	}
	if _, ok := gpu.HostBytes(stale.Buffer); ok {
		t.Error("storage still reachable after Unmap")
	}

	// b most likely inherits a's pooled storage
	mb, err := m.Map(hb)
	if err != nil {
		t.Fatal(err)
	}
	if err := stale.Buffer.Free(); err != nil {
		t.Errorf("Free on unmapped view failed: %v", err)
	}

	ma, err := m.Map(ha)
	if err != nil {
		t.Fatal(err)
	}
	if ma.Buffer.Ptr() == mb.Buffer.Ptr() {
		t.Error("remapped handle shares storage with a live mapping")
	}
	if _, ok := gpu.HostBytes(mb.Buffer); !ok {
		t.Error("live mapping lost its storage")
	}
}
