//go:build cuda

package denoise

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/harskish/Fluctus/internal/gpu"
)

func TestOptixPipeline(t *testing.T) {
	dev, err := gpu.NewCUDADevice(0)
	if err != nil {
		t.Skipf("CUDA not available: %v", err)
	}
	defer dev.Free()

	engine, err := NewOptixEngine(dev)
	if err != nil {
		t.Skipf("OptiX not available: %v", err)
	}
	defer engine.Close()

	p, err := New(dev, engine, DefaultOptions(), 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Destroy()

	const w, h = 32, 32
	if err := p.Setup(w, h); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	host := make([]byte, w*h*16)
	for i := 0; i < len(host); i += 4 {
		binary.LittleEndian.PutUint32(host[i:], math.Float32bits(1))
	}
	layers := make([]Image2D, 2)
	for i := range layers {
		buf, err := dev.Allocate(int64(len(host)))
		if err != nil {
			t.Fatal(err)
		}
		defer buf.Free()
		if err := buf.CopyFromHost(host); err != nil {
			t.Fatal(err)
		}
		layers[i] = NewImage2D(buf, w, h)
	}

	v, err := p.ComputeIntensity(layers[0])
	if err != nil {
		t.Fatalf("ComputeIntensity failed: %v", err)
	}
	if v <= 0 {
		t.Errorf("intensity = %v", v)
	}

	out := layers[0]
	out.InPlace = true
	if err := p.Invoke(layers, out, Params{}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if err := dev.Sync(); err != nil {
		t.Fatal(err)
	}

	if err := layers[0].Data.CopyToHost(host); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(host); i += 16 {
		r := math.Float32frombits(binary.LittleEndian.Uint32(host[i:]))
		if math.IsNaN(float64(r)) || math.Abs(float64(r)-1) > 0.1 {
			t.Fatalf("pixel %d red = %v, want ~1", i/16, r)
		}
	}
}
