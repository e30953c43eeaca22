package gpu

import (
	"testing"
)

func TestBufferPool(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	pool := NewBufferPool(dev, 10*1024*1024)
	defer pool.Clear()

	buf1, err := pool.Allocate(1024)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if buf1.Size() != 1024 {
		t.Errorf("Buffer size = %d, want 1024", buf1.Size())
	}

	if err := pool.Release(buf1); err != nil {
		t.Errorf("Release failed: %v", err)
	}

	stats := pool.Stats()
	if stats.Allocations != 1 {
		t.Errorf("Expected 1 allocation, got %d", stats.Allocations)
	}

	buf2, err := pool.Allocate(1024)
	if err != nil {
		t.Fatalf("Second allocate failed: %v", err)
	}

	stats = pool.Stats()
	if stats.Reuses != 1 {
		t.Errorf("Expected 1 reuse, got %d", stats.Reuses)
	}
	if stats.PoolHits != 1 {
		t.Errorf("Expected 1 pool hit, got %d", stats.PoolHits)
	}

	pool.Release(buf2)
}

func TestBufferPoolSizeRounding(t *testing.T) {
	dev := NewCPUDevice()
	pool := NewBufferPool(dev, 10*1024*1024)
	defer pool.Clear()

	// Allocate 300 bytes - rounds up to the 1024 bucket
	buf1, err := pool.Allocate(300)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	pool.Release(buf1)

	// 1000 bytes maps to the same bucket and must fit in the reused buffer
	buf2, err := pool.Allocate(1000)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	defer pool.Release(buf2)

	if pool.Stats().Reuses != 1 {
		t.Errorf("Expected buffer reuse for same bucket")
	}

	b, ok := HostBytes(buf2)
	if !ok {
		t.Fatal("pooled CPU buffer is not host accessible")
	}
	if len(b) != 1000 {
		t.Errorf("host view length = %d, want 1000", len(b))
	}
}

func TestBufferPoolFreeRoutesThroughPool(t *testing.T) {
	pool := NewBufferPool(NewCPUDevice(), 0)
	defer pool.Clear()

	buf, err := pool.Allocate(4096)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := buf.Free(); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	pooled, active, _ := pool.MemoryUsage()
	if pooled != 4096 {
		t.Errorf("pooled bytes = %d, want 4096", pooled)
	}
	if active != 0 {
		t.Errorf("active bytes = %d, want 0", active)
	}

	// Releasing twice is harmless
	if err := buf.Free(); err != nil {
		t.Errorf("second Free failed: %v", err)
	}
	if pooled, _, _ := pool.MemoryUsage(); pooled != 4096 {
		t.Errorf("double free changed pooled bytes to %d", pooled)
	}
}

func TestBufferPoolEviction(t *testing.T) {
	pool := NewBufferPool(NewCPUDevice(), 8192)
	defer pool.Clear()

	a, _ := pool.Allocate(4096)
	b, _ := pool.Allocate(4096)
	c, _ := pool.Allocate(4096)

	pool.Release(a)
	pool.Release(b)
	pool.Release(c)

	stats := pool.Stats()
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
	if pooled, _, _ := pool.MemoryUsage(); pooled > 8192 {
		t.Errorf("pooled bytes %d exceed limit", pooled)
	}
}

func TestBufferPoolClear(t *testing.T) {
	pool := NewBufferPool(NewCPUDevice(), 0)

	buf, _ := pool.Allocate(2048)
	pool.Release(buf)

	if err := pool.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if pooled, _, _ := pool.MemoryUsage(); pooled != 0 {
		t.Errorf("pooled bytes after Clear = %d", pooled)
	}
}

func TestRoundUpPowerOf2(t *testing.T) {
	tests := []struct {
		in, want int64
	}{
		{0, 0},
		{1, 256},
		{256, 256},
		{257, 1024},
		{4096, 4096},
		{4097, 8192},
		{1 << 20, 1 << 20},
		{(1 << 20) + 1, 1 << 21},
	}
	for _, tt := range tests {
		if got := roundUpPowerOf2(tt.in); got != tt.want {
			t.Errorf("roundUpPowerOf2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
