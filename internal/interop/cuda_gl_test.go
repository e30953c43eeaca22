//go:build cuda

package interop

import (
	"errors"
	"testing"

	"github.com/harskish/Fluctus/internal/gpu"
)

func TestGLRegistrarWithoutContext(t *testing.T) {
	dev, err := gpu.NewCUDADevice(0)
	if err != nil {
		t.Skipf("CUDA not available: %v", err)
	}
	defer dev.Free()

	reg, err := NewGLRegistrar(dev)
	if err != nil {
		t.Fatalf("NewGLRegistrar failed: %v", err)
	}
	m := NewManager(reg, Options{StrictSize: true})

	// No GL context is current, so no buffer object can be registered
	_, err = m.Register(newTestBuffer(4242, 4, 4), ReadWrite)
	if !errors.Is(err, ErrRegistration) {
		t.Errorf("Register error = %v, want ErrRegistration", err)
	}
	if m.Live() != 0 {
		t.Errorf("Live() = %d after failed register", m.Live())
	}
}
