//go:build !cuda

package interop

import "testing"

func TestGLRegistrarUnavailable(t *testing.T) {
	if _, err := NewGLRegistrar(nil); err == nil {
		t.Error("NewGLRegistrar succeeded without CUDA support")
	}
}
