//go:build !cuda

package interop

import (
	"fmt"

	"github.com/harskish/Fluctus/internal/gpu"
)

// GLRegistrar stub for builds without the cuda tag
type GLRegistrar struct{}

// NewGLRegistrar returns an error when CUDA support is not compiled in
func NewGLRegistrar(dev *gpu.CUDADevice) (*GLRegistrar, error) {
	return nil, fmt.Errorf("CUDA-GL interop requires building with -tags cuda")
}

func (r *GLRegistrar) Device() gpu.Device { return nil }

func (r *GLRegistrar) Register(buf PixelBuffer, mode AccessMode) (Resource, error) {
	return nil, fmt.Errorf("CUDA-GL interop not available")
}
