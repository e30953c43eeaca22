//go:build !cuda

package denoise

import (
	"fmt"

	"github.com/harskish/Fluctus/internal/gpu"
)

// OptixEngine stub for builds without the cuda tag
type OptixEngine struct{}

// NewOptixEngine returns an error when CUDA support is not compiled in
func NewOptixEngine(dev *gpu.CUDADevice) (*OptixEngine, error) {
	return nil, fmt.Errorf("OptiX denoiser requires building with -tags cuda")
}

func (e *OptixEngine) Name() string { return "optix (unavailable)" }
func (e *OptixEngine) Close() error { return nil }

func (e *OptixEngine) Create(opts Options) (Instance, error) {
	return nil, fmt.Errorf("OptiX not available")
}
