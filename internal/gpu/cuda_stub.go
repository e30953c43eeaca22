//go:build !cuda

package gpu

import "fmt"

// CUDADevice stub for builds without the cuda tag
type CUDADevice struct{}

// NewCUDADevice returns an error when CUDA support is not compiled in
func NewCUDADevice(ordinal int) (*CUDADevice, error) {
	return nil, fmt.Errorf("CUDA support not compiled in (build with: go build -tags cuda)")
}

func (d *CUDADevice) Type() DeviceType                       { return DeviceTypeGPU }
func (d *CUDADevice) Name() string                           { return "CUDA (unavailable)" }
func (d *CUDADevice) Ordinal() int                           { return -1 }
func (d *CUDADevice) Stream() uintptr                        { return 0 }
func (d *CUDADevice) Properties() Properties                 { return Properties{} }
func (d *CUDADevice) Allocate(size int64) (Buffer, error)    { return nil, fmt.Errorf("CUDA not available") }
func (d *CUDADevice) Copy(dst, src Buffer, size int64) error { return fmt.Errorf("CUDA not available") }
func (d *CUDADevice) Sync() error                            { return fmt.Errorf("CUDA not available") }
func (d *CUDADevice) Free() error                            { return fmt.Errorf("CUDA not available") }
func (d *CUDADevice) MemoryUsage() (int64, int64)            { return 0, 0 }

// WrapDevicePtr is unavailable without CUDA
func (d *CUDADevice) WrapDevicePtr(ptr uintptr, size int64) Buffer { return nil }
