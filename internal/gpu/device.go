package gpu

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/harskish/Fluctus/internal/system"
)

// Device represents a compute device (CPU or GPU).
//
// A Device is created once and passed explicitly to everything that needs
// it; there is no implicit process-wide device selection.
type Device interface {
	// Type returns the device type
	Type() DeviceType

	// Name returns a human-readable device name
	Name() string

	// Ordinal returns the index of the device as enumerated by its driver
	Ordinal() int

	// Stream returns the handle of the device's ordered execution queue.
	// 0 means the default queue.
	Stream() uintptr

	// Properties describes the device capabilities
	Properties() Properties

	// Allocate allocates a buffer of the given size in bytes
	Allocate(size int64) (Buffer, error)

	// Copy copies data from src to dst buffer
	Copy(dst, src Buffer, size int64) error

	// Sync waits for all pending operations to complete
	Sync() error

	// Free releases the device and all associated resources
	Free() error

	// MemoryUsage returns current device memory usage in bytes (used, total)
	MemoryUsage() (int64, int64)
}

// Properties is the capability descriptor of a device
type Properties struct {
	Name              string
	TotalMemory       int64
	ComputeMajor      int
	ComputeMinor      int
	MultiProcessors   int
	UnifiedAddressing bool
}

// DeviceType represents the type of compute device
type DeviceType int

const (
	DeviceTypeCPU DeviceType = iota
	DeviceTypeGPU
)

func (dt DeviceType) String() string {
	switch dt {
	case DeviceTypeCPU:
		return "CPU"
	case DeviceTypeGPU:
		return "GPU"
	default:
		return "Unknown"
	}
}

// GetDefaultDevice returns the CUDA device with the given ordinal if one is
// available, otherwise the CPU device.
func GetDefaultDevice(ordinal int) (Device, error) {
	if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
		dev, err := NewCUDADevice(ordinal)
		if err == nil {
			return dev, nil
		}
		// Fall back to CPU if CUDA initialization fails
	}

	return NewCPUDevice(), nil
}

// GetDevice returns a device of the specified type
func GetDevice(dtype DeviceType, ordinal int) (Device, error) {
	switch dtype {
	case DeviceTypeCPU:
		return NewCPUDevice(), nil
	case DeviceTypeGPU:
		if runtime.GOOS == "linux" || runtime.GOOS == "windows" {
			dev, err := NewCUDADevice(ordinal)
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
		return nil, fmt.Errorf("GPU not supported on %s", runtime.GOOS)
	default:
		return nil, fmt.Errorf("unknown device type: %v", dtype)
	}
}

// CPUDevice executes everything synchronously in host memory. It stands in
// for an accelerator in tests and in offline tooling.
type CPUDevice struct {
	name string
}

// NewCPUDevice creates a new CPU device
func NewCPUDevice() *CPUDevice {
	return &CPUDevice{
		name: fmt.Sprintf("CPU (%s)", runtime.GOARCH),
	}
}

func (d *CPUDevice) Type() DeviceType { return DeviceTypeCPU }
func (d *CPUDevice) Name() string     { return d.name }
func (d *CPUDevice) Ordinal() int     { return 0 }
func (d *CPUDevice) Stream() uintptr  { return 0 }

func (d *CPUDevice) Properties() Properties {
	return Properties{
		Name:              d.name,
		MultiProcessors:   runtime.NumCPU(),
		UnifiedAddressing: true,
	}
}

func (d *CPUDevice) Allocate(size int64) (Buffer, error) {
	return d.allocateDirect(size)
}

func (d *CPUDevice) allocateDirect(size int64) (Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size: %d", size)
	}
	// CPU "buffers" are just regular Go slices
	return &cpuBuffer{data: make([]byte, size), device: d}, nil
}

func (d *CPUDevice) Copy(dst, src Buffer, size int64) error {
	dstData, ok := HostBytes(dst)
	if !ok {
		return fmt.Errorf("dst is not a CPU buffer")
	}
	srcData, ok := HostBytes(src)
	if !ok {
		return fmt.Errorf("src is not a CPU buffer")
	}
	if size > int64(len(dstData)) || size > int64(len(srcData)) {
		return fmt.Errorf("copy size %d exceeds buffer size (dst: %d, src: %d)",
			size, len(dstData), len(srcData))
	}
	copy(dstData[:size], srcData[:size])
	return nil
}

func (d *CPUDevice) Sync() error {
	// No-op for CPU
	return nil
}

func (d *CPUDevice) Free() error {
	// No-op for CPU
	return nil
}

// MemoryUsage reports host memory, or zeros when it cannot be read
func (d *CPUDevice) MemoryUsage() (int64, int64) {
	m, err := system.HostMemory()
	if err != nil {
		return 0, 0
	}
	return m.Used(), m.Total
}

// WrapHost returns a buffer that aliases host memory owned by someone else.
// Freeing the returned buffer invalidates the view but leaves data intact.
// A read-only view rejects CopyFromHost.
func WrapHost(dev Device, data []byte, readOnly bool) Buffer {
	return &cpuBuffer{data: data, device: dev, borrowed: true, readOnly: readOnly}
}

// cpuBuffer implements Buffer for CPU memory
type cpuBuffer struct {
	data     []byte
	device   Device
	borrowed bool
	readOnly bool
	mu       sync.RWMutex
}

func (b *cpuBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.data))
}

func (b *cpuBuffer) Ptr() uintptr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.data[0]))
}

func (b *cpuBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data
}

func (b *cpuBuffer) CopyToHost(dst []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.data == nil {
		return fmt.Errorf("buffer has been freed")
	}
	if int64(len(dst)) < int64(len(b.data)) {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

func (b *cpuBuffer) CopyFromHost(src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return fmt.Errorf("buffer has been freed")
	}
	if b.readOnly {
		return fmt.Errorf("buffer is read-only")
	}
	if int64(len(b.data)) < int64(len(src)) {
		return fmt.Errorf("buffer too small: %d < %d", len(b.data), len(src))
	}
	copy(b.data, src)
	return nil
}

func (b *cpuBuffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}

func (b *cpuBuffer) Device() Device {
	if b.device == nil {
		return NewCPUDevice()
	}
	return b.device
}
