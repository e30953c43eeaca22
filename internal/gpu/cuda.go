//go:build cuda

package gpu

/*
#cgo CFLAGS: -I/opt/cuda/include -I/usr/local/cuda/include
#cgo LDFLAGS: -L/opt/cuda/lib64 -L/usr/local/cuda/lib64 -lcudart

#include <cuda_runtime.h>
#include <stdlib.h>

static const char* getCudaErrorString(cudaError_t error) {
    return cudaGetErrorString(error);
}
*/
import "C"
import (
	"fmt"
	"sync"
	"unsafe"
)

// CUDADevice represents a CUDA GPU device
type CUDADevice struct {
	deviceID int
	name     string
	props    Properties
	stream   C.cudaStream_t
	buffers  map[uintptr]*cudaBuffer
	mu       sync.RWMutex
}

func cudaError(op string, err C.cudaError_t) error {
	return fmt.Errorf("%s: %s", op, C.GoString(C.getCudaErrorString(err)))
}

// NewCUDADevice selects the CUDA device with the given ordinal and creates
// its execution stream.
func NewCUDADevice(ordinal int) (*CUDADevice, error) {
	// Force runtime context creation
	C.cudaFree(nil)

	var deviceCount C.int
	err := C.cudaGetDeviceCount(&deviceCount)
	if err != C.cudaSuccess {
		return nil, cudaError("CUDA not available", err)
	}
	if deviceCount == 0 {
		return nil, fmt.Errorf("no CUDA devices found")
	}
	if ordinal < 0 || ordinal >= int(deviceCount) {
		return nil, fmt.Errorf("CUDA device %d out of range (found %d)", ordinal, int(deviceCount))
	}

	if err := C.cudaSetDevice(C.int(ordinal)); err != C.cudaSuccess {
		return nil, cudaError(fmt.Sprintf("failed to set CUDA device %d", ordinal), err)
	}

	var props C.struct_cudaDeviceProp
	if err := C.cudaGetDeviceProperties(&props, C.int(ordinal)); err != C.cudaSuccess {
		return nil, cudaError("failed to get device properties", err)
	}

	dev := &CUDADevice{
		deviceID: ordinal,
		name:     C.GoString(&props.name[0]),
		buffers:  make(map[uintptr]*cudaBuffer),
	}
	dev.props = Properties{
		Name:              dev.name,
		TotalMemory:       int64(props.totalGlobalMem),
		ComputeMajor:      int(props.major),
		ComputeMinor:      int(props.minor),
		MultiProcessors:   int(props.multiProcessorCount),
		UnifiedAddressing: props.unifiedAddressing != 0,
	}

	if err := C.cudaStreamCreate(&dev.stream); err != C.cudaSuccess {
		return nil, cudaError("failed to create stream", err)
	}

	return dev, nil
}

func (d *CUDADevice) Type() DeviceType       { return DeviceTypeGPU }
func (d *CUDADevice) Name() string           { return d.name }
func (d *CUDADevice) Ordinal() int           { return d.deviceID }
func (d *CUDADevice) Stream() uintptr        { return uintptr(unsafe.Pointer(d.stream)) }
func (d *CUDADevice) Properties() Properties { return d.props }

func (d *CUDADevice) Allocate(size int64) (Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size: %d", size)
	}
	return d.allocateDirect(size)
}

func (d *CUDADevice) allocateDirect(size int64) (Buffer, error) {
	var ptr unsafe.Pointer
	err := C.cudaMalloc(&ptr, C.size_t(size))
	if err != C.cudaSuccess {
		return nil, cudaError(fmt.Sprintf("failed to allocate CUDA buffer of size %d", size), err)
	}

	buf := &cudaBuffer{
		ptr:    ptr,
		size:   size,
		device: d,
	}

	d.mu.Lock()
	d.buffers[uintptr(ptr)] = buf
	d.mu.Unlock()

	return buf, nil
}

// WrapDevicePtr returns a buffer view over device memory owned elsewhere,
// such as a mapped graphics resource. Freeing the view only invalidates it.
func (d *CUDADevice) WrapDevicePtr(ptr uintptr, size int64) Buffer {
	return &cudaBuffer{
		ptr:      unsafe.Pointer(ptr),
		size:     size,
		device:   d,
		borrowed: true,
	}
}

func (d *CUDADevice) Copy(dst, src Buffer, size int64) error {
	dstPtr, srcPtr := dst.Ptr(), src.Ptr()
	if dstPtr == 0 || srcPtr == 0 {
		return fmt.Errorf("copy on freed buffer")
	}
	if size > dst.Size() || size > src.Size() {
		return fmt.Errorf("copy size %d exceeds buffer size (dst: %d, src: %d)",
			size, dst.Size(), src.Size())
	}

	err := C.cudaMemcpyAsync(unsafe.Pointer(dstPtr), unsafe.Pointer(srcPtr), C.size_t(size),
		C.cudaMemcpyDeviceToDevice, d.stream)
	if err != C.cudaSuccess {
		return cudaError("failed to copy CUDA buffer", err)
	}

	return nil
}

func (d *CUDADevice) Sync() error {
	err := C.cudaDeviceSynchronize()
	if err != C.cudaSuccess {
		return cudaError("failed to synchronize CUDA device", err)
	}
	return nil
}

func (d *CUDADevice) Free() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, buf := range d.buffers {
		if buf.ptr != nil {
			C.cudaFree(buf.ptr)
			buf.ptr = nil
		}
	}
	d.buffers = nil

	if d.stream != nil {
		C.cudaStreamDestroy(d.stream)
		d.stream = nil
	}

	err := C.cudaDeviceReset()
	if err != C.cudaSuccess {
		return cudaError("failed to reset CUDA device", err)
	}

	return nil
}

func (d *CUDADevice) MemoryUsage() (int64, int64) {
	var free, total C.size_t
	err := C.cudaMemGetInfo(&free, &total)
	if err != C.cudaSuccess {
		return 0, 0
	}

	used := int64(total) - int64(free)
	return used, int64(total)
}

// cudaBuffer implements Buffer for CUDA GPU memory
type cudaBuffer struct {
	ptr      unsafe.Pointer
	size     int64
	device   *CUDADevice
	borrowed bool
	mu       sync.RWMutex
}

func (b *cudaBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *cudaBuffer) Ptr() uintptr {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return uintptr(b.ptr)
}

func (b *cudaBuffer) CopyToHost(dst []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.ptr == nil {
		return fmt.Errorf("buffer has been freed")
	}
	if int64(len(dst)) < b.size {
		return fmt.Errorf("destination buffer too small: %d < %d", len(dst), b.size)
	}

	err := C.cudaMemcpy(unsafe.Pointer(&dst[0]), b.ptr, C.size_t(b.size), C.cudaMemcpyDeviceToHost)
	if err != C.cudaSuccess {
		return cudaError("failed to copy to host", err)
	}

	return nil
}

func (b *cudaBuffer) CopyFromHost(src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ptr == nil {
		return fmt.Errorf("buffer has been freed")
	}
	if b.size < int64(len(src)) {
		return fmt.Errorf("buffer too small: %d < %d", b.size, len(src))
	}
	if len(src) == 0 {
		return nil
	}

	err := C.cudaMemcpy(b.ptr, unsafe.Pointer(&src[0]), C.size_t(len(src)), C.cudaMemcpyHostToDevice)
	if err != C.cudaSuccess {
		return cudaError("failed to copy from host", err)
	}

	return nil
}

func (b *cudaBuffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ptr == nil {
		return nil
	}
	if b.borrowed {
		b.ptr = nil
		return nil
	}

	if b.device != nil {
		b.device.mu.Lock()
		delete(b.device.buffers, uintptr(b.ptr))
		b.device.mu.Unlock()
	}

	err := C.cudaFree(b.ptr)
	if err != C.cudaSuccess {
		return cudaError("failed to free CUDA buffer", err)
	}
	b.ptr = nil

	return nil
}

func (b *cudaBuffer) Device() Device {
	return b.device
}
