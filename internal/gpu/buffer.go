package gpu

import (
	"fmt"
	"unsafe"
)

// Buffer represents a block of device memory
type Buffer interface {
	// Size returns the size of the buffer in bytes
	Size() int64

	// Ptr returns the raw device address of the buffer (for GPU APIs).
	// Returns 0 once the buffer has been freed or invalidated.
	Ptr() uintptr

	// CopyToHost copies buffer data to host memory
	CopyToHost(dst []byte) error

	// CopyFromHost copies host memory to the buffer
	CopyFromHost(src []byte) error

	// Free releases the buffer
	Free() error

	// Device returns the device that owns this buffer
	Device() Device
}

// HostMemory is implemented by buffers whose storage is directly addressable
// from Go. The returned slice is only valid until the buffer is freed.
type HostMemory interface {
	Bytes() []byte
}

// HostBytes returns the host-visible storage of buf, unwrapping pooled
// buffers. The slice is truncated to buf.Size().
func HostBytes(buf Buffer) ([]byte, bool) {
	if buf == nil {
		return nil, false
	}
	inner := buf
	if pooled, ok := buf.(*pooledBuffer); ok {
		inner = pooled.Buffer
	}
	hm, ok := inner.(HostMemory)
	if !ok {
		return nil, false
	}
	b := hm.Bytes()
	if b == nil {
		return nil, false
	}
	if n := buf.Size(); int64(len(b)) > n {
		b = b[:n]
	}
	return b, true
}

// Float32s reinterprets the host storage of buf as float32 values.
func Float32s(buf Buffer) ([]float32, error) {
	b, ok := HostBytes(buf)
	if !ok {
		return nil, fmt.Errorf("buffer is not host accessible")
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("buffer size %d is not a multiple of 4", len(b))
	}
	if len(b) == 0 {
		return nil, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4), nil
}
