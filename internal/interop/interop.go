// Package interop makes renderer-owned pixel buffers visible to the compute
// device that runs the denoiser.
//
// A buffer is registered once per resolution and then mapped for the
// duration of each frame. A device address obtained from Map is only valid
// until the matching Unmap.
package interop

import (
	"errors"

	"github.com/harskish/Fluctus/internal/gpu"
)

// BytesPerPixel is the size of one RGBA32F pixel
const BytesPerPixel = 16

var (
	// ErrRegistration is returned when a buffer cannot be registered
	ErrRegistration = errors.New("interop: registration failed")

	// ErrMap is returned when a handle cannot be mapped
	ErrMap = errors.New("interop: map failed")

	// ErrNotMapped is returned by Unmap on a handle that is not mapped
	ErrNotMapped = errors.New("interop: handle not mapped")

	// ErrSizeMismatch is returned by Map when the registered buffer does not
	// hold exactly width*height RGBA32F pixels
	ErrSizeMismatch = errors.New("interop: buffer size mismatch")

	// ErrUnknownHandle is returned for handles that are not registered
	ErrUnknownHandle = errors.New("interop: unknown handle")
)

// AccessMode tells the registrar how the compute side will use a buffer
type AccessMode int

const (
	ReadWrite AccessMode = iota
	ReadOnly
)

func (m AccessMode) String() string {
	switch m {
	case ReadWrite:
		return "read-write"
	case ReadOnly:
		return "read-only"
	default:
		return "unknown"
	}
}

// PixelBuffer is a renderer-owned RGBA32F pixel buffer
type PixelBuffer interface {
	// ID is the renderer's name for the buffer (a GL buffer object for
	// GPU renderers)
	ID() uint32
	Width() int
	Height() int
	// ByteSize is the size of the underlying storage
	ByteSize() int64
}

// HostPixels is implemented by pixel buffers stored in Go memory
type HostPixels interface {
	Bytes() []byte
}

// ExpectedSize returns the byte size a pixel buffer must have
func ExpectedSize(buf PixelBuffer) int64 {
	return int64(buf.Width()) * int64(buf.Height()) * BytesPerPixel
}

// Registrar binds pixel buffers into a device's address space
type Registrar interface {
	Device() gpu.Device
	Register(buf PixelBuffer, mode AccessMode) (Resource, error)
}

// Resource is one registration made by a Registrar
type Resource interface {
	// Map makes the buffer accessible from the device. The returned buffer
	// is invalidated by Unmap.
	Map() (gpu.Buffer, error)
	Unmap() error
	Unregister() error
}
