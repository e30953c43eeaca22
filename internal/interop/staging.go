package interop

import (
	"fmt"

	"github.com/harskish/Fluctus/internal/gpu"
)

// StagingRegistrar shares host pixel buffers with any device by copying.
// Map uploads the pixels into a device buffer; Unmap downloads them again
// for read-write registrations and frees the device copy.
type StagingRegistrar struct {
	dev  gpu.Device
	pool *gpu.BufferPool
}

// NewStagingRegistrar returns a registrar that stages through device memory.
// pool may be nil, in which case buffers come straight from dev.
func NewStagingRegistrar(dev gpu.Device, pool *gpu.BufferPool) *StagingRegistrar {
	return &StagingRegistrar{dev: dev, pool: pool}
}

func (r *StagingRegistrar) Device() gpu.Device { return r.dev }

func (r *StagingRegistrar) Register(buf PixelBuffer, mode AccessMode) (Resource, error) {
	hp, ok := buf.(HostPixels)
	if !ok {
		return nil, fmt.Errorf("buffer %d is not host memory", buf.ID())
	}
	return &stagedResource{r: r, src: hp, mode: mode}, nil
}

func (r *StagingRegistrar) allocate(size int64) (gpu.Buffer, error) {
	if r.pool != nil {
		return r.pool.Allocate(size)
	}
	return r.dev.Allocate(size)
}

type stagedResource struct {
	r      *StagingRegistrar
	src    HostPixels
	mode   AccessMode
	staged *stagedBuffer
	closed bool
}

// stagedBuffer is the view handed out by one Map. Unmap detaches it from
// the device copy, so a stale view can neither reach nor free storage that
// the pool has since lent to another mapping.
type stagedBuffer struct {
	inner gpu.Buffer
}

func (b *stagedBuffer) Size() int64 {
	if b.inner == nil {
		return 0
	}
	return b.inner.Size()
}

func (b *stagedBuffer) Ptr() uintptr {
	if b.inner == nil {
		return 0
	}
	return b.inner.Ptr()
}

func (b *stagedBuffer) CopyToHost(dst []byte) error {
	if b.inner == nil {
		return fmt.Errorf("staging buffer unmapped")
	}
	return b.inner.CopyToHost(dst)
}

func (b *stagedBuffer) CopyFromHost(src []byte) error {
	if b.inner == nil {
		return fmt.Errorf("staging buffer unmapped")
	}
	return b.inner.CopyFromHost(src)
}

// Free is a no-op; the device copy belongs to the resource until Unmap.
func (b *stagedBuffer) Free() error { return nil }

func (b *stagedBuffer) Device() gpu.Device {
	if b.inner == nil {
		return nil
	}
	return b.inner.Device()
}

func (b *stagedBuffer) Bytes() []byte {
	data, ok := gpu.HostBytes(b.inner)
	if !ok {
		return nil
	}
	return data
}

func (b *stagedBuffer) detach() gpu.Buffer {
	inner := b.inner
	b.inner = nil
	return inner
}

func (s *stagedResource) Map() (gpu.Buffer, error) {
	if s.closed {
		return nil, fmt.Errorf("resource unregistered")
	}
	data := s.src.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("buffer has no storage")
	}

	buf, err := s.r.allocate(int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("allocating staging buffer: %w", err)
	}
	if err := buf.CopyFromHost(data); err != nil {
		buf.Free()
		return nil, fmt.Errorf("uploading pixels: %w", err)
	}

	s.staged = &stagedBuffer{inner: buf}
	return s.staged, nil
}

func (s *stagedResource) Unmap() error {
	if s.staged == nil {
		return fmt.Errorf("resource not mapped")
	}
	buf := s.staged.detach()
	s.staged = nil

	if s.mode == ReadWrite {
		// Device work must land before reading back
		if err := s.r.dev.Sync(); err != nil {
			buf.Free()
			return fmt.Errorf("synchronizing before download: %w", err)
		}
		if err := buf.CopyToHost(s.src.Bytes()); err != nil {
			buf.Free()
			return fmt.Errorf("downloading pixels: %w", err)
		}
	}
	return buf.Free()
}

func (s *stagedResource) Unregister() error {
	s.closed = true
	if s.staged != nil {
		return s.Unmap()
	}
	return nil
}
