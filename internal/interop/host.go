package interop

import (
	"fmt"

	"github.com/harskish/Fluctus/internal/gpu"
)

// HostRegistrar shares pixel buffers that live in Go memory with a device
// that can address host memory directly. Mapping hands out a view over the
// renderer's storage; nothing is copied.
type HostRegistrar struct {
	dev gpu.Device
}

// NewHostRegistrar returns a zero-copy registrar. dev must be able to
// address host memory (the CPU device, or a GPU with unified addressing).
func NewHostRegistrar(dev gpu.Device) (*HostRegistrar, error) {
	if dev.Type() != gpu.DeviceTypeCPU && !dev.Properties().UnifiedAddressing {
		return nil, fmt.Errorf("device %s cannot address host memory", dev.Name())
	}
	return &HostRegistrar{dev: dev}, nil
}

func (r *HostRegistrar) Device() gpu.Device { return r.dev }

func (r *HostRegistrar) Register(buf PixelBuffer, mode AccessMode) (Resource, error) {
	hp, ok := buf.(HostPixels)
	if !ok {
		return nil, fmt.Errorf("buffer %d is not host memory", buf.ID())
	}
	if mode != ReadOnly && mode != ReadWrite {
		return nil, fmt.Errorf("unsupported access mode %d", mode)
	}
	return &hostResource{dev: r.dev, src: hp, mode: mode}, nil
}

type hostResource struct {
	dev    gpu.Device
	src    HostPixels
	mode   AccessMode
	view   gpu.Buffer
	closed bool
}

func (r *hostResource) Map() (gpu.Buffer, error) {
	if r.closed {
		return nil, fmt.Errorf("resource unregistered")
	}
	data := r.src.Bytes()
	if len(data) == 0 {
		return nil, fmt.Errorf("buffer has no storage")
	}
	r.view = gpu.WrapHost(r.dev, data, r.mode == ReadOnly)
	return r.view, nil
}

func (r *hostResource) Unmap() error {
	if r.view == nil {
		return fmt.Errorf("resource not mapped")
	}
	err := r.view.Free()
	r.view = nil
	return err
}

func (r *hostResource) Unregister() error {
	r.closed = true
	return nil
}
