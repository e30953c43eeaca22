// Package frame runs the denoiser over a renderer's surface once per frame.
//
// A Driver owns the registrations of the surface buffers and the denoise
// pipeline. All calls must come from the goroutine that owns the renderer.
package frame

import (
	"errors"
	"fmt"
	"time"

	"github.com/harskish/Fluctus/internal/denoise"
	"github.com/harskish/Fluctus/internal/gpu"
	"github.com/harskish/Fluctus/internal/interop"
	"github.com/harskish/Fluctus/internal/logging"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotBound is returned by DenoiseFrame before BindBuffers succeeded
	ErrNotBound = errors.New("frame: buffers not bound")

	// ErrMappingOutstanding is returned by ResizeBuffers while a frame
	// still holds mappings
	ErrMappingOutstanding = errors.New("frame: mappings outstanding")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("frame: driver closed")
)

// Role names a surface buffer
type Role int

const (
	RoleColor Role = iota
	RoleAlbedo
	RoleNormal
	numRoles
)

func (r Role) String() string {
	switch r {
	case RoleColor:
		return "color"
	case RoleAlbedo:
		return "albedo"
	case RoleNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Surface is the renderer output the driver denoises
type Surface interface {
	ColorBuffer() interop.PixelBuffer
	AlbedoBuffer() interop.PixelBuffer
	NormalBuffer() interop.PixelBuffer
	TexWidth() int
	TexHeight() int
}

// Options configures a Driver
type Options struct {
	// Blend is the initial blend factor, clamped to [0,1]
	Blend float32
}

// Stats describes the denoised frames so far
type Stats struct {
	Frames        int64
	LastIntensity float32
	LastDuration  time.Duration
}

// Driver denoises the color buffer of a surface in place
type Driver struct {
	dev      gpu.Device
	manager  *interop.Manager
	pipeline *denoise.Pipeline

	handles [numRoles]interop.Handle
	ids     [numRoles]uint32
	bound   bool
	width   int
	height  int
	blend   float32
	scope   *interop.Scope
	closed  bool
	stats   Stats

	log *logrus.Entry
}

// New returns a driver. BindBuffers must succeed before the first frame.
func New(dev gpu.Device, manager *interop.Manager, pipeline *denoise.Pipeline, opts Options) *Driver {
	d := &Driver{
		dev:      dev,
		manager:  manager,
		pipeline: pipeline,
		log:      logging.Component("frame"),
	}
	d.SetBlend(opts.Blend)
	return d
}

// SetBlend sets the share of the unfiltered signal mixed into the output.
// Values are clamped to [0,1]; NaN becomes 0.
func (d *Driver) SetBlend(v float32) {
	switch {
	case v != v || v < 0:
		v = 0
	case v > 1:
		v = 1
	}
	d.blend = v
}

// Blend returns the current blend factor
func (d *Driver) Blend() float32 { return d.blend }

// Stats returns frame statistics
func (d *Driver) Stats() Stats { return d.stats }

// Bound reports whether surface buffers are registered
func (d *Driver) Bound() bool { return d.bound }

// Handle returns the registration of a surface buffer, 0 when unbound
func (d *Driver) Handle(r Role) interop.Handle { return d.handles[r] }

// BoundTo reports whether the current registrations cover exactly the
// buffers and size of s. A surface that reallocated its buffers since the
// last bind needs ResizeBuffers.
func (d *Driver) BoundTo(s Surface) bool {
	if !d.bound || d.width != s.TexWidth() || d.height != s.TexHeight() {
		return false
	}
	return d.ids == bufferIDs(surfaceBuffers(s))
}

func surfaceBuffers(s Surface) [numRoles]interop.PixelBuffer {
	return [numRoles]interop.PixelBuffer{s.ColorBuffer(), s.AlbedoBuffer(), s.NormalBuffer()}
}

func bufferIDs(bufs [numRoles]interop.PixelBuffer) [numRoles]uint32 {
	var ids [numRoles]uint32
	for role, buf := range bufs {
		if buf != nil {
			ids[role] = buf.ID()
		}
	}
	return ids
}

// BindBuffers registers the surface buffers and sets the pipeline up for
// the surface size. Registrations from a previous bind are released first.
func (d *Driver) BindBuffers(s Surface) error {
	if d.closed {
		return ErrClosed
	}
	if err := d.unbind(); err != nil {
		return err
	}

	w, h := s.TexWidth(), s.TexHeight()
	bufs := surfaceBuffers(s)
	for role, buf := range bufs {
		if buf == nil {
			return fmt.Errorf("%w: surface has no %s buffer", interop.ErrRegistration, Role(role))
		}
		if buf.Width() != w || buf.Height() != h {
			return fmt.Errorf("%w: %s buffer is %dx%d, surface is %dx%d",
				interop.ErrRegistration, Role(role), buf.Width(), buf.Height(), w, h)
		}
	}

	for role, buf := range bufs {
		mode := interop.ReadOnly
		if Role(role) == RoleColor {
			mode = interop.ReadWrite
		}
		handle, err := d.manager.Register(buf, mode)
		if err != nil {
			d.unbind()
			return fmt.Errorf("registering %s buffer: %w", Role(role), err)
		}
		d.handles[role] = handle
	}
	d.ids = bufferIDs(bufs)
	d.bound = true

	// Catch size mismatches now rather than on the first frame
	probe, err := d.manager.Acquire(d.handles[:]...)
	if err != nil {
		d.unbind()
		return fmt.Errorf("validating buffers: %w", err)
	}
	if err := probe.Release(); err != nil {
		d.unbind()
		return fmt.Errorf("validating buffers: %w", err)
	}

	if err := d.pipeline.Setup(w, h); err != nil {
		d.unbind()
		return err
	}
	d.width, d.height = w, h

	d.log.WithFields(logrus.Fields{
		"width":  w,
		"height": h,
		"live":   d.manager.Live(),
	}).Info("bound surface buffers")

	return nil
}

// ResizeBuffers rebinds after the renderer reallocated its buffers. It
// refuses to run while a frame holds mappings and waits for the device to
// go idle first.
func (d *Driver) ResizeBuffers(s Surface) error {
	if d.closed {
		return ErrClosed
	}
	if (d.scope != nil && !d.scope.Released()) || d.manager.Outstanding() > 0 {
		return ErrMappingOutstanding
	}
	if err := d.dev.Sync(); err != nil {
		return fmt.Errorf("waiting for device: %w", err)
	}
	return d.BindBuffers(s)
}

// DenoiseFrame filters the color buffer in place. On return every mapping
// is released and the device is idle.
func (d *Driver) DenoiseFrame() (err error) {
	if d.closed {
		return ErrClosed
	}
	if !d.bound {
		return ErrNotBound
	}
	start := time.Now()

	scope, err := d.manager.Acquire(d.handles[:]...)
	if err != nil {
		return fmt.Errorf("mapping frame buffers: %w", err)
	}
	d.scope = scope

	// The renderer may touch the color buffer once the device is idle, on
	// every path out of here
	finished := false
	finish := func() error {
		finished = true
		d.scope = nil
		var errs []error
		if err := scope.Release(); err != nil {
			errs = append(errs, fmt.Errorf("unmapping frame buffers: %w", err))
		}
		if err := d.dev.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("waiting for device: %w", err))
		}
		return errors.Join(errs...)
	}
	defer func() {
		if finished {
			return
		}
		if ferr := finish(); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}()

	var layers [numRoles]denoise.Image2D
	for role := range layers {
		layers[role] = denoise.NewImage2D(scope.Mapping(role).Buffer, d.width, d.height)
	}
	output := layers[RoleColor]
	output.InPlace = true

	intensity, err := d.pipeline.ComputeIntensity(layers[RoleColor])
	if err != nil {
		return err
	}

	params := denoise.Params{
		DenoiseAlpha: false,
		HDRIntensity: d.pipeline.IntensityBuffer(),
		BlendFactor:  d.blend,
	}
	n := d.pipeline.Options().Inputs.Layers()
	if err := d.pipeline.Invoke(layers[:n], output, params); err != nil {
		return err
	}

	if err := finish(); err != nil {
		return err
	}

	d.stats.Frames++
	d.stats.LastIntensity = intensity
	d.stats.LastDuration = time.Since(start)

	d.log.WithFields(logrus.Fields{
		"frame":     d.stats.Frames,
		"intensity": intensity,
		"blend":     d.blend,
		"duration":  d.stats.LastDuration,
	}).Debug("denoised frame")

	return nil
}

// Close releases all registrations and destroys the pipeline
func (d *Driver) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return errors.Join(d.unbind(), d.pipeline.Destroy())
}

func (d *Driver) unbind() error {
	var errs []error
	for role, h := range d.handles {
		if h != 0 {
			errs = append(errs, d.manager.Unregister(h))
			d.handles[role] = 0
		}
	}
	d.ids = [numRoles]uint32{}
	d.bound = false
	d.width, d.height = 0, 0
	return errors.Join(errs...)
}
