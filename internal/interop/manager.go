package interop

import (
	"errors"
	"fmt"

	"github.com/harskish/Fluctus/internal/gpu"
	"github.com/harskish/Fluctus/internal/logging"
	"github.com/sirupsen/logrus"
)

// Handle identifies a registration. The zero Handle is never valid.
type Handle uint32

// Mapping is a device-visible view of a registered buffer
type Mapping struct {
	Buffer gpu.Buffer
	Size   int64
}

// Options configures a Manager
type Options struct {
	// StrictSize turns a registered-size mismatch into a Map failure.
	// When false the mismatch is only logged.
	StrictSize bool
}

type registration struct {
	buf    PixelBuffer
	mode   AccessMode
	res    Resource
	mapped gpu.Buffer
}

// Manager tracks registrations and their mappings. It is not safe for
// concurrent use; one goroutine owns the whole denoise pipeline.
type Manager struct {
	registrar Registrar
	opts      Options
	next      Handle
	regs      map[Handle]*registration
	byID      map[uint32]Handle
	log       *logrus.Entry
}

// NewManager returns a Manager that registers buffers through r
func NewManager(r Registrar, opts Options) *Manager {
	return &Manager{
		registrar: r,
		opts:      opts,
		regs:      make(map[Handle]*registration),
		byID:      make(map[uint32]Handle),
		log:       logging.Component("interop"),
	}
}

// Register binds buf for access from the compute device
func (m *Manager) Register(buf PixelBuffer, mode AccessMode) (Handle, error) {
	if buf == nil {
		return 0, fmt.Errorf("%w: nil buffer", ErrRegistration)
	}
	if h, ok := m.byID[buf.ID()]; ok {
		return 0, fmt.Errorf("%w: buffer %d already registered as handle %d", ErrRegistration, buf.ID(), h)
	}
	if buf.Width() <= 0 || buf.Height() <= 0 {
		return 0, fmt.Errorf("%w: buffer %d has invalid dimensions %dx%d",
			ErrRegistration, buf.ID(), buf.Width(), buf.Height())
	}

	res, err := m.registrar.Register(buf, mode)
	if err != nil {
		return 0, fmt.Errorf("%w: buffer %d (%s): %v", ErrRegistration, buf.ID(), mode, err)
	}

	m.next++
	h := m.next
	m.regs[h] = &registration{buf: buf, mode: mode, res: res}
	m.byID[buf.ID()] = h

	m.log.WithFields(logrus.Fields{
		"handle": h,
		"buffer": buf.ID(),
		"mode":   mode,
		"width":  buf.Width(),
		"height": buf.Height(),
	}).Debug("registered pixel buffer")

	return h, nil
}

// Map returns a device-visible view of the buffer behind h. The view is
// valid until Unmap(h).
func (m *Manager) Map(h Handle) (Mapping, error) {
	reg, ok := m.regs[h]
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %w %d", ErrMap, ErrUnknownHandle, h)
	}
	if reg.mapped != nil {
		return Mapping{}, fmt.Errorf("%w: handle %d is already mapped", ErrMap, h)
	}

	buf, err := reg.res.Map()
	if err != nil {
		return Mapping{}, fmt.Errorf("%w: handle %d: %v", ErrMap, h, err)
	}

	size := buf.Size()
	if expected := ExpectedSize(reg.buf); size != expected {
		if m.opts.StrictSize {
			if uerr := reg.res.Unmap(); uerr != nil {
				m.log.WithError(uerr).Warn("unmapping rejected buffer")
			}
			return Mapping{}, fmt.Errorf("%w: handle %d maps %d bytes, expected %d (%dx%d)",
				ErrSizeMismatch, h, size, expected, reg.buf.Width(), reg.buf.Height())
		}
		m.log.WithFields(logrus.Fields{
			"handle":   h,
			"mapped":   size,
			"expected": expected,
		}).Warn("mapped buffer size mismatch")
	}

	reg.mapped = buf
	return Mapping{Buffer: buf, Size: size}, nil
}

// Unmap releases the mapping of h. The buffer returned by Map must not be
// used afterwards.
func (m *Manager) Unmap(h Handle) error {
	reg, ok := m.regs[h]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownHandle, h)
	}
	if reg.mapped == nil {
		return fmt.Errorf("%w: handle %d", ErrNotMapped, h)
	}

	reg.mapped = nil
	if err := reg.res.Unmap(); err != nil {
		return fmt.Errorf("unmapping handle %d: %w", h, err)
	}
	return nil
}

// Unregister drops the registration of h, unmapping it first if needed
func (m *Manager) Unregister(h Handle) error {
	reg, ok := m.regs[h]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownHandle, h)
	}

	var errs []error
	if reg.mapped != nil {
		errs = append(errs, m.Unmap(h))
	}
	errs = append(errs, reg.res.Unregister())

	delete(m.regs, h)
	delete(m.byID, reg.buf.ID())

	m.log.WithField("handle", h).Debug("unregistered pixel buffer")

	return errors.Join(errs...)
}

// Mapped reports whether h currently has an outstanding mapping
func (m *Manager) Mapped(h Handle) bool {
	reg, ok := m.regs[h]
	return ok && reg.mapped != nil
}

// Outstanding returns the number of mapped registrations
func (m *Manager) Outstanding() int {
	n := 0
	for _, reg := range m.regs {
		if reg.mapped != nil {
			n++
		}
	}
	return n
}

// Live returns the number of registrations
func (m *Manager) Live() int {
	return len(m.regs)
}

// Close unregisters everything
func (m *Manager) Close() error {
	var errs []error
	for h := range m.regs {
		errs = append(errs, m.Unregister(h))
	}
	return errors.Join(errs...)
}
