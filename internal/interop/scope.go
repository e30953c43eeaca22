package interop

import (
	"errors"
	"fmt"
)

// Scope holds the mappings of a set of handles. Release unmaps all of them
// and may be called any number of times, so it can be deferred right after
// a successful Acquire.
type Scope struct {
	m        *Manager
	handles  []Handle
	mappings []Mapping
	released bool
}

// Acquire maps every handle in order. If any map fails, the handles already
// mapped are unmapped before returning.
func (m *Manager) Acquire(handles ...Handle) (*Scope, error) {
	s := &Scope{
		m:        m,
		handles:  make([]Handle, 0, len(handles)),
		mappings: make([]Mapping, 0, len(handles)),
	}
	for _, h := range handles {
		mp, err := m.Map(h)
		if err != nil {
			if rerr := s.Release(); rerr != nil {
				err = errors.Join(err, rerr)
			}
			return nil, err
		}
		s.handles = append(s.handles, h)
		s.mappings = append(s.mappings, mp)
	}
	return s, nil
}

// Mapping returns the i-th mapping in Acquire order
func (s *Scope) Mapping(i int) Mapping {
	if s.released {
		panic(fmt.Sprintf("interop: mapping %d used after scope release", i))
	}
	return s.mappings[i]
}

// Len returns the number of mappings held
func (s *Scope) Len() int {
	return len(s.mappings)
}

// Released reports whether Release has run
func (s *Scope) Released() bool {
	return s.released
}

// Release unmaps everything in reverse order
func (s *Scope) Release() error {
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	for i := len(s.handles) - 1; i >= 0; i-- {
		if err := s.m.Unmap(s.handles[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
