// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// A Handler processes one category of event. Returning a zero Status means
// Handled. A handler that fails, by returning an error or by panicking,
// resolves the event as Ignore.
type Handler func(ev Event) (Status, error)

// A Dispatcher routes typed events to the handler registered for their
// kind and owns the interest mask pushed to the engine.
type Dispatcher struct {
	mu       *sync.Mutex
	engine   Engine
	reg      *Registry
	output   *OutputCollector
	log      zerolog.Logger
	handlers [numEventKinds]Handler
	mask     InterestMask
}

func newDispatcher(mu *sync.Mutex, e Engine, reg *Registry, output *OutputCollector, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		mu:     mu,
		engine: e,
		reg:    reg,
		output: output,
		log:    log,
	}
}

// SetHandler installs h as the handler for kind, replacing any previous
// handler. A nil handler clears the slot. The interest mask is unchanged.
func (d *Dispatcher) SetHandler(kind EventKind, h Handler) error {
	if kind >= numEventKinds {
		return NewError(InvalidArgument, "set handler", "unknown event kind %d", kind)
	}
	d.mu.Lock()
	d.handlers[kind] = h
	d.mu.Unlock()
	return nil
}

// Handler returns the handler installed for kind, or nil.
func (d *Dispatcher) Handler(kind EventKind) Handler {
	if kind >= numEventKinds {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[kind]
}

// InterestMask returns the current interest mask.
func (d *Dispatcher) InterestMask() InterestMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mask
}

// HasInterest reports whether every bit in bits is set in the mask.
func (d *Dispatcher) HasInterest(bits InterestMask) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mask&bits == bits
}

// AddInterest sets bits in the interest mask and pushes the result to the
// engine.
func (d *Dispatcher) AddInterest(bits InterestMask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMaskLocked(d.mask | bits)
}

// SetInterestMask replaces the interest mask and pushes it to the engine.
func (d *Dispatcher) SetInterestMask(mask InterestMask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setMaskLocked(mask)
}

func (d *Dispatcher) setMaskLocked(mask InterestMask) error {
	if mask&^InterestAll != 0 {
		return NewError(InvalidArgument, "set interest mask", "invalid interest bits 0x%x", uint32(mask&^InterestAll))
	}
	if err := d.engine.SetInterestMask(mask); err != nil {
		return err
	}
	d.mask = mask
	return nil
}

// Notify translates a raw engine notification and dispatches it. Target
// output is also appended to the session's output collector.
func (d *Dispatcher) Notify(n *Notification) Status {
	switch n.Kind {
	case EventInterestMask:
		n.Interest = d.InterestMask()
		return Handled
	case EventOutput:
		if d.output != nil {
			d.output.Append(n.Text)
		}
	}

	ev, err := translate(n, d.reg)
	if err != nil {
		d.log.Error().Err(err).Uint8("kind", uint8(n.Kind)).Msg("dropping notification")
		return Ignore
	}
	return d.Dispatch(ev)
}

// Dispatch runs the handler for ev and returns the outcome. Breakpoint
// events go first to the callback bound to their breakpoint; without one,
// the breakpoint handler runs if breakpoint events are of interest. Events
// with no handler are Handled.
func (d *Dispatcher) Dispatch(ev Event) Status {
	kind := ev.Kind()
	if kind >= numEventKinds {
		return Ignore
	}

	switch ev := ev.(type) {
	case *InterestMaskEvent:
		ev.Mask = d.InterestMask()
		return Handled

	case *BreakpointEvent:
		if ev.Breakpoint != nil {
			if cb := d.reg.take(ev.Breakpoint); cb != nil {
				return d.invoke(ev, func() (Status, error) { return cb(ev) })
			}
		}
		if !d.HasInterest(InterestBreakpoint) {
			return Handled
		}
	}

	d.mu.Lock()
	h := d.handlers[kind]
	d.mu.Unlock()

	if h == nil {
		return Handled
	}
	return d.invoke(ev, func() (Status, error) { return h(ev) })
}

// invoke calls fn without holding the session mutex, so that handlers may
// install and remove breakpoints. Failures are logged and resolve Ignore.
func (d *Dispatcher) invoke(ev Event, fn func() (Status, error)) (status Status) {
	defer func() {
		if r := recover(); r != nil {
			d.logFailure(ev, errors.Errorf("panic: %v", r))
			status = Ignore
		}
	}()

	status, err := fn()
	if err != nil {
		d.logFailure(ev, err)
		return Ignore
	}
	if status > Ignore {
		d.logFailure(ev, errors.Errorf("invalid status %d", uint8(status)))
		return Ignore
	}
	return status
}

func (d *Dispatcher) logFailure(ev Event, err error) {
	le := d.log.Error().Err(err).Stringer("kind", ev.Kind())
	switch ev := ev.(type) {
	case *BreakpointEvent:
		if ev.Breakpoint != nil {
			le = le.Uint32("breakpoint", uint32(ev.Breakpoint.ID()))
		}
		le = le.Uint32("thread", uint32(ev.Thread))
	case *ExceptionEvent:
		le = le.Uint32("thread", uint32(ev.Thread)).Uint32("code", ev.Code)
	}
	le.Msg("event handler failed")
}
