// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// A Call describes one intercepted invocation of a function.
type Call struct {
	Thread        ThreadID // thread making the call
	Depth         int      // invocations already pending on the thread
	StackPointer  uint64   // stack pointer at function entry
	ReturnAddress uint64   // where the function returns to
}

// EnterFunc runs when an intercepted function is entered. Its result is
// handed to the matching ExitFunc.
type EnterFunc[T any] func(c *Call) (T, error)

// ExitFunc runs when an intercepted function returns, with the value of
// the return register.
type ExitFunc[T any] func(c *Call, ret uint64, bundle T) error

type frameRegs struct {
	sp  string
	ret string
}

var frameRegisters = map[int]frameRegs{
	4: {sp: "esp", ret: "eax"},
	8: {sp: "rsp", ret: "rax"},
}

type frame[T any] struct {
	call   Call
	bundle T
	exit   *Breakpoint
}

// An Interceptor hooks both the entry and the exit of a function. A
// persistent breakpoint at the entry runs the enter hook and plants a
// one-shot breakpoint at the return address, restricted to the calling
// thread. That breakpoint runs the exit hook.
//
// Concurrent calls on different threads each get their own exit trap.
// Recursive calls on one thread stack up; each exit trap checks the stack
// pointer so that a deeper frame returning to the same address does not
// complete an outer one.
type Interceptor[T any] struct {
	s        *Session
	location Location
	onEnter  EnterFunc[T]
	onExit   ExitFunc[T]
	log      zerolog.Logger

	mu     sync.Mutex
	entry  *Breakpoint
	frames map[ThreadID][]*frame[T]
}

// NewInterceptor prepares an interceptor for the function at location.
// Either hook may be nil. Call Inject to activate it.
func NewInterceptor[T any](s *Session, location string, onEnter EnterFunc[T], onExit ExitFunc[T]) (*Interceptor[T], error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	return &Interceptor[T]{
		s:        s,
		location: loc,
		onEnter:  onEnter,
		onExit:   onExit,
		log:      s.log.With().Str("component", "interceptor").Stringer("function", loc).Logger(),
		frames:   make(map[ThreadID][]*frame[T]),
	}, nil
}

// HookFunction creates and injects an interceptor.
func HookFunction[T any](s *Session, location string, onEnter EnterFunc[T], onExit ExitFunc[T]) (*Interceptor[T], error) {
	h, err := NewInterceptor(s, location, onEnter, onExit)
	if err != nil {
		return nil, err
	}
	if err := h.Inject(); err != nil {
		return nil, err
	}
	return h, nil
}

// Location returns the intercepted function's location.
func (h *Interceptor[T]) Location() Location {
	return h.location
}

// Inject installs the entry breakpoint. Injecting twice is a no-op.
func (h *Interceptor[T]) Inject() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.entry != nil {
		return nil
	}
	if err := h.s.AddInterest(InterestBreakpoint); err != nil {
		return err
	}
	bp, err := h.s.registry.CreateCodeBreakpoint(h.location, BreakpointOptions{Callback: h.onEntry})
	if err != nil {
		return err
	}
	h.entry = bp
	return nil
}

// Injected reports whether the entry breakpoint is installed.
func (h *Interceptor[T]) Injected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entry != nil
}

// Remove uninstalls the entry breakpoint. Calls already in progress still
// run their exit hooks when they return.
func (h *Interceptor[T]) Remove() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeEntryLocked()
}

// RemoveAll uninstalls the entry breakpoint and every pending exit trap.
// Exit hooks of calls in progress will not run.
func (h *Interceptor[T]) RemoveAll() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var result *multierror.Error
	if err := h.removeEntryLocked(); err != nil {
		result = multierror.Append(result, err)
	}
	for tid, frames := range h.frames {
		for _, f := range frames {
			if err := f.exit.Remove(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		delete(h.frames, tid)
	}
	return result.ErrorOrNil()
}

func (h *Interceptor[T]) removeEntryLocked() error {
	if h.entry == nil {
		return nil
	}
	if err := h.entry.Remove(); err != nil {
		return err
	}
	h.entry = nil
	return nil
}

// Pending returns the number of calls that have entered but not yet
// returned.
func (h *Interceptor[T]) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, frames := range h.frames {
		n += len(frames)
	}
	return n
}

func (h *Interceptor[T]) frameRegs() (frameRegs, int, error) {
	width, err := h.s.memory.PointerSize()
	if err != nil {
		return frameRegs{}, 0, err
	}
	regs, ok := frameRegisters[width]
	if !ok {
		return frameRegs{}, 0, NewError(EngineFailure, "intercept", "unsupported pointer size %d", width)
	}
	return regs, width, nil
}

func (h *Interceptor[T]) onEntry(ev *BreakpointEvent) (Status, error) {
	regs, _, err := h.frameRegs()
	if err != nil {
		return Handled, err
	}
	sp, err := h.s.engine.ReadRegister(regs.sp)
	if err != nil {
		return Handled, err
	}
	ret, err := h.s.memory.ReadPointer(sp)
	if err != nil {
		return Handled, errors.Wrap(err, "read return address")
	}

	h.mu.Lock()
	depth := len(h.frames[ev.Thread])
	h.mu.Unlock()

	f := &frame[T]{
		call: Call{
			Thread:        ev.Thread,
			Depth:         depth,
			StackPointer:  sp,
			ReturnAddress: ret,
		},
	}
	if h.onEnter != nil {
		if f.bundle, err = h.onEnter(&f.call); err != nil {
			return Handled, err
		}
	}

	if err := h.arm(f); err != nil {
		return Handled, err
	}

	h.mu.Lock()
	h.frames[ev.Thread] = append(h.frames[ev.Thread], f)
	h.mu.Unlock()

	h.log.Debug().
		Uint32("thread", uint32(f.call.Thread)).
		Int("depth", f.call.Depth).
		Uint64("return", f.call.ReturnAddress).
		Msg("function entered")
	return Handled, nil
}

// arm plants the frame's exit trap at its return address.
func (h *Interceptor[T]) arm(f *frame[T]) error {
	bp, err := h.s.registry.CreateCodeBreakpoint(Address(f.call.ReturnAddress), BreakpointOptions{
		OneShot: true,
		Thread:  f.call.Thread,
		Callback: func(ev *BreakpointEvent) (Status, error) {
			return h.onReturn(f)
		},
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	f.exit = bp
	h.mu.Unlock()
	return nil
}

func (h *Interceptor[T]) onReturn(f *frame[T]) (Status, error) {
	regs, _, err := h.frameRegs()
	if err != nil {
		h.drop(f)
		return Handled, err
	}
	sp, err := h.s.engine.ReadRegister(regs.sp)
	if err != nil {
		h.drop(f)
		return Handled, err
	}

	// Returning pops at least the return address, so a stack pointer at or
	// below the entry value belongs to a deeper call.
	if sp <= f.call.StackPointer {
		if err := h.arm(f); err != nil {
			h.drop(f)
			return Handled, err
		}
		h.log.Debug().
			Uint32("thread", uint32(f.call.Thread)).
			Int("depth", f.call.Depth).
			Msg("exit trap re-armed")
		return Handled, nil
	}

	h.drop(f)
	ret, err := h.s.engine.ReadRegister(regs.ret)
	if err != nil {
		return Handled, err
	}

	h.log.Debug().
		Uint32("thread", uint32(f.call.Thread)).
		Int("depth", f.call.Depth).
		Uint64("ret", ret).
		Msg("function returned")

	if h.onExit != nil {
		if err := h.onExit(&f.call, ret, f.bundle); err != nil {
			return Handled, err
		}
	}
	return Handled, nil
}

func (h *Interceptor[T]) drop(f *frame[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	frames := h.frames[f.call.Thread]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i] == f {
			frames = append(frames[:i], frames[i+1:]...)
			break
		}
	}
	if len(frames) == 0 {
		delete(h.frames, f.call.Thread)
	} else {
		h.frames[f.call.Thread] = frames
	}
}
