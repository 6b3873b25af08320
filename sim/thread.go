// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"strings"

	"github.com/beevik/buggery/dbg"
	"golang.org/x/sync/errgroup"
)

// Exception codes raised by the simulated process.
const (
	ExceptionAccessViolation uint32 = 0xc0000005
	ExceptionBreakpoint      uint32 = 0x80000003
	ExceptionSingleStep      uint32 = 0x80000004
)

// A Thread is a simulated target thread. Its methods are called from the
// goroutine running the thread's body and block while the engine reports a
// stop to the session.
type Thread struct {
	e         *Engine
	id        dbg.ThreadID
	regs      Registers
	stackBase uint64
	exited    bool
}

// ID returns the thread's id.
func (t *Thread) ID() dbg.ThreadID {
	return t.id
}

// Reg returns the value of the named register.
func (t *Thread) Reg(name string) (uint64, error) {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()

	v, ok := t.regs.Get(t.e.width, strings.ToLower(name))
	if !ok {
		return 0, dbg.NewError(dbg.BadRegister, "read register", "unknown register %q", name)
	}
	return v, nil
}

// SetReg assigns the named register.
func (t *Thread) SetReg(name string, v uint64) error {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()

	if !t.regs.Set(t.e.width, strings.ToLower(name), v) {
		return dbg.NewError(dbg.BadRegister, "write register", "unknown register %q", name)
	}
	return nil
}

// PC returns the instruction pointer.
func (t *Thread) PC() uint64 {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	return t.regs.ip(t.e.width)
}

// SP returns the stack pointer.
func (t *Thread) SP() uint64 {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	return t.regs.sp(t.e.width)
}

// SetPC moves the instruction pointer without executing anything.
func (t *Thread) SetPC(pc uint64) {
	t.e.mu.Lock()
	t.regs.RIP = pc & maskFor(t.e.width)
	t.e.mu.Unlock()
}

// Step moves the instruction pointer to pc and executes there, stopping at
// any code breakpoint.
func (t *Thread) Step(pc uint64) {
	t.SetPC(pc)
	t.reach(pc)
}

// Call pushes a return address, enters the function at fn and runs body as
// the function's code. The value body returns lands in the return register
// before the function returns to its caller.
func (t *Thread) Call(fn uint64, body func(t *Thread) (uint64, error)) (uint64, error) {
	e := t.e

	e.mu.Lock()
	w := e.width
	ret := t.regs.ip(w) + callLength
	sp := t.regs.sp(w) - uint64(w)
	if !e.mem.StoreAddress(sp, w, ret) {
		e.mu.Unlock()
		return 0, t.fault(sp, dbg.AccessWrite)
	}
	t.regs.RSP = sp
	t.regs.RIP = fn & maskFor(w)
	e.mu.Unlock()

	t.reach(fn)

	var result uint64
	if body != nil {
		v, err := body(t)
		if err != nil {
			return 0, err
		}
		result = v
	}

	e.mu.Lock()
	t.regs.RAX = result & maskFor(w)
	sp = t.regs.sp(w)
	addr, ok := e.mem.LoadAddress(sp, w)
	if !ok {
		e.mu.Unlock()
		return 0, t.fault(sp, dbg.AccessRead)
	}
	t.regs.RSP = sp + uint64(w)
	t.regs.RIP = addr
	e.mu.Unlock()

	t.reach(addr)
	return result, nil
}

// Load reads n bytes of target memory, stopping at any data breakpoint the
// read touches.
func (t *Thread) Load(addr uint64, n int) ([]byte, error) {
	e := t.e
	b := make([]byte, n)

	e.mu.Lock()
	e.resolveLocked()
	got := e.mem.LoadBytes(addr, b)
	hits := e.debugger.triggered(t.id, addr, uint64(n), dbg.AccessRead)
	e.mu.Unlock()

	t.deliver(hits)
	if got != n {
		return b[:got], t.fault(addr+uint64(got), dbg.AccessRead)
	}
	return b, nil
}

// Store writes b to target memory, stopping at any data breakpoint the
// write touches.
func (t *Thread) Store(addr uint64, b []byte) error {
	e := t.e

	e.mu.Lock()
	e.resolveLocked()
	got := e.mem.StoreBytes(addr, b)
	hits := e.debugger.triggered(t.id, addr, uint64(len(b)), dbg.AccessWrite)
	e.mu.Unlock()

	t.deliver(hits)
	if got != len(b) {
		return t.fault(addr+uint64(got), dbg.AccessWrite)
	}
	return nil
}

// Raise reports a first-chance exception at the current instruction and
// returns the session's verdict.
func (t *Thread) Raise(code uint32, params ...uint64) dbg.Status {
	rec := dbg.ExceptionRecord{
		Code:       code,
		Address:    t.PC(),
		Parameters: params,
	}
	return t.report(dbg.Notification{
		Kind:        dbg.EventException,
		Exception:   rec,
		FirstChance: true,
	}, "")
}

// Print sends debug output from the target. The thread stops until the
// session has taken the output.
func (t *Thread) Print(text string) {
	t.report(dbg.Notification{Kind: dbg.EventOutput, Text: text}, "")
}

// Exit ends the thread. The exit of the last thread ends the process.
func (t *Thread) Exit(code uint32) {
	e := t.e
	e.mu.Lock()
	defer e.mu.Unlock()

	if t.exited {
		return
	}
	t.exited = true
	delete(e.threads, t.id)
	if e.current == t {
		e.current = nil
	}
	e.postLocked(dbg.Notification{Kind: dbg.EventExitThread, Thread: t.id, ExitCode: code})
	if len(e.threads) == 0 && e.process != nil {
		e.exitCode, e.exited = code, true
		e.postLocked(dbg.Notification{Kind: dbg.EventExitProcess, Thread: t.id, ExitCode: code})
	}
}

func (t *Thread) fault(addr uint64, access dbg.AccessMode) error {
	kind := uint64(0)
	if access == dbg.AccessWrite {
		kind = 1
	}
	t.Raise(ExceptionAccessViolation, kind, addr)
	return dbg.NewError(dbg.EngineFailure, "access memory", "access violation at 0x%x", addr)
}

// reach executes at pc, stopping at every code breakpoint there.
func (t *Thread) reach(pc uint64) {
	e := t.e
	e.mu.Lock()
	e.resolveLocked()
	hits := e.debugger.triggered(t.id, pc, 1, dbg.AccessExecute)
	e.mu.Unlock()
	t.deliver(hits)
}

// deliver reports each hit in turn. A breakpoint removed while an earlier
// hit was being handled no longer reports.
func (t *Thread) deliver(hits []hit) {
	for _, h := range hits {
		if !h.oneShot {
			t.e.mu.Lock()
			_, ok := t.e.debugger.get(h.id)
			t.e.mu.Unlock()
			if !ok {
				continue
			}
		}
		t.report(dbg.Notification{Kind: dbg.EventBreakpoint, Breakpoint: h.id}, h.command)
	}
}

// report stops the thread until the session has handled n.
func (t *Thread) report(n dbg.Notification, command string) dbg.Status {
	e := t.e
	e.mu.Lock()
	n.Process = e.pidLocked()
	e.mu.Unlock()
	n.Thread = t.id

	s := &stop{n: n, thread: t, command: command, resume: make(chan dbg.Status, 1)}
	e.stops <- s
	return <-s.resume
}

// Run starts a new thread for each body and waits for all of them. Each
// thread exits with code 0 when its body returns. The first error returned
// by a body is returned.
func (e *Engine) Run(bodies ...func(t *Thread) error) error {
	threads := make([]*Thread, len(bodies))
	for i := range bodies {
		t, err := e.NewThread(0)
		if err != nil {
			return err
		}
		threads[i] = t
	}

	var g errgroup.Group
	for i, body := range bodies {
		t := threads[i]
		g.Go(func() error {
			defer t.Exit(0)
			return body(t)
		})
	}
	return g.Wait()
}
