// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dbg drives a native debugging engine from Go. A Session owns the
// event dispatcher, the breakpoint registry, an output collector and a
// typed view of target memory. Function interceptors build entry and exit
// hooks out of the engine's single-address breakpoints.
package dbg

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultWaitTimeout is used by WaitForEvent when neither the caller nor
// the configuration supplies a timeout.
const DefaultWaitTimeout = time.Second

// Config holds session settings.
type Config struct {
	Logger          zerolog.Logger
	WaitTimeout     time.Duration
	SymbolPath      string
	InitialInterest InterestMask
}

// A Session is the controller for one engine. Use one goroutine to wait
// for events; handlers run on that goroutine.
type Session struct {
	mu          sync.Mutex
	engine      Engine
	log         zerolog.Logger
	waitTimeout time.Duration
	dispatcher  *Dispatcher
	registry    *Registry
	output      OutputCollector
	memory      *AddressSpace
}

// NewSession attaches a session to an engine. It installs the output
// callback, the symbol path and the initial interest mask.
func NewSession(e Engine, cfg Config) (*Session, error) {
	s := &Session{
		engine:      e,
		log:         cfg.Logger,
		waitTimeout: cfg.WaitTimeout,
		memory:      NewAddressSpace(e),
	}
	if s.waitTimeout <= 0 {
		s.waitTimeout = DefaultWaitTimeout
	}
	s.registry = newRegistry(&s.mu, e, s.log.With().Str("component", "registry").Logger())
	s.dispatcher = newDispatcher(&s.mu, e, s.registry, &s.output, s.log.With().Str("component", "dispatcher").Logger())

	e.SetOutputCallback(s.onOutput)

	symbolPath := cfg.SymbolPath
	if symbolPath == "" {
		symbolPath = DefaultSymbolPath
	}
	if err := e.SetSymbolPath(symbolPath); err != nil {
		return nil, errors.Wrap(err, "new session")
	}
	if err := s.dispatcher.SetInterestMask(cfg.InitialInterest); err != nil {
		return nil, errors.Wrap(err, "new session")
	}
	return s, nil
}

// onOutput receives command output on the goroutine running the command.
func (s *Session) onOutput(text string) {
	s.output.Append(text)
	s.dispatcher.Dispatch(&OutputEvent{Text: text})
}

// Engine returns the engine the session drives.
func (s *Session) Engine() Engine {
	return s.engine
}

// Logger returns the session logger.
func (s *Session) Logger() zerolog.Logger {
	return s.log
}

// Dispatcher returns the session's event dispatcher.
func (s *Session) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Breakpoints returns the session's breakpoint registry.
func (s *Session) Breakpoints() *Registry {
	return s.registry
}

// Memory returns a typed view of target memory.
func (s *Session) Memory() *AddressSpace {
	return s.memory
}

// Output returns the session's output collector.
func (s *Session) Output() *OutputCollector {
	return &s.output
}

// Execute runs an engine command and returns the output it produced.
func (s *Session) Execute(command string) ([]string, error) {
	return s.output.Collect(func() error {
		return s.engine.Execute(command)
	})
}

// Spawn starts a new process under the debugger.
func (s *Session) Spawn(cmdline string, opts SpawnOptions) error {
	return s.engine.Spawn(cmdline, opts)
}

// Attach debugs a running process.
func (s *Session) Attach(pid uint32, flags AttachFlags) error {
	return s.engine.Attach(pid, flags)
}

// Detach stops debugging the target and lets it run.
func (s *Session) Detach() error {
	return s.engine.Detach()
}

// Terminate kills the target.
func (s *Session) Terminate() error {
	return s.engine.Terminate()
}

// OpenDump loads a dump file as the target.
func (s *Session) OpenDump(path string) error {
	return s.engine.OpenDump(path)
}

// WriteDump saves the target's state to a dump file.
func (s *Session) WriteDump(path string, mode DumpMode) error {
	return s.engine.WriteDump(path, mode)
}

// SetSymbolPath replaces the engine's symbol search path.
func (s *Session) SetSymbolPath(path string) error {
	return s.engine.SetSymbolPath(path)
}

// ReadRegister returns a register of the current thread.
func (s *Session) ReadRegister(name string) (uint64, error) {
	return s.engine.ReadRegister(name)
}

// WriteRegister changes a register of the current thread.
func (s *Session) WriteRegister(name string, v uint64) error {
	return s.engine.WriteRegister(name, v)
}

// RegisterNames returns the names of the current thread's registers.
func (s *Session) RegisterNames() ([]string, error) {
	names, err := s.engine.RegisterNames()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Registers returns every register of the current thread by name.
func (s *Session) Registers() (map[string]uint64, error) {
	names, err := s.engine.RegisterNames()
	if err != nil {
		return nil, err
	}
	regs := make(map[string]uint64, len(names))
	for _, name := range names {
		v, err := s.engine.ReadRegister(name)
		if err != nil {
			return nil, err
		}
		regs[name] = v
	}
	return regs, nil
}

// PointerSize returns the target's pointer width in bytes.
func (s *Session) PointerSize() (int, error) {
	return s.memory.PointerSize()
}

// Breakpoint parses location and installs an enabled code breakpoint
// bound to cb. Breakpoint events are added to the interest mask.
func (s *Session) Breakpoint(location string, cb BreakpointCallback) (*Breakpoint, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.AddInterest(InterestBreakpoint); err != nil {
		return nil, err
	}
	return s.registry.CreateCodeBreakpoint(loc, BreakpointOptions{Callback: cb})
}

// Watchpoint parses location and mode and installs an enabled data
// breakpoint bound to cb. Breakpoint events are added to the interest
// mask.
func (s *Session) Watchpoint(location string, size uint32, mode string, cb BreakpointCallback) (*Breakpoint, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}
	access, err := ParseAccessMode(mode)
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.AddInterest(InterestBreakpoint); err != nil {
		return nil, err
	}
	return s.registry.CreateWatchpoint(loc, size, access, BreakpointOptions{Callback: cb})
}

// SetEventHandler installs h for kind and adds the kind's interest bit, so
// the engine starts reporting it.
func (s *Session) SetEventHandler(kind EventKind, h Handler) error {
	if err := s.dispatcher.SetHandler(kind, h); err != nil {
		return err
	}
	if bit := kind.Interest(); bit != 0 && h != nil {
		return s.dispatcher.AddInterest(bit)
	}
	return nil
}

// AddInterest sets bits in the interest mask.
func (s *Session) AddInterest(bits InterestMask) error {
	return s.dispatcher.AddInterest(bits)
}

// SetInterestMask replaces the interest mask.
func (s *Session) SetInterestMask(mask InterestMask) error {
	return s.dispatcher.SetInterestMask(mask)
}

// HasInterest reports whether every bit in bits is set in the mask.
func (s *Session) HasInterest(bits InterestMask) bool {
	return s.dispatcher.HasInterest(bits)
}

// WaitForEvent blocks until the engine reports one event and the event has
// been dispatched, or until timeout elapses. A timeout of zero or less
// uses the configured default. Expiry returns an error matching
// ErrTimeout.
func (s *Session) WaitForEvent(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.waitTimeout
	}
	return s.engine.WaitForEvent(timeout, s.dispatcher)
}

// Close removes every breakpoint the session registered, clears the
// interest mask and detaches the output callback.
func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.registry.Clear(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.dispatcher.SetInterestMask(0); err != nil {
		result = multierror.Append(result, err)
	}
	s.engine.SetOutputCallback(nil)
	return result.ErrorOrNil()
}
