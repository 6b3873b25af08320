// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim implements an in-process debugging engine over a simulated
// x86 process. Target threads are goroutines that call functions, touch
// memory and raise exceptions through a Thread handle; the engine stops
// them at breakpoints and reports notifications to a waiting session the
// way a native engine would.
package sim

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/buggery/dbg"
	"github.com/rs/zerolog"
)

const (
	imageBase32   = 0x00400000
	imageBase64   = 0x140000000
	stackRegion32 = 0x10000000
	stackRegion64 = 0x7ffe00000000
	stackSize     = 0x10000
	callLength    = 5 // length of a near call instruction
	firstThreadID = 0x1000
	firstPID      = 0x100
)

// Session status values reported with EventSessionStatus.
const (
	StatusActive   = 0
	StatusDetached = 3
	StatusEnded    = 4
)

// Config holds engine settings.
type Config struct {
	PointerWidth int // 4 or 8 bytes; 8 if unset
	QueueDepth   int // pending notification capacity
	Logger       zerolog.Logger
}

// A Module is an executable image loaded into the simulated process.
type Module struct {
	Name    string
	Image   string
	Base    uint64
	Size    uint32
	Symbols map[string]uint64 // offsets from Base
}

type process struct {
	pid         uint32
	image       string
	followForks bool
}

type stop struct {
	n       dbg.Notification
	thread  *Thread
	command string
	resume  chan dbg.Status
}

func (s *stop) done(status dbg.Status) {
	if s.resume != nil {
		s.resume <- status
	}
}

// Engine is a simulated debugging engine. It implements dbg.Engine.
type Engine struct {
	mu         sync.Mutex
	log        zerolog.Logger
	width      int
	mem        *PagedMemory
	debugger   *debugger
	symbols    map[string]uint64
	modules    []*Module
	threads    map[dbg.ThreadID]*Thread
	current    *Thread
	process    *process
	exitCode   uint32
	exited     bool
	nextTID    dbg.ThreadID
	nextPID    uint32
	stacks     int
	interest   dbg.InterestMask
	symbolPath string
	output     func(string)
	stops      chan *stop
	last       dbg.Notification
}

// New creates an engine with no target.
func New(cfg Config) *Engine {
	width := cfg.PointerWidth
	if width != 4 {
		width = 8
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1024
	}
	return &Engine{
		log:      cfg.Logger,
		width:    width,
		mem:      NewPagedMemory(),
		debugger: newDebugger(),
		symbols:  make(map[string]uint64),
		threads:  make(map[dbg.ThreadID]*Thread),
		nextTID:  firstThreadID,
		nextPID:  firstPID,
		stops:    make(chan *stop, depth),
	}
}

// Memory returns the engine's address space for direct setup.
func (e *Engine) Memory() *PagedMemory {
	return e.mem
}

// SetPointerWidth switches the target between 32-bit and 64-bit mode.
func (e *Engine) SetPointerWidth(width int) error {
	if width != 4 && width != 8 {
		return dbg.NewError(dbg.InvalidArgument, "set pointer width", "unsupported width %d", width)
	}
	e.mu.Lock()
	e.width = width
	e.mu.Unlock()
	return nil
}

// Map makes the range [base, base+size) of target memory accessible.
func (e *Engine) Map(base, size uint64) {
	e.mu.Lock()
	e.mem.Map(base, size)
	e.mu.Unlock()
}

// DefineSymbol names an address for use in location expressions.
func (e *Engine) DefineSymbol(name string, addr uint64) {
	e.mu.Lock()
	e.symbols[strings.ToLower(name)] = addr
	e.mu.Unlock()
}

// LoadModule maps an image, defines its symbols as "name!symbol" and as a
// bare "symbol", and reports the load.
func (e *Engine) LoadModule(m Module) *Module {
	e.mu.Lock()
	defer e.mu.Unlock()

	mod := m
	if mod.Image == "" {
		mod.Image = mod.Name + ".dll"
	}
	e.loadModuleLocked(&mod)

	e.postLocked(dbg.Notification{
		Kind:   dbg.EventLoadModule,
		Thread: e.currentIDLocked(),
		Module: mod.info(),
	})
	return &mod
}

func (e *Engine) loadModuleLocked(m *Module) {
	e.mem.Map(m.Base, uint64(m.Size))
	for sym, off := range m.Symbols {
		e.symbols[strings.ToLower(m.Name+"!"+sym)] = m.Base + off
		if _, ok := e.symbols[strings.ToLower(sym)]; !ok {
			e.symbols[strings.ToLower(sym)] = m.Base + off
		}
	}
	e.modules = append(e.modules, m)
}

// UnloadModule removes a module and its symbols and reports the unload.
func (e *Engine) UnloadModule(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, m := range e.modules {
		if !strings.EqualFold(m.Name, name) {
			continue
		}
		e.modules = append(e.modules[:i], e.modules[i+1:]...)
		for sym, off := range m.Symbols {
			delete(e.symbols, strings.ToLower(m.Name+"!"+sym))
			if e.symbols[strings.ToLower(sym)] == m.Base+off {
				delete(e.symbols, strings.ToLower(sym))
			}
		}
		e.mem.Unmap(m.Base, uint64(m.Size))
		e.postLocked(dbg.Notification{Kind: dbg.EventUnloadModule, Module: m.info()})
		return nil
	}
	return dbg.NewError(dbg.NotFound, "unload module", "no module named %q", name)
}

func (m *Module) info() dbg.ModuleInfo {
	return dbg.ModuleInfo{
		Base:       m.Base,
		Size:       m.Size,
		ModuleName: m.Name,
		ImageName:  m.Image,
	}
}

// NewThread creates a thread that starts at start and reports its
// creation.
func (e *Engine) NewThread(start uint64) (*Thread, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process == nil {
		return nil, dbg.NewError(dbg.EngineFailure, "new thread", "no target process")
	}
	t := e.newThreadLocked(start)
	e.postLocked(dbg.Notification{
		Kind:       dbg.EventCreateThread,
		Thread:     t.id,
		ThreadInfo: dbg.ThreadInfo{Handle: uint64(t.id), StartOffset: start},
	})
	return t, nil
}

func (e *Engine) newThreadLocked(start uint64) *Thread {
	region := uint64(stackRegion64)
	if e.width == 4 {
		region = stackRegion32
	}
	base := region + uint64(e.stacks)*2*stackSize
	e.stacks++
	e.mem.Map(base, stackSize)

	t := &Thread{e: e, id: e.nextTID, stackBase: base}
	t.regs.Init(base+stackSize-0x100, start)
	e.nextTID += 4
	e.threads[t.id] = t
	if e.current == nil {
		e.current = t
	}
	return t
}

// Thread returns the thread with the given id.
func (e *Engine) Thread(id dbg.ThreadID) (*Thread, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.threads[id]
	return t, ok
}

// Threads returns the live threads in id order.
func (e *Engine) Threads() []*Thread {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.threadsLocked()
}

func (e *Engine) threadsLocked() []*Thread {
	list := make([]*Thread, 0, len(e.threads))
	for _, t := range e.threads {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// MainThread returns the process's first live thread.
func (e *Engine) MainThread() *Thread {
	list := e.Threads()
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

// LastEvent returns the most recently delivered notification.
func (e *Engine) LastEvent() dbg.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// ExitCode returns the exit code of the last target process, if it has
// exited.
func (e *Engine) ExitCode() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitCode, e.exited
}

func (e *Engine) currentIDLocked() dbg.ThreadID {
	if e.current == nil {
		return 0
	}
	return e.current.id
}

func (e *Engine) pidLocked() uint32 {
	if e.process == nil {
		return 0
	}
	return e.process.pid
}

// postLocked queues a notification that does not stop a thread.
func (e *Engine) postLocked(n dbg.Notification) {
	n.Process = e.pidLocked()
	select {
	case e.stops <- &stop{n: n}:
	default:
		e.log.Warn().Stringer("kind", n.Kind).Msg("notification queue full")
	}
}

func (e *Engine) emit(text string) {
	e.mu.Lock()
	out := e.output
	e.mu.Unlock()
	if out != nil {
		out(text)
	}
}

// evalLocked evaluates a location expression: a number, or a symbol with
// an optional +/- offset.
func (e *Engine) evalLocked(expr string) (uint64, bool) {
	expr = strings.TrimSpace(expr)
	base, off := expr, int64(0)
	if i := strings.LastIndexAny(expr, "+-"); i > 0 {
		v, err := strconv.ParseInt(strings.TrimSpace(expr[i+1:]), 0, 64)
		if err == nil {
			base = strings.TrimSpace(expr[:i])
			off = v
			if expr[i] == '-' {
				off = -v
			}
		}
	}
	if v, err := strconv.ParseUint(base, 0, 64); err == nil {
		return uint64(int64(v) + off), true
	}
	addr, ok := e.symbols[strings.ToLower(base)]
	if !ok {
		return 0, false
	}
	return uint64(int64(addr) + off), true
}

func (e *Engine) resolveLocked() {
	e.debugger.resolve(e.evalLocked)
}

//
// dbg.Engine implementation
//

func (e *Engine) SetOutputCallback(cb func(text string)) {
	e.mu.Lock()
	e.output = cb
	e.mu.Unlock()
}

func (e *Engine) SetInterestMask(mask dbg.InterestMask) error {
	e.mu.Lock()
	e.interest = mask
	e.mu.Unlock()
	return nil
}

func (e *Engine) interested(kind dbg.EventKind) bool {
	bit := kind.Interest()
	if bit == 0 {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interest&bit != 0
}

// WaitForEvent resumes the target and delivers the next notification of
// interest to n. Thread stops that are not of interest resume immediately,
// except breakpoint stops, which are always reported.
func (e *Engine) WaitForEvent(timeout time.Duration, n dbg.Notifier) error {
	e.mu.Lock()
	e.resolveLocked()
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case s := <-e.stops:
			if s.n.Kind != dbg.EventBreakpoint && !e.interested(s.n.Kind) {
				s.done(dbg.Handled)
				continue
			}

			e.mu.Lock()
			if s.thread != nil {
				e.current = s.thread
			}
			e.last = s.n
			e.mu.Unlock()

			status := n.Notify(&s.n)
			if s.command != "" {
				if err := e.Execute(s.command); err != nil {
					e.log.Warn().Err(err).Str("command", s.command).Msg("breakpoint command failed")
				}
			}
			s.done(status)
			return nil

		case <-timer.C:
			return dbg.NewError(dbg.Timeout, "wait for event", "no event within %v", timeout)
		}
	}
}

func (e *Engine) Spawn(cmdline string, opts dbg.SpawnOptions) error {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return dbg.NewError(dbg.InvalidArgument, "spawn", "empty command line")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process != nil {
		return dbg.NewError(dbg.EngineFailure, "spawn", "already debugging process %d", e.process.pid)
	}
	image := fields[0]
	e.startProcessLocked(e.nextPID, image, opts.FollowForks)
	e.nextPID += 4
	return nil
}

func (e *Engine) Attach(pid uint32, flags dbg.AttachFlags) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process != nil {
		return dbg.NewError(dbg.EngineFailure, "attach", "already debugging process %d", e.process.pid)
	}
	if pid == 0 {
		return dbg.NewError(dbg.EngineFailure, "attach", "cannot attach to the idle process")
	}
	e.startProcessLocked(pid, "process"+strconv.FormatUint(uint64(pid), 10)+".exe", false)
	return nil
}

// startProcessLocked creates the process, its image module and its main
// thread, then reports the creation.
func (e *Engine) startProcessLocked(pid uint32, image string, followForks bool) {
	e.process = &process{pid: pid, image: image, followForks: followForks}
	e.exited = false

	base := uint64(imageBase64)
	if e.width == 4 {
		base = imageBase32
	}
	name := image
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".exe")

	mod := &Module{
		Name:    name,
		Image:   image,
		Base:    base,
		Size:    0x10000,
		Symbols: map[string]uint64{"entry": 0x1000},
	}
	e.loadModuleLocked(mod)
	t := e.newThreadLocked(base + 0x1000)
	e.current = t

	e.postLocked(dbg.Notification{
		Kind:       dbg.EventCreateProcess,
		Thread:     t.id,
		Module:     mod.info(),
		ThreadInfo: dbg.ThreadInfo{Handle: uint64(t.id), StartOffset: base + 0x1000},
	})
	e.log.Debug().Uint32("pid", pid).Str("image", image).Msg("process started")
}

func (e *Engine) Detach() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process == nil {
		return dbg.NewError(dbg.EngineFailure, "detach", "no target process")
	}
	e.postLocked(dbg.Notification{Kind: dbg.EventSessionStatus, Status: StatusDetached})
	e.clearProcessLocked()
	return nil
}

func (e *Engine) Terminate() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process == nil {
		return dbg.NewError(dbg.EngineFailure, "terminate", "no target process")
	}
	e.exitCode, e.exited = 1, true
	e.postLocked(dbg.Notification{Kind: dbg.EventExitProcess, ExitCode: e.exitCode})
	e.clearProcessLocked()
	return nil
}

func (e *Engine) clearProcessLocked() {
	e.process = nil
	e.threads = make(map[dbg.ThreadID]*Thread)
	e.current = nil
	e.modules = nil
	e.symbols = make(map[string]uint64)
	e.mem = NewPagedMemory()
	e.debugger = newDebugger()
	e.stacks = 0
}

func (e *Engine) SetSymbolPath(path string) error {
	e.mu.Lock()
	e.symbolPath = path
	e.mu.Unlock()
	return nil
}

// SymbolPath returns the symbol search path.
func (e *Engine) SymbolPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.symbolPath
}

func (e *Engine) ReadRegister(name string) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return 0, dbg.NewError(dbg.EngineFailure, "read register", "no current thread")
	}
	v, ok := e.current.regs.Get(e.width, strings.ToLower(name))
	if !ok {
		return 0, dbg.NewError(dbg.BadRegister, "read register", "unknown register %q", name)
	}
	return v, nil
}

func (e *Engine) WriteRegister(name string, v uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return dbg.NewError(dbg.EngineFailure, "write register", "no current thread")
	}
	if !e.current.regs.Set(e.width, strings.ToLower(name), v) {
		return dbg.NewError(dbg.BadRegister, "write register", "unknown register %q", name)
	}
	return nil
}

func (e *Engine) RegisterNames() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Names(e.width), nil
}

func (e *Engine) ReadMemory(addr uint64, n int) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := make([]byte, n)
	got := e.mem.LoadBytes(addr, b)
	if got == 0 && n > 0 {
		return nil, dbg.NewError(dbg.EngineFailure, "read memory", "address 0x%x is not mapped", addr)
	}
	return b[:got], nil
}

func (e *Engine) WriteMemory(addr uint64, b []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.mem.StoreBytes(addr, b)
	if n == 0 && len(b) > 0 {
		return 0, dbg.NewError(dbg.EngineFailure, "write memory", "address 0x%x is not mapped", addr)
	}
	return n, nil
}

func (e *Engine) InstallBreakpoint(kind dbg.BreakpointKind, p dbg.BreakpointParams) (dbg.BreakpointID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Symbolic locations bind when the target next runs.
	p.Kind = kind
	p.Flags &^= dbg.FlagDeferred
	if p.Location.IsSymbolic() {
		p.Location.Offset = 0
		p.Flags |= dbg.FlagDeferred
	}
	b := e.debugger.add(p)
	return b.id, nil
}

func (e *Engine) RemoveBreakpoint(id dbg.BreakpointID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.debugger.remove(id) {
		return dbg.NewError(dbg.NotFound, "remove breakpoint", "no breakpoint with id %d", id)
	}
	return nil
}

func (e *Engine) BreakpointParameters(id dbg.BreakpointID) (dbg.BreakpointParams, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.debugger.get(id)
	if !ok {
		return dbg.BreakpointParams{}, dbg.NewError(dbg.NotFound, "breakpoint parameters", "no breakpoint with id %d", id)
	}
	return b.params, nil
}

// update applies fn to the breakpoint with the given id.
func (e *Engine) update(op string, id dbg.BreakpointID, fn func(b *breakpoint) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.debugger.get(id)
	if !ok {
		return dbg.NewError(dbg.NotFound, op, "no breakpoint with id %d", id)
	}
	return fn(b)
}

func (e *Engine) SetBreakpointFlags(id dbg.BreakpointID, flags dbg.BreakpointFlags) error {
	return e.update("set breakpoint flags", id, func(b *breakpoint) error {
		deferred := b.params.Flags & dbg.FlagDeferred
		b.params.Flags = flags&^dbg.FlagDeferred | deferred
		return nil
	})
}

func (e *Engine) SetBreakpointCommand(id dbg.BreakpointID, command string) error {
	return e.update("set breakpoint command", id, func(b *breakpoint) error {
		b.params.Command = command
		return nil
	})
}

func (e *Engine) SetBreakpointLocation(id dbg.BreakpointID, loc dbg.Location) error {
	return e.update("set breakpoint location", id, func(b *breakpoint) error {
		b.params.Location = loc
		b.params.Flags &^= dbg.FlagDeferred
		if loc.IsSymbolic() {
			b.params.Location.Offset = 0
			b.params.Flags |= dbg.FlagDeferred
		}
		return nil
	})
}

func (e *Engine) SetBreakpointDataParameters(id dbg.BreakpointID, size uint32, access dbg.AccessMode) error {
	return e.update("set data parameters", id, func(b *breakpoint) error {
		if b.params.Kind != dbg.DataBreakpoint {
			return dbg.NewError(dbg.InvalidArgument, "set data parameters", "breakpoint %d is not a data breakpoint", id)
		}
		b.params.Size, b.params.Access = size, access
		return nil
	})
}

func (e *Engine) SetBreakpointMatchThread(id dbg.BreakpointID, tid dbg.ThreadID) error {
	return e.update("set match thread", id, func(b *breakpoint) error {
		b.params.MatchThread = tid
		return nil
	})
}

func (e *Engine) SetBreakpointPassCount(id dbg.BreakpointID, count uint32) error {
	return e.update("set pass count", id, func(b *breakpoint) error {
		b.params.PassCount = count
		b.skip = count
		return nil
	})
}

func (e *Engine) Is64Bit() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.width == 8, nil
}
