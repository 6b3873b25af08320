// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// A BreakpointCallback runs when the breakpoint it is bound to triggers.
// Its status becomes the outcome of the breakpoint event.
type BreakpointCallback func(ev *BreakpointEvent) (Status, error)

// BreakpointOptions control breakpoint creation.
type BreakpointOptions struct {
	OneShot   bool               // remove after the first trigger
	Private   bool               // notify only the adding client
	Disabled  bool               // create disarmed
	Command   string             // engine command run on trigger
	Thread    ThreadID           // trigger only on this thread (0 = any)
	PassCount uint32             // triggers to skip before reporting
	Callback  BreakpointCallback // run on trigger
}

func (o *BreakpointOptions) flags() BreakpointFlags {
	var f BreakpointFlags
	if !o.Disabled {
		f |= FlagEnabled
	}
	if o.OneShot {
		f |= FlagOneShot
	}
	if o.Private {
		f |= FlagAdderOnly
	}
	return f
}

// A Breakpoint is a handle to a code or data breakpoint installed in the
// engine. Its state lives in the engine; the accessors read and write it
// there.
type Breakpoint struct {
	id   BreakpointID
	kind BreakpointKind
	reg  *Registry
}

// ID returns the engine id of the breakpoint.
func (b *Breakpoint) ID() BreakpointID {
	return b.id
}

// Kind returns whether the breakpoint is a code or data breakpoint.
func (b *Breakpoint) Kind() BreakpointKind {
	return b.kind
}

func (b *Breakpoint) String() string {
	return fmt.Sprintf("%s breakpoint %d", b.kind, b.id)
}

// Params returns the breakpoint's complete engine-side state.
func (b *Breakpoint) Params() (BreakpointParams, error) {
	return b.reg.engine.BreakpointParameters(b.id)
}

// Enabled reports whether the breakpoint is armed.
func (b *Breakpoint) Enabled() (bool, error) {
	p, err := b.Params()
	if err != nil {
		return false, err
	}
	return p.Flags&FlagEnabled != 0, nil
}

// Enable arms the breakpoint.
func (b *Breakpoint) Enable() error {
	return b.reg.setFlag(b, FlagEnabled, true)
}

// Disable disarms the breakpoint without removing it.
func (b *Breakpoint) Disable() error {
	return b.reg.setFlag(b, FlagEnabled, false)
}

// OneShot reports whether the breakpoint is removed after its first
// trigger.
func (b *Breakpoint) OneShot() (bool, error) {
	p, err := b.Params()
	if err != nil {
		return false, err
	}
	return p.Flags&FlagOneShot != 0, nil
}

// SetOneShot changes whether the breakpoint is removed after its first
// trigger.
func (b *Breakpoint) SetOneShot(on bool) error {
	return b.reg.setFlag(b, FlagOneShot, on)
}

// Deferred reports whether the breakpoint's location expression is still
// unresolved.
func (b *Breakpoint) Deferred() (bool, error) {
	p, err := b.Params()
	if err != nil {
		return false, err
	}
	return p.Flags&FlagDeferred != 0, nil
}

// Command returns the engine command run when the breakpoint triggers.
func (b *Breakpoint) Command() (string, error) {
	p, err := b.Params()
	return p.Command, err
}

// SetCommand sets the engine command run when the breakpoint triggers.
func (b *Breakpoint) SetCommand(command string) error {
	return b.reg.engine.SetBreakpointCommand(b.id, command)
}

// PassCount returns the number of triggers skipped before reporting.
func (b *Breakpoint) PassCount() (uint32, error) {
	p, err := b.Params()
	return p.PassCount, err
}

// SetPassCount sets the number of triggers skipped before reporting.
func (b *Breakpoint) SetPassCount(n uint32) error {
	return b.reg.engine.SetBreakpointPassCount(b.id, n)
}

// Location returns where the breakpoint is placed.
func (b *Breakpoint) Location() (Location, error) {
	p, err := b.Params()
	return p.Location, err
}

// Offset returns the breakpoint's address. For a deferred breakpoint the
// offset is meaningless until the engine resolves the expression.
func (b *Breakpoint) Offset() (uint64, error) {
	p, err := b.Params()
	return p.Location.Offset, err
}

// Expression returns the breakpoint's location expression, if any.
func (b *Breakpoint) Expression() (string, error) {
	p, err := b.Params()
	return p.Location.Expression, err
}

// SetLocation moves the breakpoint.
func (b *Breakpoint) SetLocation(loc Location) error {
	if b.kind == DataBreakpoint {
		p, err := b.Params()
		if err != nil {
			return err
		}
		if err := validateWatch(loc, p.Size, p.Access); err != nil {
			return err
		}
	}
	return b.reg.engine.SetBreakpointLocation(b.id, loc)
}

// MatchThread returns the thread the breakpoint is restricted to, or zero
// if it triggers on any thread.
func (b *Breakpoint) MatchThread() (ThreadID, error) {
	p, err := b.Params()
	return p.MatchThread, err
}

// SetMatchThread restricts the breakpoint to one thread. Zero removes the
// restriction.
func (b *Breakpoint) SetMatchThread(tid ThreadID) error {
	return b.reg.engine.SetBreakpointMatchThread(b.id, tid)
}

// Size returns the width in bytes of a data breakpoint.
func (b *Breakpoint) Size() (uint32, error) {
	if b.kind != DataBreakpoint {
		return 0, NewError(InvalidArgument, "breakpoint size", "%v is not a data breakpoint", b)
	}
	p, err := b.Params()
	return p.Size, err
}

// Access returns the accesses that trigger a data breakpoint.
func (b *Breakpoint) Access() (AccessMode, error) {
	if b.kind != DataBreakpoint {
		return 0, NewError(InvalidArgument, "breakpoint access", "%v is not a data breakpoint", b)
	}
	p, err := b.Params()
	return p.Access, err
}

// SetDataParameters changes the width and access mode of a data
// breakpoint.
func (b *Breakpoint) SetDataParameters(size uint32, access AccessMode) error {
	if b.kind != DataBreakpoint {
		return NewError(InvalidArgument, "set data parameters", "%v is not a data breakpoint", b)
	}
	p, err := b.Params()
	if err != nil {
		return err
	}
	if err := validateWatch(p.Location, size, access); err != nil {
		return err
	}
	return b.reg.engine.SetBreakpointDataParameters(b.id, size, access)
}

// SetSize changes the width of a data breakpoint.
func (b *Breakpoint) SetSize(size uint32) error {
	access, err := b.Access()
	if err != nil {
		return err
	}
	return b.SetDataParameters(size, access)
}

// SetAccess changes the access mode of a data breakpoint.
func (b *Breakpoint) SetAccess(access AccessMode) error {
	size, err := b.Size()
	if err != nil {
		return err
	}
	return b.SetDataParameters(size, access)
}

// Remove deletes the breakpoint. Removing a breakpoint twice is a no-op.
func (b *Breakpoint) Remove() error {
	return b.reg.Remove(b)
}

// validateWatch checks a data breakpoint's width and access mode against
// what hardware watch registers support.
func validateWatch(loc Location, size uint32, access AccessMode) error {
	const op = "watchpoint"
	switch {
	case access == 0 || access&^AccessAll != 0:
		return NewError(InvalidArgument, op, "invalid access mode %v", access)
	case size != 1 && size != 2 && size != 4 && size != 8:
		return NewError(InvalidArgument, op, "invalid size %d", size)
	case access&AccessExecute != 0 && size != 1:
		return NewError(InvalidArgument, op, "execute access requires size 1, got %d", size)
	case !loc.IsSymbolic() && loc.Offset%uint64(size) != 0:
		return NewError(InvalidArgument, op, "address 0x%x is not aligned to size %d", loc.Offset, size)
	}
	return nil
}

type entry struct {
	bp      *Breakpoint
	cb      BreakpointCallback
	oneShot bool
}

// A Registry tracks the breakpoints installed through a session and the
// callbacks bound to them. The entry table shares the session mutex with
// the interest mask.
//
// A one-shot breakpoint leaves the listing as soon as the engine retires
// it, even if its event has not been dispatched yet. Its callback is kept
// until the event arrives.
type Registry struct {
	mu      *sync.Mutex
	engine  Engine
	log     zerolog.Logger
	entries map[BreakpointID]*entry
	retired map[BreakpointID]*entry
}

func newRegistry(mu *sync.Mutex, e Engine, log zerolog.Logger) *Registry {
	return &Registry{
		mu:      mu,
		engine:  e,
		log:     log,
		entries: make(map[BreakpointID]*entry),
		retired: make(map[BreakpointID]*entry),
	}
}

// CreateCodeBreakpoint installs a breakpoint that triggers when execution
// reaches loc.
func (r *Registry) CreateCodeBreakpoint(loc Location, opts BreakpointOptions) (*Breakpoint, error) {
	return r.create(BreakpointParams{Kind: CodeBreakpoint, Location: loc}, opts)
}

// CreateWatchpoint installs a data breakpoint that triggers on the given
// accesses to size bytes at loc.
func (r *Registry) CreateWatchpoint(loc Location, size uint32, access AccessMode, opts BreakpointOptions) (*Breakpoint, error) {
	if err := validateWatch(loc, size, access); err != nil {
		return nil, err
	}
	return r.create(BreakpointParams{Kind: DataBreakpoint, Location: loc, Size: size, Access: access}, opts)
}

func (r *Registry) create(p BreakpointParams, opts BreakpointOptions) (*Breakpoint, error) {
	p.Flags = opts.flags()
	p.Command = opts.Command
	p.MatchThread = opts.Thread
	p.PassCount = opts.PassCount

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.engine.InstallBreakpoint(p.Kind, p)
	if err != nil {
		return nil, err
	}

	bp := &Breakpoint{id: id, kind: p.Kind, reg: r}
	r.entries[id] = &entry{bp: bp, cb: opts.Callback, oneShot: opts.OneShot}

	r.log.Debug().
		Uint32("breakpoint", uint32(id)).
		Stringer("kind", p.Kind).
		Stringer("location", p.Location).
		Bool("oneshot", opts.OneShot).
		Uint32("thread", uint32(opts.Thread)).
		Msg("breakpoint installed")
	return bp, nil
}

// Remove deletes a breakpoint and its callback. A breakpoint that is no
// longer registered is ignored.
func (r *Registry) Remove(bp *Breakpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.retired[bp.id]; ok && e.bp == bp {
		delete(r.retired, bp.id)
		return nil
	}
	e, ok := r.entries[bp.id]
	if !ok || e.bp != bp {
		return nil
	}
	return r.removeLocked(e)
}

// RemoveByID deletes the breakpoint with the given engine id.
func (r *Registry) RemoveByID(id BreakpointID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return r.removeLocked(e)
	}
	if _, ok := r.retired[id]; ok {
		delete(r.retired, id)
		return nil
	}

	// Breakpoints added by engine commands are not registered, but can
	// still be removed by id.
	if _, err := r.engine.BreakpointParameters(id); err != nil {
		return NewError(NotFound, "remove breakpoint", "no breakpoint with id %d", id)
	}
	return r.engine.RemoveBreakpoint(id)
}

// RemoveByIndex deletes the breakpoint at position index of List.
func (r *Registry) RemoveByIndex(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.listLocked()
	if index < 0 || index >= len(list) {
		return NewError(NotFound, "remove breakpoint", "no breakpoint at index %d", index)
	}
	return r.removeLocked(r.entries[list[index].id])
}

// removeLocked drops the callback entry before the engine breakpoint, so
// no event can resolve to a stale callback. The entry is restored if the
// engine refuses the removal.
func (r *Registry) removeLocked(e *entry) error {
	id := e.bp.id
	delete(r.entries, id)

	err := r.engine.RemoveBreakpoint(id)
	switch {
	case err == nil:
	case KindOf(err) == NotFound:
		// The engine already dropped it, e.g. a one-shot that fired.
	default:
		r.entries[id] = e
		return err
	}

	r.log.Debug().Uint32("breakpoint", uint32(id)).Msg("breakpoint removed")
	return nil
}

// Lookup returns the registered breakpoint with the given id.
func (r *Registry) Lookup(id BreakpointID) (*Breakpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.bp, true
}

// At returns the breakpoint at position index of List.
func (r *Registry) At(index int) (*Breakpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.listLocked()
	if index < 0 || index >= len(list) {
		return nil, NewError(NotFound, "breakpoint", "no breakpoint at index %d", index)
	}
	return list[index], nil
}

// Get returns a breakpoint by index if n is a valid index, and otherwise
// by id.
func (r *Registry) Get(n int) (*Breakpoint, error) {
	if bp, err := r.At(n); err == nil {
		return bp, nil
	}
	if n >= 0 {
		if bp, ok := r.Lookup(BreakpointID(n)); ok {
			return bp, nil
		}
	}
	return nil, NewError(NotFound, "breakpoint", "no breakpoint with index or id %d", n)
}

// List returns the registered breakpoints ordered by id.
func (r *Registry) List() []*Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

// Len returns the number of registered breakpoints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.entries)
}

type byID []*Breakpoint

func (a byID) Len() int           { return len(a) }
func (a byID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byID) Less(i, j int) bool { return a[i].id < a[j].id }

func (r *Registry) listLocked() []*Breakpoint {
	r.pruneLocked()
	list := make([]*Breakpoint, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.bp)
	}
	sort.Sort(byID(list))
	return list
}

// BindCallback associates cb with the breakpoint id, replacing any
// previous callback. Breakpoints added by engine commands are adopted into
// the registry.
func (r *Registry) BindCallback(id BreakpointID, cb BreakpointCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		var err error
		if e, err = r.adoptLocked(id); err != nil {
			return err
		}
	}
	e.cb = cb
	return nil
}

// Clear removes every registered breakpoint.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	for _, bp := range r.listLocked() {
		if err := r.removeLocked(r.entries[bp.id]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	clear(r.retired)
	return result.ErrorOrNil()
}

func (r *Registry) setFlag(b *Breakpoint, flag BreakpointFlags, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.engine.BreakpointParameters(b.id)
	if err != nil {
		return err
	}
	flags := p.Flags &^ FlagDeferred
	if on {
		flags |= flag
	} else {
		flags &^= flag
	}
	if err := r.engine.SetBreakpointFlags(b.id, flags); err != nil {
		return err
	}
	if e, ok := r.entries[b.id]; ok && e.bp == b && flag == FlagOneShot {
		e.oneShot = on
	}
	return nil
}

func (r *Registry) adoptLocked(id BreakpointID) (*entry, error) {
	p, err := r.engine.BreakpointParameters(id)
	if err != nil {
		return nil, NewError(NotFound, "breakpoint", "no breakpoint with id %d", id)
	}
	e := &entry{
		bp:      &Breakpoint{id: id, kind: p.Kind, reg: r},
		oneShot: p.Flags&FlagOneShot != 0,
	}
	r.entries[id] = e
	return e, nil
}

// pruneLocked retires one-shot entries the engine has already removed.
func (r *Registry) pruneLocked() {
	for id, e := range r.entries {
		if !e.oneShot {
			continue
		}
		if _, err := r.engine.BreakpointParameters(id); KindOf(err) == NotFound {
			delete(r.entries, id)
			r.retired[id] = e
			r.log.Debug().Uint32("breakpoint", uint32(id)).Msg("one-shot breakpoint retired")
		}
	}
}

// handle returns the breakpoint handle for a triggered id. Unknown ids
// still present in the engine are adopted; ids already gone from the
// engine get a detached handle.
func (r *Registry) handle(id BreakpointID) *Breakpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e.bp
	}
	if e, ok := r.retired[id]; ok {
		return e.bp
	}
	if e, err := r.adoptLocked(id); err == nil {
		return e.bp
	}
	return &Breakpoint{id: id, kind: CodeBreakpoint, reg: r}
}

// take returns the callback bound to bp. A one-shot entry is retired so
// its callback runs at most once.
func (r *Registry) take(bp *Breakpoint) BreakpointCallback {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.retired[bp.id]; ok && e.bp == bp {
		delete(r.retired, bp.id)
		return e.cb
	}
	e, ok := r.entries[bp.id]
	if !ok || e.bp != bp {
		return nil
	}
	if e.oneShot {
		delete(r.entries, bp.id)
	}
	return e.cb
}
