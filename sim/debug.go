// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"sort"

	"github.com/beevik/buggery/dbg"
)

// A breakpoint is the engine-side record of a code or data breakpoint.
type breakpoint struct {
	id     dbg.BreakpointID
	params dbg.BreakpointParams
	skip   uint32 // passes left before the breakpoint reports
}

// A hit records a triggered breakpoint as it was when it triggered.
type hit struct {
	id      dbg.BreakpointID
	oneShot bool
	command string
}

type byID []*breakpoint

func (a byID) Len() int           { return len(a) }
func (a byID) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byID) Less(i, j int) bool { return a[i].id < a[j].id }

// The debugger holds the breakpoint table and decides which breakpoints an
// execution or memory access triggers.
type debugger struct {
	nextID      dbg.BreakpointID
	breakpoints map[dbg.BreakpointID]*breakpoint
}

func newDebugger() *debugger {
	return &debugger{
		nextID:      1,
		breakpoints: make(map[dbg.BreakpointID]*breakpoint),
	}
}

func (d *debugger) add(p dbg.BreakpointParams) *breakpoint {
	b := &breakpoint{id: d.nextID, params: p, skip: p.PassCount}
	d.nextID++
	d.breakpoints[b.id] = b
	return b
}

func (d *debugger) get(id dbg.BreakpointID) (*breakpoint, bool) {
	b, ok := d.breakpoints[id]
	return b, ok
}

func (d *debugger) remove(id dbg.BreakpointID) bool {
	if _, ok := d.breakpoints[id]; !ok {
		return false
	}
	delete(d.breakpoints, id)
	return true
}

func (d *debugger) list() []*breakpoint {
	list := make([]*breakpoint, 0, len(d.breakpoints))
	for _, b := range d.breakpoints {
		list = append(list, b)
	}
	sort.Sort(byID(list))
	return list
}

// resolve binds deferred breakpoints whose expressions now evaluate.
func (d *debugger) resolve(lookup func(expr string) (uint64, bool)) {
	for _, b := range d.breakpoints {
		if b.params.Flags&dbg.FlagDeferred == 0 {
			continue
		}
		if addr, ok := lookup(b.params.Location.Expression); ok {
			b.params.Location.Offset = addr
			b.params.Flags &^= dbg.FlagDeferred
		}
	}
}

// triggered returns the breakpoints fired by an access of n bytes at addr
// on thread tid, in id order. Pass counts are consumed and one-shot
// breakpoints are removed from the table.
func (d *debugger) triggered(tid dbg.ThreadID, addr uint64, n uint64, access dbg.AccessMode) []hit {
	var hits []hit
	for _, b := range d.list() {
		p := &b.params
		if p.Flags&dbg.FlagEnabled == 0 || p.Flags&dbg.FlagDeferred != 0 {
			continue
		}
		if p.MatchThread != 0 && p.MatchThread != tid {
			continue
		}
		if !b.matches(addr, n, access) {
			continue
		}
		if b.skip > 0 {
			b.skip--
			continue
		}
		oneShot := p.Flags&dbg.FlagOneShot != 0
		if oneShot {
			delete(d.breakpoints, b.id)
		}
		hits = append(hits, hit{id: b.id, oneShot: oneShot, command: p.Command})
	}
	return hits
}

func (b *breakpoint) matches(addr uint64, n uint64, access dbg.AccessMode) bool {
	p := &b.params
	switch p.Kind {
	case dbg.CodeBreakpoint:
		return access == dbg.AccessExecute && p.Location.Offset == addr
	default:
		if p.Access&access == 0 {
			return false
		}
		lo, hi := p.Location.Offset, p.Location.Offset+uint64(p.Size)
		return addr < hi && addr+n > lo
	}
}
