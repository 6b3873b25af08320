// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"os"
	"sort"

	"github.com/beevik/buggery/dbg"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const dumpVersion = 1

type dumpModule struct {
	Name    string            `msgpack:"name"`
	Image   string            `msgpack:"image"`
	Base    uint64            `msgpack:"base"`
	Size    uint32            `msgpack:"size"`
	Symbols map[string]uint64 `msgpack:"symbols"`
}

type dumpThread struct {
	ID        uint32    `msgpack:"id"`
	StackBase uint64    `msgpack:"stack"`
	Regs      Registers `msgpack:"regs"`
}

type dumpPage struct {
	Base uint64 `msgpack:"base"`
	Data []byte `msgpack:"data"`
}

type dumpFile struct {
	Version int          `msgpack:"version"`
	Mode    uint8        `msgpack:"mode"`
	Width   int          `msgpack:"width"`
	PID     uint32       `msgpack:"pid"`
	Image   string       `msgpack:"image"`
	Current uint32       `msgpack:"current"`
	Modules []dumpModule `msgpack:"modules"`
	Threads []dumpThread `msgpack:"threads"`
	Pages   []dumpPage   `msgpack:"pages"`
}

// WriteDump saves the target's state as a zstd-compressed msgpack file. A
// small dump holds modules and threads only, a default dump adds thread
// stacks and a full dump holds all of memory.
func (e *Engine) WriteDump(path string, mode dbg.DumpMode) error {
	e.mu.Lock()
	if e.process == nil {
		e.mu.Unlock()
		return dbg.NewError(dbg.EngineFailure, "write dump", "no target process")
	}
	d := e.snapshotLocked(mode)
	e.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return dbg.WrapError(dbg.EngineFailure, "write dump", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return dbg.WrapError(dbg.EngineFailure, "write dump", err)
	}
	if err := msgpack.NewEncoder(zw).Encode(d); err != nil {
		zw.Close()
		return dbg.WrapError(dbg.EngineFailure, "write dump", errors.Wrap(err, "encode"))
	}
	if err := zw.Close(); err != nil {
		return dbg.WrapError(dbg.EngineFailure, "write dump", err)
	}
	return f.Close()
}

func (e *Engine) snapshotLocked(mode dbg.DumpMode) *dumpFile {
	d := &dumpFile{
		Version: dumpVersion,
		Mode:    uint8(mode),
		Width:   e.width,
		PID:     e.process.pid,
		Image:   e.process.image,
		Current: uint32(e.currentIDLocked()),
	}
	for _, m := range e.modules {
		d.Modules = append(d.Modules, dumpModule{
			Name: m.Name, Image: m.Image, Base: m.Base, Size: m.Size, Symbols: m.Symbols,
		})
	}

	keep := map[uint64]bool{}
	for _, t := range e.threadsLocked() {
		d.Threads = append(d.Threads, dumpThread{ID: uint32(t.id), StackBase: t.stackBase, Regs: t.regs})
		for p := t.stackBase; p < t.stackBase+stackSize; p += pageSize {
			keep[p] = true
		}
	}

	for _, base := range e.mem.Pages() {
		switch {
		case mode == dbg.DumpSmall:
			continue
		case mode == dbg.DumpDefault && !keep[base]:
			continue
		}
		page := make([]byte, pageSize)
		copy(page, e.mem.page(base))
		d.Pages = append(d.Pages, dumpPage{Base: base, Data: page})
	}
	return d
}

// OpenDump replaces the current target with the state saved in a dump
// file. Threads restored from a dump have no running body.
func (e *Engine) OpenDump(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return dbg.WrapError(dbg.EngineFailure, "open dump", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return dbg.WrapError(dbg.EngineFailure, "open dump", err)
	}
	defer zr.Close()

	var d dumpFile
	if err := msgpack.NewDecoder(zr).Decode(&d); err != nil {
		return dbg.WrapError(dbg.EngineFailure, "open dump", errors.Wrap(err, "decode"))
	}
	if d.Version != dumpVersion {
		return dbg.NewError(dbg.EngineFailure, "open dump", "unsupported dump version %d", d.Version)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process != nil {
		return dbg.NewError(dbg.EngineFailure, "open dump", "already debugging process %d", e.process.pid)
	}
	e.clearProcessLocked()
	e.width = d.Width
	e.process = &process{pid: d.PID, image: d.Image}

	for _, dm := range d.Modules {
		e.loadModuleLocked(&Module{Name: dm.Name, Image: dm.Image, Base: dm.Base, Size: dm.Size, Symbols: dm.Symbols})
	}
	sort.Slice(d.Pages, func(i, j int) bool { return d.Pages[i].Base < d.Pages[j].Base })
	for _, p := range d.Pages {
		e.mem.setPage(p.Base, p.Data)
	}
	for _, dt := range d.Threads {
		t := &Thread{e: e, id: dbg.ThreadID(dt.ID), stackBase: dt.StackBase, regs: dt.Regs}
		e.mem.Map(t.stackBase, stackSize)
		e.threads[t.id] = t
		e.stacks++
		if t.id >= e.nextTID {
			e.nextTID = t.id + 4
		}
		if uint32(t.id) == d.Current {
			e.current = t
		}
	}

	var main dbg.ThreadID
	if list := e.threadsLocked(); len(list) > 0 {
		main = list[0].id
	}
	n := dbg.Notification{Kind: dbg.EventCreateProcess, Thread: main}
	if len(e.modules) > 0 {
		n.Module = e.modules[0].info()
	}
	e.postLocked(n)
	e.log.Debug().Str("path", path).Uint32("pid", d.PID).Msg("dump opened")
	return nil
}
