// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/buggery/dbg"
	"github.com/beevik/cmd"
)

// Version is reported by the engine's version command.
const Version = "sim 1.0"

var cmds *cmd.Tree

func init() {
	root := cmd.NewTree(cmd.TreeDescriptor{Name: "sim"})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "echo",
		Brief:       "Echo arguments",
		Description: "Write each argument as a separate line of output.",
		Usage:       "echo [<text> ...]",
		Data:        (*Engine).cmdEcho,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "bl",
		Brief:       "List breakpoints",
		Description: "List all breakpoints known to the engine.",
		Usage:       "bl",
		Data:        (*Engine).cmdBreakpointList,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "bp",
		Brief:       "Set a breakpoint",
		Description: "Set an enabled code breakpoint at an address or symbol.",
		Usage:       "bp <location>",
		Data:        (*Engine).cmdBreakpointSet,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "bc",
		Brief:       "Clear a breakpoint",
		Description: "Remove a breakpoint by id, or all breakpoints with *.",
		Usage:       "bc <id>|*",
		Data:        (*Engine).cmdBreakpointClear,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "r",
		Brief:       "Show registers",
		Description: "Show the current thread's registers, or only the named ones.",
		Usage:       "r [<register> ...]",
		Data:        (*Engine).cmdRegisters,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "db",
		Brief:       "Dump bytes",
		Description: "Display target memory as hexadecimal bytes.",
		Usage:       "db <address> [<count>]",
		Data:        (*Engine).cmdDumpBytes,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "lm",
		Brief:       "List modules",
		Description: "List the modules loaded into the target process.",
		Usage:       "lm",
		Data:        (*Engine).cmdModules,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "threads",
		Brief:       "List threads",
		Description: "List the target's threads. The current thread is marked with a period.",
		Usage:       "threads",
		Data:        (*Engine).cmdThreads,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "version",
		Brief:       "Show engine version",
		Description: "Display the engine's version string.",
		Usage:       "version",
		Data:        (*Engine).cmdVersion,
	})
	root.AddShortcut("~", "threads")

	cmds = root
}

// Execute runs an engine command. Its output goes to the output callback.
func (e *Engine) Execute(command string) error {
	line := strings.TrimSpace(command)
	if line == "" {
		return nil
	}

	c, args, err := cmds.LookupCommand(line)
	switch {
	case err == cmd.ErrNotFound:
		return dbg.NewError(dbg.EngineFailure, "execute", "unknown command %q", line)
	case err == cmd.ErrAmbiguous:
		return dbg.NewError(dbg.EngineFailure, "execute", "ambiguous command %q", line)
	case err != nil:
		return dbg.WrapError(dbg.EngineFailure, "execute", err)
	}

	handler := c.Data.(func(*Engine, []string) error)
	return handler(e, args)
}

func (e *Engine) emitf(format string, args ...any) {
	e.emit(fmt.Sprintf(format, args...))
}

func (e *Engine) cmdEcho(args []string) error {
	for _, a := range args {
		e.emit(a)
	}
	return nil
}

func (e *Engine) cmdBreakpointList(args []string) error {
	e.mu.Lock()
	list := e.debugger.list()
	lines := make([]string, 0, len(list))
	for _, b := range list {
		p := b.params
		state := "e"
		if p.Flags&dbg.FlagEnabled == 0 {
			state = "d"
		}
		if p.Flags&dbg.FlagDeferred != 0 {
			state += "u"
		}
		line := fmt.Sprintf("%3d %-2s %0*x", b.id, state, e.width*2, p.Location.Offset)
		if p.Kind == dbg.DataBreakpoint {
			line += fmt.Sprintf(" %s %d", p.Access, p.Size)
		}
		if p.Location.Expression != "" {
			line += " (" + p.Location.Expression + ")"
		}
		if p.MatchThread != 0 {
			line += fmt.Sprintf(" ~%x", uint32(p.MatchThread))
		}
		lines = append(lines, line)
	}
	e.mu.Unlock()

	for _, l := range lines {
		e.emit(l + "\n")
	}
	return nil
}

func (e *Engine) cmdBreakpointSet(args []string) error {
	if len(args) != 1 {
		return dbg.NewError(dbg.InvalidArgument, "bp", "usage: bp <location>")
	}
	loc, err := dbg.ParseLocation(args[0])
	if err != nil {
		return err
	}
	id, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled,
		Location: loc,
	})
	if err != nil {
		return err
	}
	e.emitf("breakpoint %d set\n", id)
	return nil
}

func (e *Engine) cmdBreakpointClear(args []string) error {
	if len(args) != 1 {
		return dbg.NewError(dbg.InvalidArgument, "bc", "usage: bc <id>|*")
	}
	if args[0] == "*" {
		e.mu.Lock()
		for _, b := range e.debugger.list() {
			e.debugger.remove(b.id)
		}
		e.mu.Unlock()
		return nil
	}
	id, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return dbg.NewError(dbg.InvalidArgument, "bc", "invalid breakpoint id %q", args[0])
	}
	return e.RemoveBreakpoint(dbg.BreakpointID(id))
}

func (e *Engine) cmdRegisters(args []string) error {
	names := args
	if len(names) == 0 {
		names = []string{"ax", "bx", "cx", "dx", "si", "di", "bp", "sp", "ip"}
		prefix := "r"
		if w, _ := e.Is64Bit(); !w {
			prefix = "e"
		}
		for i := range names {
			names[i] = prefix + names[i]
		}
		names = append(names, "efl")
	}

	fields := make([]string, 0, len(names))
	for _, name := range names {
		v, err := e.ReadRegister(name)
		if err != nil {
			return err
		}
		fields = append(fields, fmt.Sprintf("%s=%x", strings.ToLower(name), v))
	}
	e.emit(strings.Join(fields, " ") + "\n")
	return nil
}

func (e *Engine) cmdDumpBytes(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return dbg.NewError(dbg.InvalidArgument, "db", "usage: db <address> [<count>]")
	}
	e.mu.Lock()
	addr, ok := e.evalLocked(args[0])
	e.mu.Unlock()
	if !ok {
		return dbg.NewError(dbg.InvalidArgument, "db", "cannot evaluate %q", args[0])
	}
	count := 64
	if len(args) == 2 {
		n, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil || n == 0 {
			return dbg.NewError(dbg.InvalidArgument, "db", "invalid count %q", args[1])
		}
		count = int(n)
	}

	b, err := e.ReadMemory(addr, count)
	if err != nil {
		return err
	}
	for i := 0; i < len(b); i += 16 {
		j := min(i+16, len(b))
		var sb strings.Builder
		fmt.Fprintf(&sb, "%016x ", addr+uint64(i))
		for _, v := range b[i:j] {
			fmt.Fprintf(&sb, " %02x", v)
		}
		sb.WriteByte('\n')
		e.emit(sb.String())
	}
	if len(b) < count {
		e.emitf("%016x  ??\n", addr+uint64(len(b)))
	}
	return nil
}

func (e *Engine) cmdModules(args []string) error {
	e.mu.Lock()
	lines := make([]string, 0, len(e.modules))
	for _, m := range e.modules {
		lines = append(lines, fmt.Sprintf("%016x %016x   %s\n", m.Base, m.Base+uint64(m.Size), m.Name))
	}
	e.mu.Unlock()

	for _, l := range lines {
		e.emit(l)
	}
	return nil
}

func (e *Engine) cmdThreads(args []string) error {
	e.mu.Lock()
	var lines []string
	for i, t := range e.threadsLocked() {
		mark := " "
		if t == e.current {
			mark = "."
		}
		lines = append(lines, fmt.Sprintf("%s%2d  Id: %x.%x  pc=%x\n", mark, i, e.pidLocked(), uint32(t.id), t.regs.ip(e.width)))
	}
	e.mu.Unlock()

	for _, l := range lines {
		e.emit(l)
	}
	return nil
}

func (e *Engine) cmdVersion(args []string) error {
	e.emit(Version + "\n")
	return nil
}
