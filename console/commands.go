// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package console

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/buggery/dbg"
	"github.com/beevik/buggery/trace"
	"github.com/pkg/errors"
)

func (c *Console) cmdHelp(sel selection) error {
	var b strings.Builder
	if err := cmds.GetHelp(&b, sel.args); err != nil {
		return err
	}
	c.print(b.String())
	return nil
}

func (c *Console) cmdQuit(sel selection) error {
	return ErrQuit
}

func (c *Console) parseNumber(s string) (uint64, error) {
	return parseNumber(s, c.settings.HexMode)
}

func (c *Console) parseID(s string) (dbg.BreakpointID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid breakpoint id '%s'", s)
	}
	return dbg.BreakpointID(v), nil
}

func (c *Console) cmdSpawn(sel selection) error {
	args := sel.args
	var opts dbg.SpawnOptions
	if len(args) > 0 && args[0] == "-f" {
		opts.FollowForks = true
		args = args[1:]
	}
	if len(args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	cmdline := strings.Join(args, " ")
	if err := c.session.Spawn(cmdline, opts); err != nil {
		return err
	}
	c.printf("Started '%s'.\n", cmdline)
	return nil
}

var attachFlags = map[string]dbg.AttachFlags{
	"noninvasive": dbg.AttachNonInvasive,
	"existing":    dbg.AttachExisting,
	"nosuspend":   dbg.AttachNoSuspend,
	"resume":      dbg.AttachInvasiveResume,
}

func (c *Console) cmdAttach(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	pid, err := strconv.ParseUint(sel.args[0], 0, 32)
	if err != nil {
		return errors.Errorf("invalid process id '%s'", sel.args[0])
	}
	flags := dbg.AttachDefault
	for _, a := range sel.args[1:] {
		f, ok := attachFlags[strings.ToLower(a)]
		if !ok {
			return errors.Errorf("unknown attach option '%s'", a)
		}
		flags |= f
	}

	if err := c.session.Attach(uint32(pid), flags); err != nil {
		return err
	}
	c.printf("Attached to process %d.\n", pid)
	return nil
}

func (c *Console) cmdDetach(sel selection) error {
	if err := c.session.Detach(); err != nil {
		return err
	}
	c.println("Detached.")
	return nil
}

func (c *Console) cmdTerminate(sel selection) error {
	if err := c.session.Terminate(); err != nil {
		return err
	}
	c.println("Process terminated.")
	return nil
}

var dumpModes = map[string]dbg.DumpMode{
	"small":   dbg.DumpSmall,
	"default": dbg.DumpDefault,
	"full":    dbg.DumpFull,
}

func (c *Console) cmdDumpWrite(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	mode := dbg.DumpDefault
	if len(sel.args) > 1 {
		m, ok := dumpModes[strings.ToLower(sel.args[1])]
		if !ok {
			return errors.Errorf("unknown dump mode '%s'", sel.args[1])
		}
		mode = m
	}

	if err := c.session.WriteDump(sel.args[0], mode); err != nil {
		return err
	}
	c.printf("Wrote %s dump to '%s'.\n", mode, sel.args[0])
	return nil
}

func (c *Console) cmdDumpOpen(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}
	if err := c.session.OpenDump(sel.args[0]); err != nil {
		return err
	}
	c.printf("Opened dump '%s'.\n", sel.args[0])
	return nil
}

func (c *Console) listBreakpoints(kind dbg.BreakpointKind, all bool) {
	c.println("Id  Kind  Enabled  Address           Size  Mode  Expression")
	c.println("--- ----- -------  ----------------  ----  ----  ----------")
	for _, b := range c.session.Breakpoints().List() {
		if !all && b.Kind() != kind {
			continue
		}
		p, err := b.Params()
		if err != nil {
			c.printf("%3d %v\n", b.ID(), err)
			continue
		}

		addr := fmt.Sprintf("%016x", p.Location.Offset)
		if p.Flags&dbg.FlagDeferred != 0 {
			addr = "<deferred>"
		}
		size, mode := "", ""
		if p.Kind == dbg.DataBreakpoint {
			size, mode = strconv.Itoa(int(p.Size)), p.Access.String()
		}
		c.printf("%3d %-5s %-7v  %-16s  %-4s  %-4s  %s\n",
			b.ID(), p.Kind, p.Flags&dbg.FlagEnabled != 0, addr, size, mode, p.Location.Expression)
	}
}

func (c *Console) cmdBreakpointList(sel selection) error {
	c.listBreakpoints(dbg.CodeBreakpoint, true)
	return nil
}

func (c *Console) cmdWatchpointList(sel selection) error {
	c.listBreakpoints(dbg.DataBreakpoint, false)
	return nil
}

func (c *Console) cmdBreakpointAdd(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	b, err := c.session.Breakpoint(sel.args[0], nil)
	if err != nil {
		return err
	}
	if len(sel.args) > 1 {
		if err := b.SetCommand(strings.Join(sel.args[1:], " ")); err != nil {
			return err
		}
	}
	c.printf("Breakpoint %d added at %s.\n", b.ID(), sel.args[0])
	return nil
}

func (c *Console) cmdWatchpointAdd(sel selection) error {
	if len(sel.args) < 3 {
		c.displayHelpText(sel.command)
		return nil
	}

	size, err := c.parseNumber(sel.args[1])
	if err != nil {
		return err
	}
	b, err := c.session.Watchpoint(sel.args[0], uint32(size), sel.args[2], nil)
	if err != nil {
		return err
	}
	c.printf("Watchpoint %d added at %s.\n", b.ID(), sel.args[0])
	return nil
}

func (c *Console) cmdBreakpointRemove(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	if sel.args[0] == "*" {
		if err := c.session.Breakpoints().Clear(); err != nil {
			return err
		}
		c.println("All breakpoints removed.")
		return nil
	}

	id, err := c.parseID(sel.args[0])
	if err != nil {
		return err
	}
	if err := c.session.Breakpoints().RemoveByID(id); err != nil {
		if dbg.KindOf(err) == dbg.NotFound {
			c.printf("No breakpoint with id %d.\n", id)
			return nil
		}
		return err
	}
	c.printf("Breakpoint %d removed.\n", id)
	return nil
}

func (c *Console) cmdBreakpointEnable(sel selection) error {
	return c.enableBreakpoint(sel, true)
}

func (c *Console) cmdBreakpointDisable(sel selection) error {
	return c.enableBreakpoint(sel, false)
}

func (c *Console) enableBreakpoint(sel selection, enable bool) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	id, err := c.parseID(sel.args[0])
	if err != nil {
		return err
	}
	b, ok := c.session.Breakpoints().Lookup(id)
	if !ok {
		c.printf("No breakpoint with id %d.\n", id)
		return nil
	}

	if enable {
		err = b.Enable()
	} else {
		err = b.Disable()
	}
	if err != nil {
		return err
	}

	verb := "disabled"
	if enable {
		verb = "enabled"
	}
	c.printf("Breakpoint %d %s.\n", id, verb)
	return nil
}

func (c *Console) onCallEnter(location string) dbg.EnterFunc[time.Time] {
	return func(call *dbg.Call) (time.Time, error) {
		if c.settings.ShowCalls {
			c.printf("-> %s thread=0x%x depth=%d return=0x%x\n",
				location, call.Thread, call.Depth, call.ReturnAddress)
		}
		if c.recorder == nil {
			return time.Now(), nil
		}
		return c.recorder.RecordCall(location, call)
	}
}

func (c *Console) onCallExit(location string) dbg.ExitFunc[time.Time] {
	return func(call *dbg.Call, ret uint64, start time.Time) error {
		elapsed := time.Since(start)
		var err error
		if c.recorder != nil {
			elapsed, err = c.recorder.RecordReturn(location, call, ret, start)
		}
		if c.settings.ShowCalls {
			c.printf("<- %s thread=0x%x depth=%d = 0x%x (%s)\n",
				location, call.Thread, call.Depth, ret, elapsed)
		}
		return err
	}
}

func (c *Console) cmdHookAdd(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	loc := sel.args[0]
	if _, ok := c.hooks[loc]; ok {
		return errors.Errorf("'%s' is already hooked", loc)
	}
	h, err := dbg.HookFunction(c.session, loc, c.onCallEnter(loc), c.onCallExit(loc))
	if err != nil {
		return err
	}
	c.hooks[loc] = h
	c.printf("Hooked %s.\n", loc)
	return nil
}

func (c *Console) cmdHookRemove(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	loc := sel.args[0]
	h, ok := c.hooks[loc]
	if !ok {
		c.printf("No hook on %s.\n", loc)
		return nil
	}

	var err error
	if len(sel.args) > 1 && strings.EqualFold(sel.args[1], "all") {
		err = h.RemoveAll()
	} else {
		err = h.Remove()
	}
	if err != nil {
		return err
	}
	delete(c.hooks, loc)
	c.printf("Unhooked %s.\n", loc)
	return nil
}

func (c *Console) cmdHookList(sel selection) error {
	locs := make([]string, 0, len(c.hooks))
	for loc := range c.hooks {
		locs = append(locs, loc)
	}
	sort.Strings(locs)

	c.println("Function                        Pending")
	c.println("------------------------------  -------")
	for _, loc := range locs {
		c.printf("%-30s  %d\n", loc, c.hooks[loc].Pending())
	}
	return nil
}

func (c *Console) cmdGo(sel selection) error {
	timeout := time.Duration(c.settings.WaitTimeout) * time.Millisecond

	if c.interactive {
		c.println("Running. Press ctrl-C to break.")
	}

	c.stop.Store(false)
	c.state.Store(int32(stateRunning))
	defer c.state.Store(int32(stateProcessingCommands))

	idle := 0
	for state(c.state.Load()) == stateRunning {
		err := c.session.WaitForEvent(timeout)
		switch {
		case err == nil:
			idle = 0
			if c.stop.Load() {
				return nil
			}
		case errors.Is(err, dbg.ErrTimeout):
			idle++
			if c.settings.IdleLimit > 0 && idle >= c.settings.IdleLimit {
				c.println("No more events.")
				return nil
			}
		default:
			return err
		}
	}
	return nil
}

func (c *Console) cmdInterest(sel selection) error {
	if len(sel.args) > 0 {
		var mask dbg.InterestMask
		for _, a := range sel.args {
			switch strings.ToLower(a) {
			case "all":
				mask = dbg.InterestAll
			case "none":
			default:
				k, err := dbg.ParseEventKind(a)
				if err != nil {
					return err
				}
				if k.Interest() == 0 {
					return errors.Errorf("event kind '%s' is always reported", k)
				}
				mask |= k.Interest()
			}
		}
		if err := c.session.SetInterestMask(mask); err != nil {
			return err
		}
	}

	mask := c.session.Dispatcher().InterestMask()
	c.printf("Interest mask 0x%04x: %s\n", uint32(mask), mask)
	return nil
}

func (c *Console) cmdRegister(sel selection) error {
	switch len(sel.args) {
	case 0:
		names, err := c.session.RegisterNames()
		if err != nil {
			return err
		}
		width, err := c.session.PointerSize()
		if err != nil {
			return err
		}
		regs, err := c.session.Registers()
		if err != nil {
			return err
		}
		for i, name := range names {
			c.printf("%-6s %0*x", name, width*2, regs[name])
			if i%4 == 3 || i == len(names)-1 {
				c.println()
			} else {
				c.print("  ")
			}
		}

	case 1:
		v, err := c.session.ReadRegister(sel.args[0])
		if err != nil {
			return err
		}
		c.printf("%s = 0x%x\n", strings.ToLower(sel.args[0]), v)

	default:
		v, err := c.parseNumber(sel.args[1])
		if err != nil {
			return err
		}
		if err := c.session.WriteRegister(sel.args[0], v); err != nil {
			return err
		}
		c.printf("Register %s set to 0x%x.\n", strings.ToLower(sel.args[0]), v)
	}
	return nil
}

func (c *Console) cmdMemoryDump(sel selection) error {
	addr := c.settings.NextMemDumpAddr
	if len(sel.args) > 0 && sel.args[0] != "$" {
		a, err := c.parseNumber(sel.args[0])
		if err != nil {
			return err
		}
		addr = a
	}

	bytes := uint64(c.settings.MemDumpBytes)
	if len(sel.args) > 1 {
		b, err := c.parseNumber(sel.args[1])
		if err != nil {
			return err
		}
		bytes = b
	}
	if bytes == 0 {
		return nil
	}

	c.dumpMemory(addr, bytes)

	c.settings.NextMemDumpAddr = addr + bytes
	if c.lastCmd != nil {
		c.lastCmd.args = []string{"$", fmt.Sprintf("0x%x", bytes)}
	}
	return nil
}

// dumpMemory displays memory 16 bytes to a row, with rows aligned to 16
// bytes. Bytes that cannot be read are shown as question marks.
func (c *Console) dumpMemory(addr0, bytes uint64) {
	addr1 := addr0 + bytes - 1
	if addr1 < addr0 {
		addr1 = ^uint64(0)
	}

	mem := c.session.Memory()
	for row := addr0 &^ 0xf; ; row += 16 {
		buf := []byte(strings.Repeat(" ", 16+2+16*3+1+16))
		addrToBuf(row, buf[0:16])
		for i := uint64(0); i < 16; i++ {
			a := row + i
			c1, c2 := 18+int(i)*3, 18+16*3+1+int(i)
			if a < addr0 || a > addr1 {
				continue
			}
			m, err := mem.LoadByte(a)
			if err != nil {
				buf[c1], buf[c1+1], buf[c2] = '?', '?', '?'
				continue
			}
			byteToBuf(m, buf[c1:c1+2])
			buf[c2] = toPrintableChar(m)
		}
		c.println(strings.TrimRight(string(buf), " "))

		if row+15 >= addr1 || row+16 < row {
			break
		}
	}
}

func (c *Console) cmdMemorySet(sel selection) error {
	if len(sel.args) < 2 {
		c.displayHelpText(sel.command)
		return nil
	}

	addr, err := c.parseNumber(sel.args[0])
	if err != nil {
		return err
	}
	b := make([]byte, 0, len(sel.args)-1)
	for _, s := range sel.args[1:] {
		v, err := c.parseNumber(s)
		if err != nil {
			return err
		}
		if v > 0xff {
			return errors.Errorf("value '%s' does not fit in a byte", s)
		}
		b = append(b, byte(v))
	}

	if err := c.session.Memory().Write(addr, b); err != nil {
		return err
	}
	c.printf("Wrote %d bytes at 0x%x.\n", len(b), addr)
	return nil
}

func (c *Console) cmdEngine(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	out, err := c.session.Execute(strings.Join(sel.args, " "))
	for _, line := range out {
		c.print(line)
		if !strings.HasSuffix(line, "\n") {
			c.println()
		}
	}
	return err
}

func (c *Console) cmdExecute(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}
	if c.depth >= maxScriptDepth {
		return errors.New("scripts nested too deeply")
	}

	file, err := os.Open(sel.args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	input, interactive, lastCmd := c.input, c.interactive, c.lastCmd
	c.input, c.interactive = scannerReader{bufio.NewScanner(file)}, false
	c.depth++
	defer func() {
		c.input, c.interactive, c.lastCmd = input, interactive, lastCmd
		c.depth--
	}()
	return c.runLoop()
}

func (c *Console) ensureRecorder() (*trace.Recorder, error) {
	if c.recorder != nil {
		return c.recorder, nil
	}

	var store trace.Storage
	if c.openStore != nil {
		s, err := c.openStore()
		if err != nil {
			return nil, err
		}
		store = s
	} else {
		store = trace.NewMemStorage()
	}

	r, err := trace.NewRecorder(store, c.log)
	if err != nil {
		store.Close()
		return nil, err
	}
	c.recorder = r
	return r, nil
}

func (c *Console) cmdTraceStart(sel selection) error {
	var kinds []dbg.EventKind
	for _, a := range sel.args {
		k, err := dbg.ParseEventKind(a)
		if err != nil {
			return err
		}
		kinds = append(kinds, k)
	}

	r, err := c.ensureRecorder()
	if err != nil {
		return err
	}
	if err := r.Attach(c.session, kinds...); err != nil {
		return err
	}
	c.println("Tracing started.")
	return nil
}

func (c *Console) cmdTraceStop(sel selection) error {
	if c.recorder == nil || !c.recorder.Attached() {
		c.println("Tracing is not running.")
		return nil
	}
	if err := c.recorder.Detach(c.session); err != nil {
		return err
	}
	c.println("Tracing stopped.")
	return nil
}

func (c *Console) cmdTraceDump(sel selection) error {
	if c.recorder == nil {
		c.println("Nothing recorded.")
		return nil
	}
	var b strings.Builder
	if err := c.recorder.Dump(&b); err != nil {
		return err
	}
	c.print(b.String())
	return nil
}

func (c *Console) cmdTraceClear(sel selection) error {
	if c.recorder == nil {
		return nil
	}
	if err := c.recorder.Reset(); err != nil {
		return err
	}
	c.println("Trace cleared.")
	return nil
}

func (c *Console) cmdTraceHook(sel selection) error {
	if len(sel.args) < 1 {
		c.displayHelpText(sel.command)
		return nil
	}

	loc := sel.args[0]
	if _, ok := c.hooks[loc]; ok {
		return errors.Errorf("'%s' is already hooked", loc)
	}
	r, err := c.ensureRecorder()
	if err != nil {
		return err
	}
	h, err := trace.HookFunction(c.session, r, loc)
	if err != nil {
		return err
	}
	c.hooks[loc] = h
	c.printf("Recording calls to %s.\n", loc)
	return nil
}

func (c *Console) cmdSet(sel selection) error {
	switch len(sel.args) {
	case 0:
		c.println("Variables:")
		var b strings.Builder
		c.settings.Display(&b)
		c.print(b.String())

	case 1:
		c.displayHelpText(sel.command)

	default:
		key, value := strings.ToLower(sel.args[0]), strings.Join(sel.args[1:], " ")

		var err error
		switch c.settings.Kind(key) {
		case reflect.Invalid:
			err = errors.Errorf("Setting '%s' not found", key)
		case reflect.String:
			err = c.settings.Set(key, value)
		case reflect.Bool:
			var v bool
			v, err = stringToBool(value)
			if err == nil {
				err = c.settings.Set(key, v)
			}
		default:
			var v uint64
			v, err = c.parseNumber(value)
			if err == nil {
				err = c.settings.Set(key, v)
			}
		}

		if err != nil {
			return err
		}
		c.printf("%s updated.\n", c.settings.Name(key))
	}
	return nil
}
