// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package console implements a command host for a debugging session.
//
// Commands are read from a script or typed interactively. Within the
// console it is possible to start, attach to and detach from processes,
// set breakpoints and watchpoints, hook functions, let the target run
// while debug events are displayed, inspect and change registers and
// memory, pass commands to the engine, and record events into a trace.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/buggery/dbg"
	"github.com/beevik/buggery/trace"
	"github.com/beevik/cmd"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type state int32

const (
	stateProcessingCommands state = iota
	stateRunning
)

// ErrQuit is returned by RunCommands when the quit command ends it.
var ErrQuit = errors.New("quit")

const maxScriptDepth = 16

// Config holds console settings.
type Config struct {
	Logger zerolog.Logger

	// TraceStore opens the store used by the trace commands. Nil selects
	// an in-memory store.
	TraceStore func() (trace.Storage, error)
}

type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	s *bufio.Scanner
}

func (r scannerReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

type selection struct {
	command *cmd.Command
	args    []string
}

// A Console runs commands against a debugging session.
type Console struct {
	session   *dbg.Session
	log       zerolog.Logger
	openStore func() (trace.Storage, error)

	outMu       sync.Mutex
	output      *bufio.Writer
	input       lineReader
	interactive bool
	promptOwned bool
	depth       int
	lastCmd     *selection
	state       atomic.Int32
	stop        atomic.Bool
	settings    *settings
	hooks       map[string]*dbg.Interceptor[time.Time]
	recorder    *trace.Recorder
}

var displayedKinds = []dbg.EventKind{
	dbg.EventBreakpoint,
	dbg.EventException,
	dbg.EventCreateThread,
	dbg.EventExitThread,
	dbg.EventCreateProcess,
	dbg.EventExitProcess,
	dbg.EventLoadModule,
	dbg.EventUnloadModule,
	dbg.EventSessionStatus,
}

// New creates a console for s. It installs handlers that display debug
// events and engine output.
func New(s *dbg.Session, cfg Config) (*Console, error) {
	c := &Console{
		session:   s,
		log:       cfg.Logger.With().Str("component", "console").Logger(),
		openStore: cfg.TraceStore,
		settings:  newSettings(),
		hooks:     make(map[string]*dbg.Interceptor[time.Time]),
	}
	for _, k := range displayedKinds {
		if err := s.SetEventHandler(k, c.onEvent); err != nil {
			return nil, err
		}
	}
	if err := s.SetEventHandler(dbg.EventOutput, c.onOutput); err != nil {
		return nil, err
	}
	return c, nil
}

// Close removes every function hook and closes the trace recorder.
func (c *Console) Close() error {
	var result *multierror.Error
	for loc, h := range c.hooks {
		if err := h.RemoveAll(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(c.hooks, loc)
	}
	if c.recorder != nil {
		if err := c.recorder.Detach(c.session); err != nil {
			result = multierror.Append(result, err)
		}
		if err := c.recorder.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.recorder = nil
	}
	return result.ErrorOrNil()
}

// RunCommands accepts console commands from a reader and outputs the
// results to a writer. If the commands are interactive, a prompt is
// displayed while the console waits for the next command to be entered.
// It returns nil at the end of the input and ErrQuit if the quit command
// was run.
func (c *Console) RunCommands(r io.Reader, w io.Writer, interactive bool) error {
	return c.run(scannerReader{bufio.NewScanner(r)}, w, interactive)
}

func (c *Console) run(r lineReader, w io.Writer, interactive bool) error {
	c.outMu.Lock()
	c.output = bufio.NewWriter(w)
	c.outMu.Unlock()
	c.input = r
	c.interactive = interactive

	if interactive {
		c.println()
	}
	err := c.runLoop()

	// Target output arriving between runs is dropped.
	c.outMu.Lock()
	c.output.Flush()
	c.output = nil
	c.outMu.Unlock()
	return err
}

func (c *Console) runLoop() error {
	for {
		c.prompt()

		line, err := c.input.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}

		var sel selection
		if line != "" {
			n, args, err := cmds.Lookup(line)
			switch {
			case err == cmd.ErrNotFound:
				c.println("Command not found.")
				continue
			case err == cmd.ErrAmbiguous:
				c.println("Command is ambiguous.")
				continue
			case err != nil:
				c.printf("ERROR: %v.\n", err)
				continue
			}
			switch n := n.(type) {
			case *cmd.Tree:
				c.displayCommands(n)
				continue
			case *cmd.Command:
				sel = selection{command: n, args: args}
			}
		} else if c.interactive && c.lastCmd != nil {
			sel = *c.lastCmd
		}

		if sel.command == nil {
			continue
		}
		c.lastCmd = &sel

		handler := sel.command.Data.(func(*Console, selection) error)
		if err := handler(c, sel); err != nil {
			if errors.Is(err, ErrQuit) {
				return err
			}
			c.printf("ERROR: %v\n", err)
		}
	}
}

// Break interrupts a running go command.
func (c *Console) Break() {
	c.println()
	if state(c.state.Load()) == stateProcessingCommands {
		c.prompt()
	}
	c.state.Store(int32(stateProcessingCommands))
}

func (c *Console) print(args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.output != nil {
		fmt.Fprint(c.output, args...)
		c.output.Flush()
	}
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.output != nil {
		fmt.Fprintf(c.output, format, args...)
		c.output.Flush()
	}
}

func (c *Console) println(args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.output != nil {
		fmt.Fprintln(c.output, args...)
		c.output.Flush()
	}
}

func (c *Console) prompt() {
	if c.interactive && !c.promptOwned {
		c.print(c.settings.Prompt)
	}
}

func (c *Console) displayHelpText(command *cmd.Command) {
	if command.Usage != "" {
		c.printf("Usage: %s\n", command.Usage)
	} else {
		c.println("<no help text>")
	}
}

func (c *Console) displayCommands(t *cmd.Tree) {
	var b strings.Builder
	t.DisplayHelp(&b)
	c.print(b.String())
}

func (c *Console) onOutput(ev dbg.Event) (dbg.Status, error) {
	// Output collected for an engine command is displayed by the command.
	if c.session.Output().Active() {
		return dbg.Handled, nil
	}
	text := ev.(*dbg.OutputEvent).Text
	if strings.HasSuffix(text, "\n") {
		c.print(text)
	} else {
		c.println(text)
	}
	return dbg.Handled, nil
}

func (c *Console) onEvent(ev dbg.Event) (dbg.Status, error) {
	if c.settings.ShowEvents {
		c.println(describe(ev))
	}

	status := dbg.Handled
	switch ev := ev.(type) {
	case *dbg.BreakpointEvent:
		if c.settings.StopOnBreak {
			c.stop.Store(true)
		}
	case *dbg.ExceptionEvent:
		c.stop.Store(true)
		if ev.FirstChance {
			status = dbg.NotHandled
		}
	case *dbg.ExitProcessEvent:
		c.stop.Store(true)
	}
	return status, nil
}

func describe(ev dbg.Event) string {
	switch ev := ev.(type) {
	case *dbg.BreakpointEvent:
		if ev.Breakpoint == nil {
			return fmt.Sprintf("Breakpoint hit on thread 0x%x.", ev.Thread)
		}
		return fmt.Sprintf("Breakpoint %d hit on thread 0x%x.", ev.Breakpoint.ID(), ev.Thread)
	case *dbg.ExceptionEvent:
		chance := "second"
		if ev.FirstChance {
			chance = "first"
		}
		return fmt.Sprintf("Exception 0x%08x at 0x%x on thread 0x%x (%s chance).", ev.Code, ev.Address, ev.Thread, chance)
	case *dbg.CreateThreadEvent:
		return fmt.Sprintf("Thread 0x%x created at 0x%x.", ev.Thread, ev.StartOffset)
	case *dbg.ExitThreadEvent:
		return fmt.Sprintf("Thread 0x%x exited with code %d.", ev.Thread, ev.ExitCode)
	case *dbg.CreateProcessEvent:
		return fmt.Sprintf("Process 0x%x created: %s at 0x%x.", ev.Process, ev.Module.ModuleName, ev.Module.Base)
	case *dbg.ExitProcessEvent:
		return fmt.Sprintf("Process 0x%x exited with code %d.", ev.Process, ev.ExitCode)
	case *dbg.LoadModuleEvent:
		return fmt.Sprintf("Module %s loaded at 0x%x.", ev.ModuleName, ev.Base)
	case *dbg.UnloadModuleEvent:
		return fmt.Sprintf("Module %s unloaded from 0x%x.", ev.ImageBaseName, ev.Base)
	case *dbg.SessionStatusEvent:
		return fmt.Sprintf("Session status %d.", ev.Status)
	default:
		return fmt.Sprintf("Event %s.", ev.Kind())
	}
}
