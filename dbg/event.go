// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"fmt"
	"strings"
)

// An EventKind identifies one category of debug notification.
type EventKind uint8

// Event kinds.
const (
	EventOutput EventKind = iota
	EventBreakpoint
	EventException
	EventCreateThread
	EventExitThread
	EventCreateProcess
	EventExitProcess
	EventLoadModule
	EventUnloadModule
	EventSystemError
	EventSessionStatus
	EventDebuggeeState
	EventEngineState
	EventSymbolState
	EventInterestMask

	numEventKinds
)

var eventKindNames = [numEventKinds]string{
	EventOutput:        "output",
	EventBreakpoint:    "breakpoint",
	EventException:     "exception",
	EventCreateThread:  "createthread",
	EventExitThread:    "exitthread",
	EventCreateProcess: "createprocess",
	EventExitProcess:   "exitprocess",
	EventLoadModule:    "loadmodule",
	EventUnloadModule:  "unloadmodule",
	EventSystemError:   "systemerror",
	EventSessionStatus: "sessionstatus",
	EventDebuggeeState: "debuggeestate",
	EventEngineState:   "enginestate",
	EventSymbolState:   "symbolstate",
	EventInterestMask:  "interestmask",
}

func (k EventKind) String() string {
	if k >= numEventKinds {
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
	return eventKindNames[k]
}

// EventKinds returns every event kind in declaration order.
func EventKinds() []EventKind {
	kinds := make([]EventKind, numEventKinds)
	for i := range kinds {
		kinds[i] = EventKind(i)
	}
	return kinds
}

// ParseEventKind looks up an event kind by name, ignoring case.
func ParseEventKind(s string) (EventKind, error) {
	s = strings.ToLower(s)
	for i, name := range eventKindNames {
		if name == s {
			return EventKind(i), nil
		}
	}
	return 0, NewError(InvalidArgument, "parse event kind", "unknown event kind %q", s)
}

// An InterestMask selects the event kinds an engine reports.
type InterestMask uint32

// Interest bits.
const (
	InterestBreakpoint    InterestMask = 0x0001
	InterestException     InterestMask = 0x0002
	InterestCreateThread  InterestMask = 0x0004
	InterestExitThread    InterestMask = 0x0008
	InterestCreateProcess InterestMask = 0x0010
	InterestExitProcess   InterestMask = 0x0020
	InterestLoadModule    InterestMask = 0x0040
	InterestUnloadModule  InterestMask = 0x0080
	InterestSystemError   InterestMask = 0x0100
	InterestSessionStatus InterestMask = 0x0200
	InterestDebuggeeState InterestMask = 0x0400
	InterestEngineState   InterestMask = 0x0800
	InterestSymbolState   InterestMask = 0x1000

	InterestAll InterestMask = 0x1fff
)

var interestBits = [numEventKinds]InterestMask{
	EventBreakpoint:    InterestBreakpoint,
	EventException:     InterestException,
	EventCreateThread:  InterestCreateThread,
	EventExitThread:    InterestExitThread,
	EventCreateProcess: InterestCreateProcess,
	EventExitProcess:   InterestExitProcess,
	EventLoadModule:    InterestLoadModule,
	EventUnloadModule:  InterestUnloadModule,
	EventSystemError:   InterestSystemError,
	EventSessionStatus: InterestSessionStatus,
	EventDebuggeeState: InterestDebuggeeState,
	EventEngineState:   InterestEngineState,
	EventSymbolState:   InterestSymbolState,
}

// Interest returns the interest bit that enables reporting of the kind.
// Output and interest-mask queries are always reported and have no bit.
func (k EventKind) Interest() InterestMask {
	if k >= numEventKinds {
		return 0
	}
	return interestBits[k]
}

func (m InterestMask) String() string {
	if m == 0 {
		return "none"
	}
	var names []string
	for k, bit := range interestBits {
		if bit != 0 && m&bit != 0 {
			names = append(names, EventKind(k).String())
		}
	}
	return strings.Join(names, "|")
}

// A Status is the outcome of handling an event. It tells the engine how to
// resume the target. The zero value is Handled.
type Status uint8

// Event outcomes.
const (
	Handled Status = iota
	NotHandled
	Ignore
)

func (s Status) String() string {
	switch s {
	case Handled:
		return "handled"
	case NotHandled:
		return "not handled"
	case Ignore:
		return "ignore"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ExceptionRecord describes an exception raised in the target.
type ExceptionRecord struct {
	Code       uint32
	Flags      uint32
	Record     uint64 // address of a chained exception record
	Address    uint64
	Parameters []uint64
}

// ModuleInfo describes an executable image mapped into the target.
type ModuleInfo struct {
	ImageFileHandle uint64
	Base            uint64
	Size            uint32
	ModuleName      string
	ImageName       string
	CheckSum        uint32
	TimeDateStamp   uint32
}

// ThreadInfo describes a thread created in the target.
type ThreadInfo struct {
	Handle      uint64
	DataOffset  uint64
	StartOffset uint64
}

// A Notification is the raw form of an event as an engine reports it. Only
// the fields relevant to Kind are set.
type Notification struct {
	Kind        EventKind
	Process     uint32
	Thread      ThreadID
	Breakpoint  BreakpointID    // EventBreakpoint
	Exception   ExceptionRecord // EventException
	FirstChance bool            // EventException
	Module      ModuleInfo      // EventLoadModule, EventUnloadModule, EventCreateProcess
	ThreadInfo  ThreadInfo      // EventCreateThread, EventCreateProcess
	ExitCode    uint32          // EventExitThread, EventExitProcess
	Flags       uint32          // state changes, EventSystemError (error code)
	Argument    uint64          // state changes, EventSystemError (level)
	Status      uint32          // EventSessionStatus
	Text        string          // EventOutput
	OutputMask  uint32          // EventOutput
	Interest    InterestMask    // EventInterestMask, filled in by the notifier
}

// An Event is a typed debug notification. The set of implementations is
// closed; switch on the concrete type or on Kind.
type Event interface {
	Kind() EventKind
	isEvent()
}

// OutputEvent carries a fragment of engine output.
type OutputEvent struct {
	Mask uint32
	Text string
}

// BreakpointEvent reports a breakpoint trigger.
type BreakpointEvent struct {
	Breakpoint *Breakpoint
	Thread     ThreadID
}

// ExceptionEvent reports an exception in the target.
type ExceptionEvent struct {
	ExceptionRecord
	Thread      ThreadID
	FirstChance bool
}

// CreateThreadEvent reports a new thread.
type CreateThreadEvent struct {
	ThreadInfo
	Thread ThreadID
}

// ExitThreadEvent reports a thread exit.
type ExitThreadEvent struct {
	Thread   ThreadID
	ExitCode uint32
}

// CreateProcessEvent reports a new process and its initial thread.
type CreateProcessEvent struct {
	Process       uint32
	Thread        ThreadID
	Module        ModuleInfo
	InitialThread ThreadInfo
}

// ExitProcessEvent reports a process exit.
type ExitProcessEvent struct {
	Process  uint32
	ExitCode uint32
}

// LoadModuleEvent reports a module load.
type LoadModuleEvent struct {
	ModuleInfo
	Thread ThreadID
}

// UnloadModuleEvent reports a module unload.
type UnloadModuleEvent struct {
	ImageBaseName string
	Base          uint64
}

// SystemErrorEvent reports an error raised by the target's system.
type SystemErrorEvent struct {
	Error uint32
	Level uint32
}

// SessionStatusEvent reports a change in the debugging session.
type SessionStatusEvent struct {
	Status uint32
}

// DebuggeeStateEvent reports a change to target state.
type DebuggeeStateEvent struct {
	Flags    uint32
	Argument uint64
}

// EngineStateEvent reports a change to engine state.
type EngineStateEvent struct {
	Flags    uint32
	Argument uint64
}

// SymbolStateEvent reports a change to symbol state.
type SymbolStateEvent struct {
	Flags    uint32
	Argument uint64
}

// InterestMaskEvent is an engine's query for the current interest mask.
type InterestMaskEvent struct {
	Mask InterestMask
}

func (*OutputEvent) Kind() EventKind        { return EventOutput }
func (*BreakpointEvent) Kind() EventKind    { return EventBreakpoint }
func (*ExceptionEvent) Kind() EventKind     { return EventException }
func (*CreateThreadEvent) Kind() EventKind  { return EventCreateThread }
func (*ExitThreadEvent) Kind() EventKind    { return EventExitThread }
func (*CreateProcessEvent) Kind() EventKind { return EventCreateProcess }
func (*ExitProcessEvent) Kind() EventKind   { return EventExitProcess }
func (*LoadModuleEvent) Kind() EventKind    { return EventLoadModule }
func (*UnloadModuleEvent) Kind() EventKind  { return EventUnloadModule }
func (*SystemErrorEvent) Kind() EventKind   { return EventSystemError }
func (*SessionStatusEvent) Kind() EventKind { return EventSessionStatus }
func (*DebuggeeStateEvent) Kind() EventKind { return EventDebuggeeState }
func (*EngineStateEvent) Kind() EventKind   { return EventEngineState }
func (*SymbolStateEvent) Kind() EventKind   { return EventSymbolState }
func (*InterestMaskEvent) Kind() EventKind  { return EventInterestMask }

func (*OutputEvent) isEvent()        {}
func (*BreakpointEvent) isEvent()    {}
func (*ExceptionEvent) isEvent()     {}
func (*CreateThreadEvent) isEvent()  {}
func (*ExitThreadEvent) isEvent()    {}
func (*CreateProcessEvent) isEvent() {}
func (*ExitProcessEvent) isEvent()   {}
func (*LoadModuleEvent) isEvent()    {}
func (*UnloadModuleEvent) isEvent()  {}
func (*SystemErrorEvent) isEvent()   {}
func (*SessionStatusEvent) isEvent() {}
func (*DebuggeeStateEvent) isEvent() {}
func (*EngineStateEvent) isEvent()   {}
func (*SymbolStateEvent) isEvent()   {}
func (*InterestMaskEvent) isEvent()  {}

// translate converts a raw notification into its typed event. Breakpoint
// events get their handle from the registry.
func translate(n *Notification, reg *Registry) (Event, error) {
	switch n.Kind {
	case EventOutput:
		return &OutputEvent{Mask: n.OutputMask, Text: n.Text}, nil
	case EventBreakpoint:
		return &BreakpointEvent{Breakpoint: reg.handle(n.Breakpoint), Thread: n.Thread}, nil
	case EventException:
		return &ExceptionEvent{ExceptionRecord: n.Exception, Thread: n.Thread, FirstChance: n.FirstChance}, nil
	case EventCreateThread:
		return &CreateThreadEvent{ThreadInfo: n.ThreadInfo, Thread: n.Thread}, nil
	case EventExitThread:
		return &ExitThreadEvent{Thread: n.Thread, ExitCode: n.ExitCode}, nil
	case EventCreateProcess:
		return &CreateProcessEvent{Process: n.Process, Thread: n.Thread, Module: n.Module, InitialThread: n.ThreadInfo}, nil
	case EventExitProcess:
		return &ExitProcessEvent{Process: n.Process, ExitCode: n.ExitCode}, nil
	case EventLoadModule:
		return &LoadModuleEvent{ModuleInfo: n.Module, Thread: n.Thread}, nil
	case EventUnloadModule:
		return &UnloadModuleEvent{ImageBaseName: n.Module.ImageName, Base: n.Module.Base}, nil
	case EventSystemError:
		return &SystemErrorEvent{Error: n.Flags, Level: uint32(n.Argument)}, nil
	case EventSessionStatus:
		return &SessionStatusEvent{Status: n.Status}, nil
	case EventDebuggeeState:
		return &DebuggeeStateEvent{Flags: n.Flags, Argument: n.Argument}, nil
	case EventEngineState:
		return &EngineStateEvent{Flags: n.Flags, Argument: n.Argument}, nil
	case EventSymbolState:
		return &SymbolStateEvent{Flags: n.Flags, Argument: n.Argument}, nil
	case EventInterestMask:
		return &InterestMaskEvent{}, nil
	default:
		return nil, NewError(InvalidArgument, "translate", "unknown event kind %d", n.Kind)
	}
}
