// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"strings"
	"time"
)

// A ThreadID identifies a thread in the target. Zero means "any thread"
// where a thread filter is expected.
type ThreadID uint32

// A BreakpointID identifies a breakpoint installed in an engine. Ids are
// unique among the breakpoints currently installed.
type BreakpointID uint32

// BreakpointKind distinguishes code breakpoints from data breakpoints
// (watchpoints).
type BreakpointKind uint8

// Breakpoint kinds.
const (
	CodeBreakpoint BreakpointKind = iota
	DataBreakpoint
)

func (k BreakpointKind) String() string {
	if k == DataBreakpoint {
		return "data"
	}
	return "code"
}

// BreakpointFlags hold the engine-side state bits of a breakpoint.
type BreakpointFlags uint32

// Breakpoint flags.
const (
	FlagEnabled   BreakpointFlags = 1 << iota // breakpoint is armed
	FlagOneShot                               // removed by the engine after its first trigger
	FlagAdderOnly                             // only the adding client is notified
	FlagDeferred                              // location expression not yet resolved
)

// An AccessMode is the set of memory accesses that trigger a data
// breakpoint.
type AccessMode uint8

// Access mode bits.
const (
	AccessRead AccessMode = 1 << iota
	AccessWrite
	AccessExecute

	AccessReadWrite = AccessRead | AccessWrite
	AccessAll       = AccessRead | AccessWrite | AccessExecute
)

// String returns the mode in "rwx" form, with '-' for absent bits.
func (m AccessMode) String() string {
	b := []byte("---")
	if m&AccessRead != 0 {
		b[0] = 'r'
	}
	if m&AccessWrite != 0 {
		b[1] = 'w'
	}
	if m&AccessExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ParseAccessMode parses an access mode from a string made of the letters
// r, w and x in any order. Dashes are ignored.
func ParseAccessMode(s string) (AccessMode, error) {
	var m AccessMode
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			m |= AccessRead
		case 'w':
			m |= AccessWrite
		case 'x':
			m |= AccessExecute
		case '-':
		default:
			return 0, NewError(InvalidArgument, "parse access mode", "invalid access mode %q", s)
		}
	}
	if m == 0 {
		return 0, NewError(InvalidArgument, "parse access mode", "empty access mode %q", s)
	}
	return m, nil
}

// BreakpointParams describe a breakpoint's full engine-side state.
type BreakpointParams struct {
	Kind        BreakpointKind
	Flags       BreakpointFlags
	Location    Location
	Size        uint32     // data breakpoints only
	Access      AccessMode // data breakpoints only
	MatchThread ThreadID   // 0 matches any thread
	PassCount   uint32     // triggers to skip before reporting
	Command     string     // engine command run when the breakpoint fires
}

// AttachFlags modify how an engine attaches to a running process.
type AttachFlags uint32

// Attach flags.
const (
	AttachDefault        AttachFlags = 0
	AttachNonInvasive    AttachFlags = 1 << 0
	AttachExisting       AttachFlags = 1 << 1
	AttachNoSuspend      AttachFlags = 1 << 2
	AttachInvasiveResume AttachFlags = 1 << 3
)

// A DumpMode selects how much target state a dump file captures.
type DumpMode uint8

// Dump modes.
const (
	DumpDefault DumpMode = iota
	DumpSmall
	DumpFull
)

func (m DumpMode) String() string {
	switch m {
	case DumpSmall:
		return "small"
	case DumpFull:
		return "full"
	default:
		return "default"
	}
}

// DefaultSymbolPath is the symbol search path a session installs when its
// configuration does not name one.
const DefaultSymbolPath = "cache*;srv*https://msdl.microsoft.com/download/symbols"

// A Notifier receives the notification an engine reports while a wait is
// in progress. The returned status tells the engine how to resume.
type Notifier interface {
	Notify(n *Notification) Status
}

// An Engine is the native debugging capability a Session drives. Engines
// deliver notifications synchronously on the goroutine blocked in
// WaitForEvent, one per call.
//
// Engines remove one-shot breakpoints themselves after their first trigger,
// enforce thread filters and pass counts, and set FlagDeferred on symbolic
// breakpoints until the target runs and the expression resolves.
// Breakpoint notifications are reported whatever the interest mask, and
// output written by the target arrives as an EventOutput notification.
type Engine interface {
	// Command execution. Output produced by a command arrives through the
	// output callback on the caller's goroutine.
	Execute(command string) error
	SetOutputCallback(cb func(text string))

	// Notifications.
	SetInterestMask(mask InterestMask) error
	WaitForEvent(timeout time.Duration, n Notifier) error

	// Process and session lifecycle.
	Spawn(cmdline string, opts SpawnOptions) error
	Attach(pid uint32, flags AttachFlags) error
	Detach() error
	Terminate() error
	OpenDump(path string) error
	WriteDump(path string, mode DumpMode) error
	SetSymbolPath(path string) error

	// Registers of the current thread.
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, v uint64) error
	RegisterNames() ([]string, error)

	// Virtual memory. Transfers may be short.
	ReadMemory(addr uint64, n int) ([]byte, error)
	WriteMemory(addr uint64, b []byte) (int, error)

	// Breakpoints.
	InstallBreakpoint(kind BreakpointKind, p BreakpointParams) (BreakpointID, error)
	RemoveBreakpoint(id BreakpointID) error
	BreakpointParameters(id BreakpointID) (BreakpointParams, error)
	SetBreakpointFlags(id BreakpointID, flags BreakpointFlags) error
	SetBreakpointCommand(id BreakpointID, command string) error
	SetBreakpointLocation(id BreakpointID, loc Location) error
	SetBreakpointDataParameters(id BreakpointID, size uint32, access AccessMode) error
	SetBreakpointMatchThread(id BreakpointID, tid ThreadID) error
	SetBreakpointPassCount(id BreakpointID, count uint32) error

	// Target architecture.
	Is64Bit() (bool, error)
}

// SpawnOptions modify process creation.
type SpawnOptions struct {
	FollowForks bool // also debug child processes
}
