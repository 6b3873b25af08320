// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package console

import "github.com/beevik/cmd"

var cmds *cmd.Tree

func init() {
	root := cmd.NewTree(cmd.TreeDescriptor{Name: "buggery"})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "help",
		Brief:       "Display help",
		Description: "Display help for a command.",
		Usage:       "help [<command>]",
		Data:        (*Console).cmdHelp,
	})

	// Session commands
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "spawn",
		Brief: "Start a process",
		Description: "Start a new process from a command line and attach" +
			" to it. Use -f before the command line to follow child" +
			" processes.",
		Usage: "spawn [-f] <command line>",
		Data:  (*Console).cmdSpawn,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "attach",
		Brief: "Attach to a process",
		Description: "Attach to a running process by id. Pass" +
			" noninvasive to observe the process without taking control of" +
			" it.",
		Usage: "attach <pid> [noninvasive|existing|nosuspend]",
		Data:  (*Console).cmdAttach,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "detach",
		Brief:       "Detach from the process",
		Description: "Detach from the target process and leave it running.",
		Usage:       "detach",
		Data:        (*Console).cmdDetach,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "terminate",
		Brief:       "Terminate the process",
		Description: "Terminate the target process.",
		Usage:       "terminate",
		Data:        (*Console).cmdTerminate,
	})

	// Dump commands
	du := root.AddSubtree(cmd.TreeDescriptor{Name: "dump", Brief: "Dump file commands"})
	du.AddCommand(cmd.CommandDescriptor{
		Name:  "write",
		Brief: "Write a dump file",
		Description: "Write the target's state to a dump file. A small" +
			" dump holds no memory, the default dump holds the thread stacks" +
			" and a full dump holds all memory.",
		Usage: "dump write <filename> [small|default|full]",
		Data:  (*Console).cmdDumpWrite,
	})
	du.AddCommand(cmd.CommandDescriptor{
		Name:        "open",
		Brief:       "Open a dump file",
		Description: "Load a dump file as the debugging target.",
		Usage:       "dump open <filename>",
		Data:        (*Console).cmdDumpOpen,
	})

	// Breakpoint commands
	bp := root.AddSubtree(cmd.TreeDescriptor{Name: "breakpoint", Brief: "Breakpoint commands"})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "list",
		Brief:       "List breakpoints",
		Description: "List all breakpoints, watchpoints included.",
		Usage:       "breakpoint list",
		Data:        (*Console).cmdBreakpointList,
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:  "add",
		Brief: "Add a breakpoint",
		Description: "Add a code breakpoint at an address or symbol" +
			" expression such as kernel32!CreateFileW. The breakpoint starts" +
			" enabled. An optional engine command runs each time the" +
			" breakpoint is hit.",
		Usage: "breakpoint add <location> [<command>]",
		Data:  (*Console).cmdBreakpointAdd,
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "remove",
		Brief:       "Remove a breakpoint",
		Description: "Remove a breakpoint by id, or every breakpoint with *.",
		Usage:       "breakpoint remove <id>|*",
		Data:        (*Console).cmdBreakpointRemove,
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "enable",
		Brief:       "Enable a breakpoint",
		Description: "Enable a previously added breakpoint.",
		Usage:       "breakpoint enable <id>",
		Data:        (*Console).cmdBreakpointEnable,
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:  "disable",
		Brief: "Disable a breakpoint",
		Description: "Disable a previously added breakpoint. This" +
			" prevents the breakpoint from being hit while the target runs.",
		Usage: "breakpoint disable <id>",
		Data:  (*Console).cmdBreakpointDisable,
	})

	// Watchpoint commands
	wp := root.AddSubtree(cmd.TreeDescriptor{Name: "watchpoint", Brief: "Watchpoint commands"})
	wp.AddCommand(cmd.CommandDescriptor{
		Name:        "list",
		Brief:       "List watchpoints",
		Description: "List all data breakpoints.",
		Usage:       "watchpoint list",
		Data:        (*Console).cmdWatchpointList,
	})
	wp.AddCommand(cmd.CommandDescriptor{
		Name:  "add",
		Brief: "Add a watchpoint",
		Description: "Add a data breakpoint covering size bytes at the" +
			" location. The size must be 1, 2, 4 or 8 and the address must" +
			" be aligned to it. The mode combines r (read), w (write) and" +
			" x (execute); x requires a size of 1.",
		Usage: "watchpoint add <location> <size> <mode>",
		Data:  (*Console).cmdWatchpointAdd,
	})
	wp.AddCommand(cmd.CommandDescriptor{
		Name:        "remove",
		Brief:       "Remove a watchpoint",
		Description: "Remove a data breakpoint by id.",
		Usage:       "watchpoint remove <id>",
		Data:        (*Console).cmdBreakpointRemove,
	})

	// Hook commands
	ho := root.AddSubtree(cmd.TreeDescriptor{Name: "hook", Brief: "Function hook commands"})
	ho.AddCommand(cmd.CommandDescriptor{
		Name:  "add",
		Brief: "Hook a function",
		Description: "Intercept calls to the function at the location." +
			" Each call and return is displayed, and recorded when a trace" +
			" is running.",
		Usage: "hook add <location>",
		Data:  (*Console).cmdHookAdd,
	})
	ho.AddCommand(cmd.CommandDescriptor{
		Name:  "remove",
		Brief: "Unhook a function",
		Description: "Remove a function hook. Calls already in progress" +
			" still report their return unless all is given.",
		Usage: "hook remove <location> [all]",
		Data:  (*Console).cmdHookRemove,
	})
	ho.AddCommand(cmd.CommandDescriptor{
		Name:        "list",
		Brief:       "List function hooks",
		Description: "List hooked functions and their pending calls.",
		Usage:       "hook list",
		Data:        (*Console).cmdHookList,
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:  "go",
		Brief: "Process debug events",
		Description: "Let the target run, processing debug events as they" +
			" arrive. Processing stops at a breakpoint, an exception, the" +
			" end of the process, after a run of idle waits, or when the" +
			" user types Ctrl-C.",
		Usage: "go",
		Data:  (*Console).cmdGo,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "interest",
		Brief: "View or change the interest mask",
		Description: "When used without arguments, this command displays" +
			" the event kinds the engine reports. Otherwise the mask is set" +
			" to the named kinds. Use all or none for every kind or no kind.",
		Usage: "interest [<kind> ...]",
		Data:  (*Console).cmdInterest,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "register",
		Brief: "View or change register values",
		Description: "When used without arguments, this command displays" +
			" the current thread's registers. When used with arguments, it" +
			" changes the value of a register.",
		Usage: "register [<name> <value>]",
		Data:  (*Console).cmdRegister,
	})

	// Memory commands
	me := root.AddSubtree(cmd.TreeDescriptor{Name: "memory", Brief: "Memory commands"})
	me.AddCommand(cmd.CommandDescriptor{
		Name:  "dump",
		Brief: "Dump memory at address",
		Description: "Dump the contents of memory starting from the" +
			" specified address. The number of bytes to dump may be" +
			" specified as an option. If no address is specified, the" +
			" memory dump continues from where the last dump left off.",
		Usage: "memory dump [<address>] [<bytes>]",
		Data:  (*Console).cmdMemoryDump,
	})
	me.AddCommand(cmd.CommandDescriptor{
		Name:  "set",
		Brief: "Set memory at address",
		Description: "Set the contents of memory starting from the specified" +
			" address. The values to assign should be a series of" +
			" space-separated byte values.",
		Usage: "memory set <address> <byte> [<byte> ...]",
		Data:  (*Console).cmdMemorySet,
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:  "engine",
		Brief: "Run an engine command",
		Description: "Pass a command line to the debug engine's own" +
			" command interpreter and display its output.",
		Usage: "engine <command>",
		Data:  (*Console).cmdEngine,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "execute",
		Brief: "Execute a script file",
		Description: "Load a script file from disk and execute the" +
			" commands it contains.",
		Usage: "execute <filename>",
		Data:  (*Console).cmdExecute,
	})

	// Trace commands
	tr := root.AddSubtree(cmd.TreeDescriptor{Name: "trace", Brief: "Event trace commands"})
	tr.AddCommand(cmd.CommandDescriptor{
		Name:  "start",
		Brief: "Start recording events",
		Description: "Record debug events of the named kinds, or of every" +
			" kind if none are named.",
		Usage: "trace start [<kind> ...]",
		Data:  (*Console).cmdTraceStart,
	})
	tr.AddCommand(cmd.CommandDescriptor{
		Name:        "stop",
		Brief:       "Stop recording events",
		Description: "Stop recording debug events. Recorded events are kept.",
		Usage:       "trace stop",
		Data:        (*Console).cmdTraceStop,
	})
	tr.AddCommand(cmd.CommandDescriptor{
		Name:        "dump",
		Brief:       "Display recorded events",
		Description: "Display every recorded event and function call.",
		Usage:       "trace dump",
		Data:        (*Console).cmdTraceDump,
	})
	tr.AddCommand(cmd.CommandDescriptor{
		Name:        "clear",
		Brief:       "Delete recorded events",
		Description: "Delete every recorded event and function call.",
		Usage:       "trace clear",
		Data:        (*Console).cmdTraceClear,
	})
	tr.AddCommand(cmd.CommandDescriptor{
		Name:  "hook",
		Brief: "Record calls to a function",
		Description: "Intercept calls to the function at the location and" +
			" record each call and return without displaying them.",
		Usage: "trace hook <location>",
		Data:  (*Console).cmdTraceHook,
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:  "set",
		Brief: "Set a configuration variable",
		Description: "Set the value of a configuration variable. To see the" +
			" current values of all configuration variables, type set" +
			" without any arguments.",
		Usage: "set [<var> <value>]",
		Data:  (*Console).cmdSet,
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "quit",
		Brief:       "Quit the program",
		Description: "Quit the program.",
		Usage:       "quit",
		Data:        (*Console).cmdQuit,
	})

	// Add command shortcuts.
	root.AddShortcut("bl", "breakpoint list")
	root.AddShortcut("ba", "breakpoint add")
	root.AddShortcut("br", "breakpoint remove")
	root.AddShortcut("be", "breakpoint enable")
	root.AddShortcut("bd", "breakpoint disable")
	root.AddShortcut("wl", "watchpoint list")
	root.AddShortcut("wa", "watchpoint add")
	root.AddShortcut("wr", "watchpoint remove")
	root.AddShortcut("g", "go")
	root.AddShortcut("m", "memory dump")
	root.AddShortcut("ms", "memory set")
	root.AddShortcut("r", "register")
	root.AddShortcut("x", "engine")
	root.AddShortcut("q", "quit")
	root.AddShortcut("?", "help")

	cmds = root
}
