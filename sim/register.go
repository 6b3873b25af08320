// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

// Registers contains the general-purpose register state of one simulated
// x86-64 thread. In 32-bit mode only the low halves are visible, under
// their 32-bit names.
type Registers struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP                uint64
	EFL                uint64
}

// Flags register bits.
const (
	CarryBit    = 1 << 0
	ReservedBit = 1 << 1
	ZeroBit     = 1 << 6
	SignBit     = 1 << 7
	TrapBit     = 1 << 8
)

// Init clears all registers and places the stack pointer and instruction
// pointer.
func (r *Registers) Init(sp, ip uint64) {
	*r = Registers{RSP: sp, RIP: ip, EFL: ReservedBit}
}

type regRef struct {
	get  func(r *Registers) *uint64
	mask uint64
}

func full(get func(r *Registers) *uint64) regRef {
	return regRef{get: get, mask: ^uint64(0)}
}

func low(get func(r *Registers) *uint64) regRef {
	return regRef{get: get, mask: 0xffffffff}
}

var (
	regsRAX = func(r *Registers) *uint64 { return &r.RAX }
	regsRBX = func(r *Registers) *uint64 { return &r.RBX }
	regsRCX = func(r *Registers) *uint64 { return &r.RCX }
	regsRDX = func(r *Registers) *uint64 { return &r.RDX }
	regsRSI = func(r *Registers) *uint64 { return &r.RSI }
	regsRDI = func(r *Registers) *uint64 { return &r.RDI }
	regsRBP = func(r *Registers) *uint64 { return &r.RBP }
	regsRSP = func(r *Registers) *uint64 { return &r.RSP }
	regsRIP = func(r *Registers) *uint64 { return &r.RIP }
	regsEFL = func(r *Registers) *uint64 { return &r.EFL }
)

var registers32 = map[string]regRef{
	"eax": low(regsRAX),
	"ebx": low(regsRBX),
	"ecx": low(regsRCX),
	"edx": low(regsRDX),
	"esi": low(regsRSI),
	"edi": low(regsRDI),
	"ebp": low(regsRBP),
	"esp": low(regsRSP),
	"eip": low(regsRIP),
	"efl": low(regsEFL),
}

var registers64 = map[string]regRef{
	"rax": full(regsRAX),
	"rbx": full(regsRBX),
	"rcx": full(regsRCX),
	"rdx": full(regsRDX),
	"rsi": full(regsRSI),
	"rdi": full(regsRDI),
	"rbp": full(regsRBP),
	"rsp": full(regsRSP),
	"rip": full(regsRIP),
	"r8":  full(func(r *Registers) *uint64 { return &r.R8 }),
	"r9":  full(func(r *Registers) *uint64 { return &r.R9 }),
	"r10": full(func(r *Registers) *uint64 { return &r.R10 }),
	"r11": full(func(r *Registers) *uint64 { return &r.R11 }),
	"r12": full(func(r *Registers) *uint64 { return &r.R12 }),
	"r13": full(func(r *Registers) *uint64 { return &r.R13 }),
	"r14": full(func(r *Registers) *uint64 { return &r.R14 }),
	"r15": full(func(r *Registers) *uint64 { return &r.R15 }),
	"efl": low(regsEFL),

	// 32-bit views remain addressable in 64-bit mode.
	"eax": low(regsRAX),
	"ebx": low(regsRBX),
	"ecx": low(regsRCX),
	"edx": low(regsRDX),
	"esi": low(regsRSI),
	"edi": low(regsRDI),
	"ebp": low(regsRBP),
	"esp": low(regsRSP),
	"eip": low(regsRIP),
}

func registerSet(width int) map[string]regRef {
	if width == 8 {
		return registers64
	}
	return registers32
}

// Get returns the named register as seen in a mode of the given pointer
// width.
func (r *Registers) Get(width int, name string) (uint64, bool) {
	ref, ok := registerSet(width)[name]
	if !ok {
		return 0, false
	}
	return *ref.get(r) & ref.mask, true
}

// Set assigns the named register. Writing a 32-bit view zero-extends into
// the full register, as on x86-64.
func (r *Registers) Set(width int, name string, v uint64) bool {
	ref, ok := registerSet(width)[name]
	if !ok {
		return false
	}
	*ref.get(r) = v & ref.mask
	return true
}

// Names returns the register names visible in a mode of the given pointer
// width.
func Names(width int) []string {
	set := registerSet(width)
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	return names
}

func (r *Registers) sp(width int) uint64 {
	return r.RSP & maskFor(width)
}

func (r *Registers) ip(width int) uint64 {
	return r.RIP & maskFor(width)
}

func maskFor(width int) uint64 {
	if width == 8 {
		return ^uint64(0)
	}
	return 0xffffffff
}
