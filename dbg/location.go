// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"fmt"
	"strconv"
	"strings"
)

// A Location is where a breakpoint is placed: either an absolute offset in
// the target's address space or a symbolic expression (such as
// "kernel32!CreateFileW" or "main+0x10") that the engine resolves when the
// target continues.
type Location struct {
	Offset     uint64
	Expression string
}

// Address returns a concrete location.
func Address(offset uint64) Location {
	return Location{Offset: offset}
}

// Symbol returns a symbolic location.
func Symbol(expr string) Location {
	return Location{Expression: expr}
}

// IsSymbolic reports whether the location is an unresolved expression.
func (l Location) IsSymbolic() bool {
	return l.Expression != ""
}

func (l Location) String() string {
	if l.IsSymbolic() {
		return l.Expression
	}
	return fmt.Sprintf("0x%x", l.Offset)
}

// ParseLocation converts a location string into a Location. A string that
// parses strictly as a decimal number, or as a hexadecimal number with a 0x
// prefix, is a concrete address. Anything else is treated as a symbolic
// expression.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, NewError(InvalidArgument, "parse location", "empty location")
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return Address(v), nil
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		if v, err := strconv.ParseUint(s[2:], 16, 64); err == nil {
			return Address(v), nil
		}
	}
	return Symbol(s), nil
}
