// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package console

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func stringToBool(s string) (bool, error) {
	s = strings.ToLower(s)
	switch s {
	case "0", "false", "off":
		return false, nil
	case "1", "true", "on":
		return true, nil
	default:
		return false, errors.Errorf("invalid bool value '%s'", s)
	}
}

// parseNumber parses an unsigned number. Prefixed numbers (0x, 0o, 0b)
// always use their prefix's base; bare numbers are decimal unless hex is
// set.
func parseNumber(s string, hex bool) (uint64, error) {
	s = strings.ReplaceAll(s, "`", "")
	base := 0
	if hex && !hasBasePrefix(s) {
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, errors.Errorf("invalid number '%s'", s)
	}
	return v, nil
}

func hasBasePrefix(s string) bool {
	if len(s) < 2 || s[0] != '0' {
		return false
	}
	switch s[1] {
	case 'x', 'X', 'o', 'O', 'b', 'B':
		return true
	}
	return false
}

var hexString = "0123456789abcdef"

func addrToBuf(addr uint64, b []byte) {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = hexString[addr&0xf]
		addr >>= 4
	}
}

func byteToBuf(v byte, b []byte) {
	b[0] = hexString[(v>>4)&0xf]
	b[1] = hexString[v&0xf]
}

func toPrintableChar(v byte) byte {
	if v >= 32 && v < 127 {
		return v
	}
	return '.'
}
