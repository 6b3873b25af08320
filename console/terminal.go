// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package console

import (
	"io"
	"os"
	"strings"

	"github.com/beevik/term"
)

// termReader reads lines through a terminal line editor. The terminal is
// in raw mode only while a line is being edited, so Ctrl-C interrupts a
// running command as usual.
type termReader struct {
	c  *Console
	fd int
	t  *term.Terminal
}

func (r *termReader) ReadLine() (string, error) {
	st, err := term.MakeRawInput(r.fd)
	if err != nil {
		return "", err
	}
	defer term.Restore(r.fd, st)

	r.t.SetPrompt(r.c.settings.Prompt)
	return r.t.ReadLine()
}

// RunTerminal runs commands interactively. When in is a terminal, lines
// are read with history and tab completion of command names; otherwise
// it behaves like RunCommands.
func (c *Console) RunTerminal(in, out *os.File) error {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return c.RunCommands(in, out, true)
	}

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, c.settings.Prompt)
	if w, h, err := term.GetSize(int(out.Fd())); err == nil {
		t.SetSize(w, h)
	}
	t.AutoCompleteCallback = autocomplete

	c.promptOwned = true
	defer func() { c.promptOwned = false }()
	return c.run(&termReader{c: c, fd: fd, t: t}, t, true)
}

func autocomplete(line string, pos int, key rune) (newLine string, newPos int, ok bool) {
	if key != '\t' {
		return "", 0, false
	}

	head, tail := line[:pos], line[pos:]
	matches := cmds.Autocomplete(head)
	switch len(matches) {
	case 0:
		return "", 0, false
	case 1:
		completed := matches[0] + " "
		return completed + tail, len(completed), true
	default:
		prefix := commonPrefix(matches)
		if len(prefix) <= len(strings.TrimLeft(head, " \t")) {
			return "", 0, false
		}
		return prefix + tail, len(prefix), true
	}
}

func commonPrefix(ss []string) string {
	prefix := ss[0]
	for _, s := range ss[1:] {
		for !strings.HasPrefix(s, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
