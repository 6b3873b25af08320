// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package console

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/beevik/prefixtree/v2"
	"github.com/pkg/errors"
)

type settings struct {
	HexMode         bool   `doc:"parse bare numbers as hexadecimal"`
	ShowEvents      bool   `doc:"display debug events as they arrive"`
	ShowCalls       bool   `doc:"display hooked function calls"`
	StopOnBreak     bool   `doc:"stop the go command on a breakpoint"`
	WaitTimeout     int    `doc:"milliseconds to wait for each event"`
	IdleLimit       int    `doc:"idle waits before the go command returns"`
	MemDumpBytes    int    `doc:"default number of memory bytes to dump"`
	NextMemDumpAddr uint64 `doc:"address of next memory dump"`
	Prompt          string `doc:"interactive prompt"`
}

func newSettings() *settings {
	return &settings{
		HexMode:      false,
		ShowEvents:   true,
		ShowCalls:    true,
		StopOnBreak:  true,
		WaitTimeout:  250,
		IdleLimit:    4,
		MemDumpBytes: 64,
		Prompt:       "* ",
	}
}

type settingsField struct {
	name  string
	index int
	kind  reflect.Kind
	typ   reflect.Type
	doc   string
}

var (
	settingsTree   = prefixtree.New[*settingsField]()
	settingsFields []settingsField
)

func init() {
	settingsType := reflect.TypeOf(settings{})
	settingsFields = make([]settingsField, settingsType.NumField())
	for i := 0; i < len(settingsFields); i++ {
		f := settingsType.Field(i)
		doc, _ := f.Tag.Lookup("doc")
		settingsFields[i] = settingsField{
			name:  f.Name,
			index: i,
			kind:  f.Type.Kind(),
			typ:   f.Type,
			doc:   doc,
		}
		settingsTree.Add(strings.ToLower(f.Name), &settingsFields[i])
	}
}

func (s *settings) Display(w io.Writer) {
	value := reflect.ValueOf(s).Elem()
	for i, f := range settingsFields {
		v := value.Field(i)
		var s string
		switch f.kind {
		case reflect.String:
			s = fmt.Sprintf("    %-16s %q", f.name, v.String())
		case reflect.Uint64:
			s = fmt.Sprintf("    %-16s 0x%x", f.name, v.Uint())
		default:
			s = fmt.Sprintf("    %-16s %v", f.name, v)
		}
		fmt.Fprintf(w, "%-34s (%s)\n", s, f.doc)
	}
}

// Kind returns the kind of the setting matching key, which may be any
// unambiguous prefix of the setting's name.
func (s *settings) Kind(key string) reflect.Kind {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return reflect.Invalid
	}
	return f.kind
}

// Name returns the full name of the setting matching key.
func (s *settings) Name(key string) string {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return ""
	}
	return f.name
}

func (s *settings) Set(key string, value any) error {
	f, err := settingsTree.FindValue(strings.ToLower(key))
	if err != nil {
		return errors.Wrapf(err, "setting '%s'", key)
	}

	vIn := reflect.ValueOf(value)
	if (f.kind == reflect.String && vIn.Type().Kind() != reflect.String) ||
		(f.kind != reflect.String && vIn.Type().Kind() == reflect.String) ||
		!vIn.Type().ConvertibleTo(f.typ) {
		return errors.New("invalid type")
	}
	if f.kind == reflect.Int && vIn.CanUint() && vIn.Uint() > 1<<31 {
		return errors.Errorf("value out of range for '%s'", f.name)
	}

	vOut := reflect.ValueOf(s).Elem().Field(f.index)
	vOut.Set(vIn.Convert(f.typ))
	return nil
}
