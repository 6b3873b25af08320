// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/beevik/buggery/dbg"
	"github.com/beevik/buggery/sim"
	"github.com/beevik/buggery/trace"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecorder(t *testing.T, store trace.Storage) *trace.Recorder {
	t.Helper()
	r, err := trace.NewRecorder(store, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func newTarget(t *testing.T) (*dbg.Session, *sim.Engine) {
	t.Helper()
	e := sim.New(sim.Config{})
	require.NoError(t, e.Spawn("target.exe", dbg.SpawnOptions{}))
	s, err := dbg.NewSession(e, dbg.Config{WaitTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, e
}

func runTarget(t *testing.T, s *dbg.Session, e *sim.Engine, bodies ...func(th *sim.Thread) error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Run(bodies...) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			for s.WaitForEvent(0) == nil {
			}
			return
		case <-deadline:
			t.Fatal("target did not finish")
		default:
		}
		s.WaitForEvent(0)
	}
}

func TestRecordsInSequenceOrder(t *testing.T) {
	r := newRecorder(t, trace.NewMemStorage())
	defer r.Close()

	for i := 0; i < 20; i++ {
		seq, err := r.Record(trace.Record{Kind: "output", Text: strings.Repeat("x", i)})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), seq)
	}

	recs, err := r.Records()
	require.NoError(t, err)
	require.Len(t, recs, 20)
	for i, rec := range recs {
		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.Len(t, rec.Text, i)
		assert.False(t, rec.Time.IsZero())
	}

	require.NoError(t, r.Reset())
	recs, err = r.Records()
	require.NoError(t, err)
	assert.Empty(t, recs)
	seq, err := r.Record(trace.Record{Kind: "output"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestKeyPrefixStorageSeparatesRecorders(t *testing.T) {
	store := trace.NewMemStorage()
	a := newRecorder(t, trace.KeyPrefixStorage(store, "a"))
	b := newRecorder(t, trace.KeyPrefixStorage(store, "b"))

	_, err := a.Record(trace.Record{Kind: "call"})
	require.NoError(t, err)
	_, err = b.Record(trace.Record{Kind: "return"})
	require.NoError(t, err)
	_, err = b.Record(trace.Record{Kind: "return"})
	require.NoError(t, err)

	ra, err := a.Records()
	require.NoError(t, err)
	rb, err := b.Records()
	require.NoError(t, err)
	assert.Len(t, ra, 1)
	assert.Len(t, rb, 2)

	keys, err := store.ListKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	require.NoError(t, a.Reset())
	keys, err = store.ListKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestBadgerStoreResumesNumbering(t *testing.T) {
	dir := t.TempDir()

	store, err := trace.NewBadgerStorage(dir)
	require.NoError(t, err)
	r := newRecorder(t, store)
	for i := 0; i < 3; i++ {
		_, err := r.Record(trace.Record{Kind: "breakpoint", Breakpoint: uint32(i)})
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())

	store, err = trace.NewBadgerStorage(dir)
	require.NoError(t, err)
	r = newRecorder(t, store)
	defer r.Close()

	seq, err := r.Record(trace.Record{Kind: "breakpoint", Breakpoint: 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)

	recs, err := r.Records()
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i, rec := range recs {
		assert.Equal(t, uint32(i), rec.Breakpoint)
	}

	blob, ok, err := store.Load("nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, blob)
}

func TestAttachRecordsEvents(t *testing.T) {
	s, e := newTarget(t)
	r := newRecorder(t, trace.NewMemStorage())
	defer r.Close()

	var seen []string
	require.NoError(t, s.SetEventHandler(dbg.EventOutput, func(ev dbg.Event) (dbg.Status, error) {
		seen = append(seen, ev.(*dbg.OutputEvent).Text)
		return dbg.Handled, nil
	}))
	require.NoError(t, r.Attach(s, dbg.EventOutput, dbg.EventCreateThread, dbg.EventExitThread))
	assert.True(t, r.Attached())

	runTarget(t, s, e, func(th *sim.Thread) error {
		th.Print("hello")
		return nil
	})
	assert.Equal(t, []string{"hello"}, seen)

	recs, err := r.Records()
	require.NoError(t, err)
	byKind := make(map[string]trace.Record)
	for _, rec := range recs {
		byKind[rec.Kind] = rec
	}
	require.Len(t, recs, 3)
	assert.Len(t, byKind, 3)
	assert.Equal(t, "hello", byKind["output"].Text)
	assert.NotZero(t, byKind["createthread"].Thread)
	assert.Equal(t, byKind["createthread"].Thread, byKind["exitthread"].Thread)

	require.NoError(t, r.Detach(s))
	assert.False(t, r.Attached())
	_, err = s.Execute("echo after")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "after"}, seen)
	recs, err = r.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestHookFunctionRecordsCalls(t *testing.T) {
	s, e := newTarget(t)
	e.LoadModule(sim.Module{
		Name:    "lib",
		Base:    0x180000000,
		Size:    0x1000,
		Symbols: map[string]uint64{"work": 0x100},
	})
	r := newRecorder(t, trace.NewMemStorage())
	defer r.Close()

	h, err := trace.HookFunction(s, r, "lib!work")
	require.NoError(t, err)

	runTarget(t, s, e, func(th *sim.Thread) error {
		th.SetPC(0x140001000)
		_, err := th.Call(0x180000100, func(th *sim.Thread) (uint64, error) {
			return 42, nil
		})
		return err
	})
	assert.Zero(t, h.Pending())

	recs, err := r.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	call, ret := recs[0], recs[1]
	assert.Equal(t, trace.KindCall, call.Kind)
	assert.Equal(t, trace.KindReturn, ret.Kind)
	assert.Equal(t, "lib!work", call.Function)
	assert.Equal(t, uint64(0x140001005), call.Address)
	assert.Equal(t, call.Thread, ret.Thread)
	assert.Equal(t, uint64(42), ret.Return)
	assert.GreaterOrEqual(t, ret.Duration, time.Duration(0))

	var buf bytes.Buffer
	require.NoError(t, r.Dump(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "fn=lib!work depth=0")
	assert.Contains(t, lines[1], "ret=0x2a")
}
