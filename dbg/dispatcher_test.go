// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/beevik/buggery/dbg"
	"github.com/beevik/buggery/sim"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnhandledEventIsHandled(t *testing.T) {
	s, _, _ := newTarget(t, 8)
	for _, k := range dbg.EventKinds() {
		status := s.Dispatcher().Notify(&dbg.Notification{Kind: k})
		assert.Equal(t, dbg.Handled, status, k.String())
	}
}

func TestHandlerStatus(t *testing.T) {
	s, _, _ := newTarget(t, 8)
	d := s.Dispatcher()

	require.NoError(t, d.SetHandler(dbg.EventException, func(ev dbg.Event) (dbg.Status, error) {
		return dbg.NotHandled, nil
	}))
	assert.Equal(t, dbg.NotHandled, d.Dispatch(&dbg.ExceptionEvent{}))

	require.NoError(t, d.SetHandler(dbg.EventException, func(ev dbg.Event) (dbg.Status, error) {
		return dbg.Ignore, nil
	}))
	assert.Equal(t, dbg.Ignore, d.Dispatch(&dbg.ExceptionEvent{}))

	require.NoError(t, d.SetHandler(dbg.EventException, nil))
	assert.Equal(t, dbg.Handled, d.Dispatch(&dbg.ExceptionEvent{}))

	assert.Error(t, d.SetHandler(dbg.EventKind(200), nil))
}

func TestFailingHandlerIgnores(t *testing.T) {
	var buf bytes.Buffer
	s, err := dbg.NewSession(sim.New(sim.Config{}), dbg.Config{Logger: zerolog.New(&buf)})
	require.NoError(t, err)
	defer s.Close()
	d := s.Dispatcher()

	handlers := map[string]struct {
		h   dbg.Handler
		err string
	}{
		"panic": {
			h: func(ev dbg.Event) (dbg.Status, error) {
				panic("boom")
			},
			err: "panic: boom",
		},
		"error": {
			h: func(ev dbg.Event) (dbg.Status, error) {
				return dbg.Handled, errors.New("failed")
			},
			err: "failed",
		},
		"bad status": {
			h: func(ev dbg.Event) (dbg.Status, error) {
				return dbg.Status(9), nil
			},
			err: "invalid status 9",
		},
	}
	for name, tt := range handlers {
		buf.Reset()
		require.NoError(t, d.SetHandler(dbg.EventCreateThread, tt.h))
		assert.Equal(t, dbg.Ignore, d.Dispatch(&dbg.CreateThreadEvent{}), name)
		assert.Contains(t, buf.String(), `"message":"event handler failed"`, name)
		assert.Contains(t, buf.String(), `"error":"`+tt.err+`"`, name)
		assert.Contains(t, buf.String(), `"level":"error"`, name)
	}

	// The dispatcher keeps working after a failure.
	buf.Reset()
	require.NoError(t, d.SetHandler(dbg.EventCreateThread, func(ev dbg.Event) (dbg.Status, error) {
		return dbg.NotHandled, nil
	}))
	assert.Equal(t, dbg.NotHandled, d.Dispatch(&dbg.CreateThreadEvent{}))
	assert.NotContains(t, buf.String(), "event handler failed")
}

func TestNotifyTranslatesEveryKind(t *testing.T) {
	s, _, _ := newTarget(t, 8)
	d := s.Dispatcher()
	require.NoError(t, s.SetInterestMask(dbg.InterestAll))

	var got []dbg.EventKind
	for _, k := range dbg.EventKinds() {
		require.NoError(t, d.SetHandler(k, func(ev dbg.Event) (dbg.Status, error) {
			got = append(got, ev.Kind())
			return dbg.Handled, nil
		}))
	}

	var want []dbg.EventKind
	for _, k := range dbg.EventKinds() {
		d.Notify(&dbg.Notification{Kind: k})
		if k != dbg.EventInterestMask {
			want = append(want, k)
		}
	}
	assert.Equal(t, want, got)

	assert.Equal(t, dbg.Ignore, d.Notify(&dbg.Notification{Kind: dbg.EventKind(99)}))
}

func TestNotifyPayloads(t *testing.T) {
	s, _, _ := newTarget(t, 8)
	d := s.Dispatcher()

	var ev dbg.Event
	capture := func(e dbg.Event) (dbg.Status, error) {
		ev = e
		return dbg.Handled, nil
	}
	for _, k := range dbg.EventKinds() {
		require.NoError(t, d.SetHandler(k, capture))
	}

	d.Notify(&dbg.Notification{
		Kind:        dbg.EventException,
		Thread:      7,
		FirstChance: true,
		Exception:   dbg.ExceptionRecord{Code: 0xc0000005, Address: 0x1234, Parameters: []uint64{1, 0x10}},
	})
	ex, ok := ev.(*dbg.ExceptionEvent)
	require.True(t, ok)
	assert.Equal(t, uint32(0xc0000005), ex.Code)
	assert.Equal(t, uint64(0x1234), ex.Address)
	assert.Equal(t, []uint64{1, 0x10}, ex.Parameters)
	assert.True(t, ex.FirstChance)
	assert.Equal(t, dbg.ThreadID(7), ex.Thread)

	d.Notify(&dbg.Notification{
		Kind:   dbg.EventUnloadModule,
		Module: dbg.ModuleInfo{ImageName: "lib.dll", Base: 0x7000},
	})
	um, ok := ev.(*dbg.UnloadModuleEvent)
	require.True(t, ok)
	assert.Equal(t, "lib.dll", um.ImageBaseName)
	assert.Equal(t, uint64(0x7000), um.Base)

	d.Notify(&dbg.Notification{Kind: dbg.EventExitProcess, Process: 12, ExitCode: 3})
	assert.Equal(t, &dbg.ExitProcessEvent{Process: 12, ExitCode: 3}, ev)

	require.NoError(t, s.SetInterestMask(dbg.InterestException|dbg.InterestLoadModule))
	n := &dbg.Notification{Kind: dbg.EventInterestMask}
	assert.Equal(t, dbg.Handled, d.Notify(n))
	assert.Equal(t, dbg.InterestException|dbg.InterestLoadModule, n.Interest)
}

func TestInterestMaskPushedToEngine(t *testing.T) {
	s, _, ce := newTarget(t, 8)

	require.NoError(t, s.SetEventHandler(dbg.EventException, func(ev dbg.Event) (dbg.Status, error) {
		return dbg.Handled, nil
	}))
	assert.True(t, s.HasInterest(dbg.InterestException))
	assert.Equal(t, dbg.InterestException, ce.lastMask())

	require.NoError(t, s.AddInterest(dbg.InterestLoadModule))
	assert.Equal(t, dbg.InterestException|dbg.InterestLoadModule, ce.lastMask())

	err := s.SetInterestMask(0x10000)
	assert.Equal(t, dbg.InvalidArgument, dbg.KindOf(err))
	assert.Equal(t, dbg.InterestException|dbg.InterestLoadModule, s.Dispatcher().InterestMask())

	ce.failMask = dbg.NewError(dbg.EngineFailure, "set interest mask", "refused")
	err = s.AddInterest(dbg.InterestExitProcess)
	assert.Equal(t, dbg.EngineFailure, dbg.KindOf(err))
	assert.False(t, s.HasInterest(dbg.InterestExitProcess))
	ce.failMask = nil

	// Output handlers need no interest bit.
	require.NoError(t, s.SetEventHandler(dbg.EventOutput, func(ev dbg.Event) (dbg.Status, error) {
		return dbg.Handled, nil
	}))
	assert.Equal(t, dbg.InterestException|dbg.InterestLoadModule, s.Dispatcher().InterestMask())
}

func TestUninterestingEventsAreNotDelivered(t *testing.T) {
	s, e, _ := newTarget(t, 8)

	var kinds []dbg.EventKind
	record := func(ev dbg.Event) (dbg.Status, error) {
		kinds = append(kinds, ev.Kind())
		return dbg.Handled, nil
	}
	require.NoError(t, s.Dispatcher().SetHandler(dbg.EventCreateThread, record))
	require.NoError(t, s.SetEventHandler(dbg.EventExitThread, record))

	runTarget(t, s, e, func(th *sim.Thread) error { return nil })
	assert.Equal(t, []dbg.EventKind{dbg.EventExitThread}, kinds)
}

func TestBreakpointCallbackBeforeHandler(t *testing.T) {
	s, e, _ := newTarget(t, 8)

	var calls []string
	require.NoError(t, s.SetEventHandler(dbg.EventBreakpoint, func(ev dbg.Event) (dbg.Status, error) {
		calls = append(calls, "handler")
		return dbg.NotHandled, nil
	}))
	withCB, err := s.Breakpoint("0x140001100", func(ev *dbg.BreakpointEvent) (dbg.Status, error) {
		calls = append(calls, "callback")
		return dbg.Handled, nil
	})
	require.NoError(t, err)
	plain, err := s.Breakpoints().CreateCodeBreakpoint(dbg.Address(0x140001200), dbg.BreakpointOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, withCB.ID(), plain.ID())

	runTarget(t, s, e, func(th *sim.Thread) error {
		th.Step(0x140001100)
		th.Step(0x140001200)
		return nil
	})
	assert.Equal(t, []string{"callback", "handler"}, calls)
}

func TestBreakpointCallbackFailureIgnores(t *testing.T) {
	s, _, _ := newTarget(t, 8)
	bp, err := s.Breakpoint("0x140001100", func(ev *dbg.BreakpointEvent) (dbg.Status, error) {
		panic("callback failed")
	})
	require.NoError(t, err)

	status := s.Dispatcher().Notify(&dbg.Notification{Kind: dbg.EventBreakpoint, Breakpoint: bp.ID()})
	assert.Equal(t, dbg.Ignore, status)
}
