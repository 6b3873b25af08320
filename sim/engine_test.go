// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/beevik/buggery/dbg"
	"github.com/beevik/buggery/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	seen  []dbg.Notification
	reply dbg.Status
}

func (r *recorder) Notify(n *dbg.Notification) dbg.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, *n)
	return r.reply
}

func (r *recorder) kinds() []dbg.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var k []dbg.EventKind
	for _, n := range r.seen {
		k = append(k, n.Kind)
	}
	return k
}

func newEngine(t *testing.T, width int) *sim.Engine {
	t.Helper()
	e := sim.New(sim.Config{PointerWidth: width})
	require.NoError(t, e.SetInterestMask(dbg.InterestAll))
	require.NoError(t, e.Spawn("target.exe", dbg.SpawnOptions{}))
	return e
}

// drain delivers events until none arrive within a short window.
func drain(e *sim.Engine, n dbg.Notifier) {
	for e.WaitForEvent(50*time.Millisecond, n) == nil {
	}
}

// pump delivers events until done is closed and the queue is empty.
func pump(t *testing.T, e *sim.Engine, n dbg.Notifier, done <-chan error) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			drain(e, n)
			return
		case <-deadline:
			t.Fatal("target did not finish")
		default:
		}
		e.WaitForEvent(20*time.Millisecond, n)
	}
}

func TestWaitTimeout(t *testing.T) {
	e := sim.New(sim.Config{})
	start := time.Now()
	err := e.WaitForEvent(100*time.Millisecond, &recorder{})
	assert.Equal(t, dbg.Timeout, dbg.KindOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestSpawnReportsProcess(t *testing.T) {
	e := newEngine(t, 8)
	r := &recorder{}
	require.NoError(t, e.WaitForEvent(time.Second, r))
	require.Len(t, r.seen, 1)
	assert.Equal(t, dbg.EventCreateProcess, r.seen[0].Kind)
	assert.Equal(t, "target", r.seen[0].Module.ModuleName)

	err := e.Spawn("other.exe", dbg.SpawnOptions{})
	assert.Equal(t, dbg.EngineFailure, dbg.KindOf(err))
}

func TestInterestFiltering(t *testing.T) {
	e := sim.New(sim.Config{})
	require.NoError(t, e.Spawn("target.exe", dbg.SpawnOptions{}))
	r := &recorder{}
	err := e.WaitForEvent(50*time.Millisecond, r)
	assert.Equal(t, dbg.Timeout, dbg.KindOf(err))
	assert.Empty(t, r.seen)
}

func TestEchoFragments(t *testing.T) {
	e := sim.New(sim.Config{})
	var got []string
	e.SetOutputCallback(func(s string) { got = append(got, s) })
	require.NoError(t, e.Execute("echo a b c"))
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got = nil
	require.NoError(t, e.Execute("echo"))
	assert.Empty(t, got)

	assert.Error(t, e.Execute("nosuchcommand"))
}

func TestRegisters(t *testing.T) {
	e := newEngine(t, 8)
	require.NoError(t, e.WriteRegister("rax", 0x1122334455667788))
	v, err := e.ReadRegister("eax")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x55667788), v)

	_, err = e.ReadRegister("xmm0")
	assert.Equal(t, dbg.BadRegister, dbg.KindOf(err))

	e32 := newEngine(t, 4)
	_, err = e32.ReadRegister("rax")
	assert.Equal(t, dbg.BadRegister, dbg.KindOf(err))
	is64, err := e32.Is64Bit()
	require.NoError(t, err)
	assert.False(t, is64)
}

func TestMemoryShortRead(t *testing.T) {
	e := sim.New(sim.Config{})
	e.Map(0x10000, 0x1000)

	b, err := e.ReadMemory(0x10ffc, 8)
	require.NoError(t, err)
	assert.Len(t, b, 4)

	_, err = e.ReadMemory(0x20000, 4)
	assert.Equal(t, dbg.EngineFailure, dbg.KindOf(err))

	n, err := e.WriteMemory(0x10ffe, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCodeBreakpoint(t *testing.T) {
	e := newEngine(t, 8)
	e.DefineSymbol("target!work", 0x140002000)

	id, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled,
		Location: dbg.Symbol("target!work+0x10"),
	})
	require.NoError(t, err)
	p, err := e.BreakpointParameters(id)
	require.NoError(t, err)
	assert.NotZero(t, p.Flags&dbg.FlagDeferred)

	r := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			th.Step(0x140002000)
			th.Step(0x140002010)
			th.Step(0x140002010)
			return nil
		})
	}()
	pump(t, e, r, done)

	var hits int
	for _, n := range r.seen {
		if n.Kind == dbg.EventBreakpoint {
			assert.Equal(t, id, n.Breakpoint)
			hits++
		}
	}
	assert.Equal(t, 2, hits)

	p, err = e.BreakpointParameters(id)
	require.NoError(t, err)
	assert.Zero(t, p.Flags&dbg.FlagDeferred)
	assert.Equal(t, uint64(0x140002010), p.Location.Offset)
}

func TestBreakpointStopsIgnoreInterest(t *testing.T) {
	e := sim.New(sim.Config{})
	require.NoError(t, e.Spawn("target.exe", dbg.SpawnOptions{}))
	id, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled | dbg.FlagOneShot,
		Location: dbg.Address(0x140001000),
	})
	require.NoError(t, err)

	r := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			th.Step(0x140001000)
			th.Print("done")
			return nil
		})
	}()
	pump(t, e, r, done)

	require.Len(t, r.seen, 2)
	assert.Equal(t, dbg.EventBreakpoint, r.seen[0].Kind)
	assert.Equal(t, id, r.seen[0].Breakpoint)
	assert.Equal(t, dbg.EventOutput, r.seen[1].Kind)
	assert.Equal(t, "done", r.seen[1].Text)
	assert.Equal(t, r.seen[0].Thread, r.seen[1].Thread)
}

func TestBreakpointUpdatedWhileTriggering(t *testing.T) {
	e := newEngine(t, 8)
	id, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled,
		Location: dbg.Address(0x140001000),
		Command:  "echo hit",
	})
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			e.SetBreakpointFlags(id, dbg.FlagEnabled)
			e.SetBreakpointCommand(id, "echo hit")
		}
	}()

	r := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			for i := 0; i < 20; i++ {
				th.Step(0x140001000)
			}
			return nil
		})
	}()
	pump(t, e, r, done)
	close(stop)
	wg.Wait()

	var hits int
	for _, k := range r.kinds() {
		if k == dbg.EventBreakpoint {
			hits++
		}
	}
	assert.Equal(t, 20, hits)
}

func TestDeferredBreakpoint(t *testing.T) {
	e := newEngine(t, 8)
	id, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled,
		Location: dbg.Symbol("late!start"),
	})
	require.NoError(t, err)
	p, err := e.BreakpointParameters(id)
	require.NoError(t, err)
	assert.NotZero(t, p.Flags&dbg.FlagDeferred)

	e.LoadModule(sim.Module{Name: "late", Base: 0x180000000, Size: 0x2000, Symbols: map[string]uint64{"start": 0x100}})

	r := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			th.Step(0x180000100)
			return nil
		})
	}()
	pump(t, e, r, done)

	assert.Contains(t, r.kinds(), dbg.EventLoadModule)
	assert.Contains(t, r.kinds(), dbg.EventBreakpoint)
	p, err = e.BreakpointParameters(id)
	require.NoError(t, err)
	assert.Zero(t, p.Flags&dbg.FlagDeferred)
}

func TestOneShotPassCountAndThreadFilter(t *testing.T) {
	e := newEngine(t, 8)
	oneShot, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled | dbg.FlagOneShot,
		Location: dbg.Address(0x140001100),
	})
	require.NoError(t, err)
	counted, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:     dbg.FlagEnabled,
		Location:  dbg.Address(0x140001200),
		PassCount: 2,
	})
	require.NoError(t, err)
	filtered, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:       dbg.FlagEnabled,
		Location:    dbg.Address(0x140001300),
		MatchThread: 0xffff,
	})
	require.NoError(t, err)

	r := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			for i := 0; i < 3; i++ {
				th.Step(0x140001100)
				th.Step(0x140001200)
				th.Step(0x140001300)
			}
			return nil
		})
	}()
	pump(t, e, r, done)

	counts := map[dbg.BreakpointID]int{}
	for _, n := range r.seen {
		if n.Kind == dbg.EventBreakpoint {
			counts[n.Breakpoint]++
		}
	}
	assert.Equal(t, 1, counts[oneShot])
	assert.Equal(t, 1, counts[counted])
	assert.Zero(t, counts[filtered])

	_, err = e.BreakpointParameters(oneShot)
	assert.Equal(t, dbg.NotFound, dbg.KindOf(err))
}

func TestDataBreakpoint(t *testing.T) {
	e := newEngine(t, 8)
	e.Map(0x50000, 0x1000)
	id, err := e.InstallBreakpoint(dbg.DataBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled,
		Location: dbg.Address(0x50010),
		Size:     4,
		Access:   dbg.AccessWrite,
	})
	require.NoError(t, err)

	r := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			if _, err := th.Load(0x50010, 4); err != nil {
				return err
			}
			if err := th.Store(0x5000e, []byte{1, 2, 3}); err != nil {
				return err
			}
			return th.Store(0x50020, []byte{1})
		})
	}()
	pump(t, e, r, done)

	var hits []dbg.BreakpointID
	for _, n := range r.seen {
		if n.Kind == dbg.EventBreakpoint {
			hits = append(hits, n.Breakpoint)
		}
	}
	assert.Equal(t, []dbg.BreakpointID{id}, hits)
}

func TestBreakpointCommandRuns(t *testing.T) {
	e := newEngine(t, 8)
	var out []string
	e.SetOutputCallback(func(s string) { out = append(out, s) })
	_, err := e.InstallBreakpoint(dbg.CodeBreakpoint, dbg.BreakpointParams{
		Flags:    dbg.FlagEnabled,
		Location: dbg.Address(0x140001000),
		Command:  "echo hit",
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			th.Step(0x140001000)
			return nil
		})
	}()
	pump(t, e, &recorder{}, done)
	assert.Equal(t, []string{"hit"}, out)
}

func TestCallPushesReturnAddress(t *testing.T) {
	e := newEngine(t, 4)
	var sp, ret uint64
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			th.SetPC(0x401000)
			v, err := th.Call(0x402000, func(th *sim.Thread) (uint64, error) {
				sp = th.SP()
				b, err := th.Load(sp, 4)
				if err != nil {
					return 0, err
				}
				ret = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
				return 42, nil
			})
			if err != nil {
				return err
			}
			eax, err := th.Reg("eax")
			if err != nil {
				return err
			}
			if v != 42 || eax != 42 || th.PC() != 0x401005 {
				t.Errorf("bad return state: v=%d eax=%d pc=%x", v, eax, th.PC())
			}
			return nil
		})
	}()
	pump(t, e, &recorder{}, done)
	assert.Equal(t, uint64(0x401005), ret)
	assert.NotZero(t, sp)
}

func TestAccessViolationRaisesException(t *testing.T) {
	e := newEngine(t, 8)
	r := &recorder{}
	done := make(chan error, 1)
	go func() {
		done <- e.Run(func(th *sim.Thread) error {
			_, err := th.Load(0xdead0000, 1)
			if dbg.KindOf(err) != dbg.EngineFailure {
				t.Errorf("expected engine failure, got %v", err)
			}
			return nil
		})
	}()
	pump(t, e, r, done)

	var found bool
	for _, n := range r.seen {
		if n.Kind == dbg.EventException {
			found = true
			assert.Equal(t, sim.ExceptionAccessViolation, n.Exception.Code)
			assert.True(t, n.FirstChance)
		}
	}
	assert.True(t, found)
}

func TestTerminateAndExitCode(t *testing.T) {
	e := newEngine(t, 8)
	require.NoError(t, e.Terminate())
	r := &recorder{}
	drain(e, r)
	assert.Contains(t, r.kinds(), dbg.EventExitProcess)
	code, ok := e.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, uint32(1), code)
	assert.Error(t, e.Detach())
}

func TestDumpRoundTrip(t *testing.T) {
	e := newEngine(t, 8)
	e.Map(0x60000, 0x1000)
	_, err := e.WriteMemory(0x60000, []byte("dumped"))
	require.NoError(t, err)
	require.NoError(t, e.WriteRegister("rbx", 0xbeef))

	path := filepath.Join(t.TempDir(), "target.dmp")
	require.NoError(t, e.WriteDump(path, dbg.DumpFull))
	require.NoError(t, e.Terminate())
	drain(e, &recorder{})

	require.NoError(t, e.OpenDump(path))
	b, err := e.ReadMemory(0x60000, 6)
	require.NoError(t, err)
	assert.Equal(t, "dumped", string(b))
	v, err := e.ReadRegister("rbx")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xbeef), v)

	r := &recorder{}
	drain(e, r)
	assert.Equal(t, []dbg.EventKind{dbg.EventCreateProcess}, r.kinds())
}

func TestSmallDumpOmitsMemory(t *testing.T) {
	e := newEngine(t, 8)
	e.Map(0x60000, 0x1000)
	path := filepath.Join(t.TempDir(), "small.dmp")
	require.NoError(t, e.WriteDump(path, dbg.DumpSmall))
	require.NoError(t, e.Terminate())
	require.NoError(t, e.OpenDump(path))

	_, err := e.ReadMemory(0x60000, 1)
	assert.Equal(t, dbg.EngineFailure, dbg.KindOf(err))
}
