// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg_test

import (
	"sync"
	"testing"
	"time"

	"github.com/beevik/buggery/dbg"
	"github.com/beevik/buggery/sim"
	"github.com/stretchr/testify/require"
)

// countingEngine wraps an engine and records the primitives the session
// layer calls.
type countingEngine struct {
	dbg.Engine

	mu        sync.Mutex
	masks     []dbg.InterestMask
	writes    int
	widthAsks int
	failMask  error
}

func (c *countingEngine) SetInterestMask(mask dbg.InterestMask) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failMask != nil {
		return c.failMask
	}
	c.masks = append(c.masks, mask)
	return c.Engine.SetInterestMask(mask)
}

func (c *countingEngine) WriteMemory(addr uint64, b []byte) (int, error) {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Engine.WriteMemory(addr, b)
}

func (c *countingEngine) Is64Bit() (bool, error) {
	c.mu.Lock()
	c.widthAsks++
	c.mu.Unlock()
	return c.Engine.Is64Bit()
}

func (c *countingEngine) lastMask() dbg.InterestMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.masks) == 0 {
		return 0
	}
	return c.masks[len(c.masks)-1]
}

// newTarget spawns a simulated process and attaches a session to it.
func newTarget(t *testing.T, width int) (*dbg.Session, *sim.Engine, *countingEngine) {
	t.Helper()
	e := sim.New(sim.Config{PointerWidth: width})
	require.NoError(t, e.Spawn("target.exe", dbg.SpawnOptions{}))

	ce := &countingEngine{Engine: e}
	s, err := dbg.NewSession(ce, dbg.Config{WaitTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, e, ce
}

// runTarget runs bodies on new target threads and pumps session events
// until they all finish and the event queue is drained.
func runTarget(t *testing.T, s *dbg.Session, e *sim.Engine, bodies ...func(th *sim.Thread) error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- e.Run(bodies...) }()
	pump(t, s, done)
}

// pump delivers session events until done yields and the event queue is
// drained.
func pump(t *testing.T, s *dbg.Session, done <-chan error) {
	t.Helper()
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
