// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"strings"
	"sync"
)

// An OutputCollector accumulates engine output fragments between Start and
// Stop. It is not reentrant: calling Start while a collection is in
// progress discards the fragments collected so far.
type OutputCollector struct {
	mu     sync.Mutex
	active bool
	chunks []string
}

// Start begins a new collection, discarding any previous fragments.
func (c *OutputCollector) Start() {
	c.mu.Lock()
	c.active = true
	c.chunks = nil
	c.mu.Unlock()
}

// Stop ends the collection. Fragments arriving afterward are dropped.
func (c *OutputCollector) Stop() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Active reports whether a collection is in progress.
func (c *OutputCollector) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Output returns the fragments of the last collection in arrival order.
func (c *OutputCollector) Output() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.chunks))
	copy(out, c.chunks)
	return out
}

// String returns the fragments of the last collection concatenated.
func (c *OutputCollector) String() string {
	return strings.Join(c.Output(), "")
}

// Collect runs fn with collection active and returns what it produced.
// Collection stops even if fn fails or panics.
func (c *OutputCollector) Collect(fn func() error) ([]string, error) {
	c.Start()
	defer c.Stop()

	if err := fn(); err != nil {
		return c.Output(), err
	}
	return c.Output(), nil
}

// Append records a fragment if a collection is in progress.
func (c *OutputCollector) Append(text string) {
	c.mu.Lock()
	if c.active {
		c.chunks = append(c.chunks, text)
	}
	c.mu.Unlock()
}
