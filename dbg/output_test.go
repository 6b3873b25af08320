// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg_test

import (
	"errors"
	"testing"

	"github.com/beevik/buggery/dbg"
	"github.com/stretchr/testify/assert"
)

func TestOutputCollector(t *testing.T) {
	var c dbg.OutputCollector

	c.Append("dropped")
	assert.Empty(t, c.Output())

	c.Start()
	assert.True(t, c.Active())
	c.Append("a")
	c.Append("b")
	c.Stop()
	c.Append("late")

	assert.False(t, c.Active())
	assert.Equal(t, []string{"a", "b"}, c.Output())
	assert.Equal(t, "ab", c.String())

	c.Start()
	assert.Empty(t, c.Output())
	c.Stop()
}

func TestCollectStopsOnFailure(t *testing.T) {
	var c dbg.OutputCollector

	out, err := c.Collect(func() error {
		c.Append("partial")
		return errors.New("command failed")
	})
	assert.Error(t, err)
	assert.Equal(t, []string{"partial"}, out)
	assert.False(t, c.Active())

	assert.Panics(t, func() {
		c.Collect(func() error { panic("boom") })
	})
	assert.False(t, c.Active())
}
