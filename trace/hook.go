// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trace

import (
	"time"

	"github.com/beevik/buggery/dbg"
)

// RecordCall records entry into function and returns the entry time.
func (r *Recorder) RecordCall(function string, c *dbg.Call) (time.Time, error) {
	start := r.now()
	_, err := r.Record(Record{
		Time:     start,
		Kind:     KindCall,
		Thread:   uint32(c.Thread),
		Address:  c.ReturnAddress,
		Function: function,
		Depth:    c.Depth,
	})
	return start, err
}

// RecordReturn records the return of a call to function entered at start,
// and returns the time spent in the call.
func (r *Recorder) RecordReturn(function string, c *dbg.Call, ret uint64, start time.Time) (time.Duration, error) {
	end := r.now()
	elapsed := end.Sub(start)
	_, err := r.Record(Record{
		Time:     end,
		Kind:     KindReturn,
		Thread:   uint32(c.Thread),
		Address:  c.ReturnAddress,
		Function: function,
		Depth:    c.Depth,
		Return:   ret,
		Duration: elapsed,
	})
	return elapsed, err
}

// HookFunction intercepts the function at location and records a call
// record on entry and a return record, with the return value and the
// time spent, on exit.
func HookFunction(s *dbg.Session, r *Recorder, location string) (*dbg.Interceptor[time.Time], error) {
	enter := func(c *dbg.Call) (time.Time, error) {
		return r.RecordCall(location, c)
	}
	exit := func(c *dbg.Call, ret uint64, start time.Time) error {
		_, err := r.RecordReturn(location, c, ret, start)
		return err
	}
	return dbg.HookFunction(s, location, enter, exit)
}
