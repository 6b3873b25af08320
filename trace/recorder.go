// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trace records debug events and intercepted function calls into
// a Storage. Records are msgpack-encoded and zstd-compressed.
package trace

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beevik/buggery/dbg"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Record kinds written by function hooks. Event records use the event
// kind's name.
const (
	KindCall   = "call"
	KindReturn = "return"
)

// A Record is one entry in a trace.
type Record struct {
	Seq        uint64        `msgpack:"seq"`
	Time       time.Time     `msgpack:"time"`
	Kind       string        `msgpack:"kind"`
	Thread     uint32        `msgpack:"thread,omitempty"`
	Breakpoint uint32        `msgpack:"bp,omitempty"`
	Address    uint64        `msgpack:"addr,omitempty"`
	Code       uint32        `msgpack:"code,omitempty"`
	Text       string        `msgpack:"text,omitempty"`
	Function   string        `msgpack:"fn,omitempty"`
	Depth      int           `msgpack:"depth,omitempty"`
	Return     uint64        `msgpack:"ret,omitempty"`
	Duration   time.Duration `msgpack:"dur,omitempty"`
}

// String formats the record as a single line.
func (r *Record) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d %s %-13s", r.Seq, r.Time.Format("15:04:05.000000"), r.Kind)
	if r.Thread != 0 {
		fmt.Fprintf(&b, " thread=%#x", r.Thread)
	}
	if r.Breakpoint != 0 {
		fmt.Fprintf(&b, " bp=%d", r.Breakpoint)
	}
	if r.Function != "" {
		fmt.Fprintf(&b, " fn=%s depth=%d", r.Function, r.Depth)
	}
	if r.Address != 0 {
		fmt.Fprintf(&b, " addr=%#x", r.Address)
	}
	if r.Code != 0 {
		fmt.Fprintf(&b, " code=%#08x", r.Code)
	}
	if r.Kind == KindReturn {
		fmt.Fprintf(&b, " ret=%#x time=%s", r.Return, r.Duration)
	}
	if r.Text != "" {
		fmt.Fprintf(&b, " %q", r.Text)
	}
	return b.String()
}

// A Recorder appends records to a Storage. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	store Storage
	log   zerolog.Logger
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	seq   uint64
	now   func() time.Time
	saved map[dbg.EventKind]dbg.Handler
}

// NewRecorder returns a recorder writing to store. Numbering continues
// after any records the store already holds.
func NewRecorder(store Storage, log zerolog.Logger) (*Recorder, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, errors.Wrap(err, "new recorder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "new recorder")
	}
	r := &Recorder{
		store: store,
		log:   log.With().Str("component", "trace").Logger(),
		enc:   enc,
		dec:   dec,
		now:   time.Now,
		saved: make(map[dbg.EventKind]dbg.Handler),
	}

	keys, err := store.ListKeys()
	if err != nil {
		r.Close()
		return nil, errors.Wrap(err, "new recorder")
	}
	for _, k := range keys {
		if n, err := strconv.ParseUint(k, 16, 64); err == nil && n > r.seq {
			r.seq = n
		}
	}
	return r, nil
}

func key(seq uint64) string {
	return fmt.Sprintf("%016x", seq)
}

// Record stores rec and returns its sequence number. A zero Time is
// replaced by the current time.
func (r *Recorder) Record(rec Record) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec.Seq = r.seq
	if rec.Time.IsZero() {
		rec.Time = r.now()
	}
	blob, err := msgpack.Marshal(&rec)
	if err != nil {
		return 0, errors.Wrap(err, "encode trace record")
	}
	if err := r.store.Save(key(rec.Seq), r.enc.EncodeAll(blob, nil)); err != nil {
		return 0, errors.Wrap(err, "save trace record")
	}
	return rec.Seq, nil
}

// Records returns every stored record in sequence order.
func (r *Recorder) Records() ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys, err := r.store.ListKeys()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	recs := make([]Record, 0, len(keys))
	for _, k := range keys {
		blob, ok, err := r.store.Load(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		raw, err := r.dec.DecodeAll(blob, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "decompress trace record %s", k)
		}
		var rec Record
		if err := msgpack.Unmarshal(raw, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode trace record %s", k)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Dump writes every record to w, one per line.
func (r *Recorder) Dump(w io.Writer) error {
	recs, err := r.Records()
	if err != nil {
		return err
	}
	for i := range recs {
		if _, err := fmt.Fprintln(w, recs[i].String()); err != nil {
			return err
		}
	}
	return nil
}

// Reset deletes every record and restarts numbering.
func (r *Recorder) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Clear(); err != nil {
		return err
	}
	r.seq = 0
	return nil
}

// Close releases the codecs and closes the store.
func (r *Recorder) Close() error {
	var result *multierror.Error
	if err := r.enc.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	r.dec.Close()
	if err := r.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Handler returns an event handler that records each event and then
// passes it to next. A nil next leaves the event Handled. Storage
// failures are logged and do not change the event's outcome.
func (r *Recorder) Handler(next dbg.Handler) dbg.Handler {
	return func(ev dbg.Event) (dbg.Status, error) {
		if _, err := r.Record(recordFor(ev)); err != nil {
			r.log.Error().Err(err).Stringer("kind", ev.Kind()).Msg("trace record failed")
		}
		if next == nil {
			return dbg.Handled, nil
		}
		return next(ev)
	}
}

// Attach wraps the session's handlers for kinds so that their events are
// recorded. With no kinds, every reportable kind is traced. Breakpoints
// that carry their own callback bypass the breakpoint handler and are not
// recorded.
func (r *Recorder) Attach(s *dbg.Session, kinds ...dbg.EventKind) error {
	if len(kinds) == 0 {
		for _, k := range dbg.EventKinds() {
			if k != dbg.EventInterestMask {
				kinds = append(kinds, k)
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range kinds {
		if _, ok := r.saved[k]; ok {
			continue
		}
		prev := s.Dispatcher().Handler(k)
		if err := s.SetEventHandler(k, r.Handler(prev)); err != nil {
			return err
		}
		r.saved[k] = prev
	}
	r.log.Debug().Int("kinds", len(r.saved)).Msg("trace attached")
	return nil
}

// Detach restores the handlers Attach replaced. The interest mask is
// left as is.
func (r *Recorder) Detach(s *dbg.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result *multierror.Error
	for k, prev := range r.saved {
		if err := s.Dispatcher().SetHandler(k, prev); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		delete(r.saved, k)
	}
	return result.ErrorOrNil()
}

// Attached reports whether the recorder is wrapping any handlers.
func (r *Recorder) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved) > 0
}

func recordFor(ev dbg.Event) Record {
	rec := Record{Kind: ev.Kind().String()}
	switch ev := ev.(type) {
	case *dbg.OutputEvent:
		rec.Text = ev.Text
	case *dbg.BreakpointEvent:
		rec.Thread = uint32(ev.Thread)
		if ev.Breakpoint != nil {
			rec.Breakpoint = uint32(ev.Breakpoint.ID())
			if off, err := ev.Breakpoint.Offset(); err == nil {
				rec.Address = off
			}
		}
	case *dbg.ExceptionEvent:
		rec.Thread = uint32(ev.Thread)
		rec.Address = ev.Address
		rec.Code = ev.Code
	case *dbg.CreateThreadEvent:
		rec.Thread = uint32(ev.Thread)
		rec.Address = ev.StartOffset
	case *dbg.ExitThreadEvent:
		rec.Thread = uint32(ev.Thread)
		rec.Code = ev.ExitCode
	case *dbg.CreateProcessEvent:
		rec.Thread = uint32(ev.Thread)
		rec.Address = ev.Module.Base
		rec.Text = ev.Module.ModuleName
	case *dbg.ExitProcessEvent:
		rec.Code = ev.ExitCode
	case *dbg.LoadModuleEvent:
		rec.Thread = uint32(ev.Thread)
		rec.Address = ev.Base
		rec.Text = ev.ModuleName
	case *dbg.UnloadModuleEvent:
		rec.Address = ev.Base
		rec.Text = ev.ImageBaseName
	case *dbg.SystemErrorEvent:
		rec.Code = ev.Error
	case *dbg.SessionStatusEvent:
		rec.Code = ev.Status
	case *dbg.DebuggeeStateEvent:
		rec.Code, rec.Address = ev.Flags, ev.Argument
	case *dbg.EngineStateEvent:
		rec.Code, rec.Address = ev.Flags, ev.Argument
	case *dbg.SymbolStateEvent:
		rec.Code, rec.Address = ev.Flags, ev.Argument
	}
	return rec
}
