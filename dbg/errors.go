// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dbg

import (
	"fmt"

	"github.com/pkg/errors"
)

// An ErrorKind classifies the failures reported by a session and by the
// engines it drives.
type ErrorKind int

// Error kinds.
const (
	KindUnknown ErrorKind = iota
	BadRegister
	ShortTransfer
	Timeout
	EngineFailure
	NotFound
	InvalidArgument
)

var errorKindNames = [...]string{
	KindUnknown:     "unknown",
	BadRegister:     "bad register",
	ShortTransfer:   "short transfer",
	Timeout:         "timeout",
	EngineFailure:   "engine failure",
	NotFound:        "not found",
	InvalidArgument: "invalid argument",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(errorKindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return errorKindNames[k]
}

// An Error is returned by session operations and engine primitives. Op
// names the failing operation; Err, if present, is the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Sentinel errors, one per kind. Use errors.Is to test an error's kind.
var (
	ErrBadRegister     = &Error{Kind: BadRegister}
	ErrShortTransfer   = &Error{Kind: ShortTransfer}
	ErrTimeout         = &Error{Kind: Timeout}
	ErrEngineFailure   = &Error{Kind: EngineFailure}
	ErrNotFound        = &Error{Kind: NotFound}
	ErrInvalidArgument = &Error{Kind: InvalidArgument}
)

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Op + ": " + e.Kind.String()
	case e.Op == "":
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind. This lets the
// package sentinels match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// NewError returns an error of the given kind for operation op. The
// message, if not empty, is formatted into the cause.
func NewError(kind ErrorKind, op string, format string, args ...any) error {
	e := &Error{Kind: kind, Op: op}
	if format != "" {
		e.Err = errors.Errorf(format, args...)
	}
	return e
}

// WrapError returns an error of the given kind for operation op that wraps
// cause. A nil cause yields nil.
func WrapError(kind ErrorKind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// KindOf returns the kind of the first *Error found in err's chain, or
// KindUnknown if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
