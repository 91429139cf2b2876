// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrExitNow is the cancellation condition. It is not a failure: a
	// handler may return (or panic with) it to unwind exactly one running
	// [Loop], and [Scheduler.RunExpired] returns it when the innermost loop
	// was asked to exit mid-pass. [Loop.Run] never returns it.
	ErrExitNow = errors.New("async: exit requested")

	// ErrNoResult indicates that a [Call] loop ran out of work before the
	// wrapped operation resolved or rejected. It is a scheduler
	// inconsistency, never a valid outcome.
	ErrNoResult = errors.New("async: event loop exited without a result")

	// ErrNilScheduler is returned by constructors given a nil [Scheduler].
	ErrNilScheduler = errors.New("async: nil scheduler")

	// ErrNilReactor is returned by [NewLoop] when given a nil [Reactor].
	ErrNilReactor = errors.New("async: nil reactor")

	// ErrNilSequence is returned by [NewIterator] when the sequence cannot
	// be iterated.
	ErrNilSequence = errors.New("async: nil sequence")

	// ErrNilCallback is returned by [NewIterator] when the item callback is nil.
	ErrNilCallback = errors.New("async: nil item callback")

	// ErrNilRejection substitutes a nil error passed to a [Call] reject
	// continuation, so a rejection can never be mistaken for success.
	ErrNilRejection = errors.New("async: rejected with nil error")
)

// PanicError wraps a value recovered from a panicking timer handler.
type PanicError struct {
	Value any
	// Stack is the goroutine stack at the point of recovery.
	Stack []byte
}

func (e PanicError) Error() string {
	return fmt.Sprintf("async: handler panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, enabling [errors.Is]
// and [errors.As] through the cause chain, or nil otherwise.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
