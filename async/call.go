// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"context"
	"fmt"
)

// Call adapts a callback-style operation into a blocking call, by running a
// private invocation of the loop until op calls resolve or reject. Extra
// arguments are passed by closing over them.
//
// The op is started from an immediately-due Timer, whose errback is reject,
// so a failing (or panicking) op rejects the call. Only the first of
// resolve or reject counts: later calls are logged and ignored. A rejection
// is returned unchanged, so [errors.Is] and [errors.As] work as expected.
//
// Call may be used from within a handler, in which case it blocks that
// handler, and only the private invocation is unwound once op completes.
//
// If the private invocation ends without op completing, Call fails:
//   - if it ran out of work, the error wraps [ErrNoResult]
//   - if it was asked to exit (e.g. a signal, see [WithSignals]), the exit
//     request is passed on to the enclosing invocation, if any, and the
//     error is [ErrExitNow]
//   - if ctx was canceled, the error is ctx.Err()
func Call[T any](ctx context.Context, l *Loop, op func(resolve func(T), reject func(error)), opts ...RunOption) (T, error) {
	var (
		zero    T
		result  T
		failure error
		settled bool
	)

	if l == nil {
		return zero, ErrNilScheduler
	}
	if op == nil {
		return zero, ErrNilCallback
	}

	s := l.sched
	f := new(frame)
	caller := callerSite(1)

	resolve := func(v T) {
		if settled {
			s.logger.Warning().
				Str("caller", caller).
				Log("call already completed, ignoring result")
			return
		}
		settled = true
		result = v
		f.cancel()
	}

	reject := func(err error) {
		if err == nil {
			err = ErrNilRejection
		}
		if settled {
			s.logger.Warning().
				Str("caller", caller).
				Err(err).
				Log("call already completed, ignoring error")
			return
		}
		settled = true
		failure = err
		f.cancel()
	}

	t := s.newTimer(func() error {
		op(resolve, reject)
		return nil
	}, caller, []TimerOption{WithErrback(reject)})
	t.SetNow()
	defer t.Cancel()

	runErr := l.run(ctx, f, resolveRunOptions(opts))

	switch {
	case settled:
		return result, failure
	case runErr != nil:
		return zero, runErr
	case f.isCancelled():
		s.Exit()
		return zero, ErrExitNow
	default:
		s.logger.Crit().
			Str("caller", caller).
			Log("event loop exited without a result")
		return zero, fmt.Errorf("%w (call at %s)", ErrNoResult, caller)
	}
}
