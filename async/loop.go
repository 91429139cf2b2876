// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// loopTestHooks provides injection points for deterministic testing.
type loopTestHooks struct {
	PreWait func() // Called before each Reactor.Poll
}

// Loop is the cooperative scheduler: it alternates between waiting on the
// [Reactor] (bounded by the next timer deadline) and running expired timers,
// until there is nothing left to wait for, or it is told to exit.
//
// Run may be called re-entrantly, from within a handler, on the same Loop
// (this is how [Call] works). Each invocation is a separate frame, and an
// exit request unwinds exactly one of them.
type Loop struct {
	sched     *Scheduler
	reactor   Reactor
	testHooks *loopTestHooks
}

// NewLoop creates a loop driving the given scheduler and reactor.
func NewLoop(s *Scheduler, r Reactor) (*Loop, error) {
	if s == nil {
		return nil, ErrNilScheduler
	}
	if r == nil {
		return nil, ErrNilReactor
	}
	return &Loop{sched: s, reactor: r}, nil
}

// Scheduler returns the loop's scheduler.
func (l *Loop) Scheduler() *Scheduler { return l.sched }

// Reactor returns the loop's reactor.
func (l *Loop) Reactor() Reactor { return l.reactor }

// Run blocks, driving the loop, until:
//   - no timers are pending and the reactor is empty (returns nil)
//   - the loop is asked to exit, via [Loop.Exit], a handler returning
//     [ErrExitNow], or one of the configured signals (returns nil)
//   - ctx is canceled (returns ctx.Err())
//   - the reactor fails (returns the wrapped error)
//
// Signals (default [DefaultSignals]) are translated into an exit request
// for the duration of the call, and the prior handling restored on return.
func (l *Loop) Run(ctx context.Context, opts ...RunOption) error {
	return l.run(ctx, new(frame), resolveRunOptions(opts))
}

// Exit requests that the innermost running invocation of Run return, at
// its next turn boundary. It must be called from the loop's goroutine (use
// ctx to stop a loop from elsewhere). It reports false if not running.
func (l *Loop) Exit() bool { return l.sched.Exit() }

func (l *Loop) run(ctx context.Context, f *frame, cfg *runOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.sched.pushFrame(f)
	defer l.sched.popFrame(f)

	wake := func() {
		f.cancel()
		_ = l.reactor.Wake()
	}

	if len(cfg.signals) != 0 {
		restore := installSignals(cfg.signals, func(sig os.Signal) {
			l.sched.logger.Info().
				Stringer("signal", sig).
				Log("signal received, exiting event loop")
			wake()
		})
		defer restore()
	}

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, wake)
		defer stop()
	}

	for {
		if f.isCancelled() {
			return ctx.Err()
		}

		if l.reactor.Empty() && l.sched.Len() == 0 {
			return nil
		}

		timeout := time.Duration(-1)
		if d, ok := l.sched.NextWakeup(); ok {
			timeout = d
		}

		if l.testHooks != nil && l.testHooks.PreWait != nil {
			l.testHooks.PreWait()
		}

		if err := l.reactor.Poll(timeout); err != nil {
			return fmt.Errorf("async: reactor poll failed: %w", err)
		}

		if f.isCancelled() {
			return ctx.Err()
		}

		if err := l.sched.RunExpired(); err != nil {
			if errors.Is(err, ErrExitNow) {
				return ctx.Err()
			}
			return err
		}
	}
}
