// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"
)

// Timer is a single deferred call, owned by the code that created it and
// referenced (not owned) by its [Scheduler] while pending.
//
// A Timer is queued at most once. Scheduling a pending Timer moves it,
// rather than adding a second entry.
//
// Timers must be created with [Scheduler.NewTimer]. A zero Timer is never
// pending, and scheduling one panics.
type Timer struct {
	sched    *Scheduler
	handler  func() error
	errback  func(error)
	onCancel func()
	when     time.Time
	caller   string
	seq      uint64
	// index within the scheduler's heap, or -1 while not pending
	index int
}

// When is a deadline specification, see [At], [After] and [Immediately].
type When struct {
	at    time.Time
	delay time.Duration
	kind  whenKind
}

type whenKind uint8

const (
	whenImmediately whenKind = iota
	whenAt
	whenAfter
)

// At is an absolute deadline.
func At(t time.Time) When { return When{kind: whenAt, at: t} }

// After is a deadline relative to the time of scheduling.
func After(d time.Duration) When { return When{kind: whenAfter, delay: d} }

// Immediately is a deadline of "now", used to unwind the call stack
// through the scheduler rather than call directly.
func Immediately() When { return When{kind: whenImmediately} }

func (w When) resolve(now time.Time) time.Time {
	switch w.kind {
	case whenAt:
		return w.at
	case whenAfter:
		return now.Add(w.delay)
	default:
		return now
	}
}

func (w When) String() string {
	switch w.kind {
	case whenAt:
		return w.at.String()
	case whenAfter:
		return "+" + w.delay.String()
	default:
		return "now"
	}
}

// Set schedules the timer for an absolute deadline.
func (t *Timer) Set(when time.Time) { t.scheduler().schedule(t, At(when), 2) }

// SetAfter schedules the timer relative to the current time.
func (t *Timer) SetAfter(d time.Duration) { t.scheduler().schedule(t, After(d), 2) }

// SetNow schedules the timer to expire immediately, i.e. on the next
// scheduler pass (possibly the current one).
func (t *Timer) SetNow() { t.scheduler().schedule(t, Immediately(), 2) }

// Cancel removes the timer from the queue, if it is pending. Canceling an
// unset, fired or already canceled timer is a no-op. It reports whether the
// timer was pending.
func (t *Timer) Cancel() bool {
	if t.sched == nil {
		return false
	}
	return t.sched.cancel(t, 2)
}

// IsSet reports whether the timer is currently pending.
func (t *Timer) IsSet() bool { return t.sched != nil && t.index >= 0 }

// When returns the most recently scheduled deadline, or the zero time if
// the timer was never scheduled.
func (t *Timer) When() time.Time { return t.when }

// Caller returns the file:line the timer was created at.
func (t *Timer) Caller() string { return t.caller }

func (t *Timer) scheduler() *Scheduler {
	if t.sched == nil {
		panic("async: timer not created by a scheduler")
	}
	return t.sched
}

func (t *Timer) String() string {
	when := "unset"
	if !t.when.IsZero() {
		when = t.when.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("<timer %s created at %s>", when, t.caller)
}

// callerSite formats the location of a caller, skip frames above the
// function calling callerSite, as dir/file.go:line.
func callerSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
}
