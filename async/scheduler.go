// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"container/heap"
	"errors"
	"math"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// Scheduler owns the ordered collection of pending timers (the timer
// queue). Every component that needs to schedule work is given the same
// Scheduler.
//
// A Scheduler is not safe for concurrent use. All methods, and all
// handlers, run on the goroutine driving it, typically via [Loop.Run].
// Work from other goroutines must be handed over by the reactor, e.g.
// [github.com/joeycumines/go-rpkid/poller.Poller.Submit].
type Scheduler struct {
	clock      clock.Clock
	logger     *logiface.Logger[logiface.Event]
	limiter    *catrate.Limiter
	timers     timerHeap
	frames     []*frame
	seq        uint64
	resolution time.Duration
}

// frame is the cancellation token of a single running loop.
type frame struct {
	cancelled atomic.Bool
}

func (f *frame) cancel() { f.cancelled.Store(true) }

func (f *frame) isCancelled() bool { return f.cancelled.Load() }

// timerHeap is a min-heap of timers, by deadline then schedule sequence.
type timerHeap []*Timer

// Implement heap.Interface for timerHeap
func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// NewScheduler creates an empty timer queue.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	cfg, err := resolveSchedulerOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		clock:      cfg.clock,
		logger:     cfg.logger,
		limiter:    cfg.limiter,
		resolution: cfg.resolution,
	}, nil
}

// Now returns the current time, per the scheduler's clock.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Logger returns the scheduler's logger, which may be nil.
func (s *Scheduler) Logger() *logiface.Logger[logiface.Event] { return s.logger }

// NewTimer creates an unset timer. The handler is required; a non-nil
// error (or panic) from it is delivered to the errback. Returning (or
// panicking with) [ErrExitNow] instead exits the innermost running loop.
func (s *Scheduler) NewTimer(handler func() error, opts ...TimerOption) *Timer {
	return s.newTimer(handler, callerSite(1), opts)
}

func (s *Scheduler) newTimer(handler func() error, caller string, opts []TimerOption) *Timer {
	if handler == nil {
		panic("async: nil timer handler")
	}
	t := &Timer{
		sched:   s,
		handler: handler,
		caller:  caller,
		index:   -1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyTimer(t)
		}
	}
	s.logger.Debug().
		Str("timer", t.String()).
		Log("timer created")
	return t
}

// Schedule inserts or repositions the timer. Equal deadlines fire in the
// order they were most recently scheduled. It is safe to call from within
// any handler, including the timer's own.
func (s *Scheduler) Schedule(t *Timer, when When) { s.schedule(t, when, 2) }

func (s *Scheduler) schedule(t *Timer, when When, skip int) {
	if t.sched != s {
		panic("async: timer belongs to a different scheduler")
	}
	s.seq++
	t.when = when.resolve(s.clock.Now())
	t.seq = s.seq
	if t.index >= 0 {
		heap.Fix(&s.timers, t.index)
	} else {
		heap.Push(&s.timers, t)
	}
	if b := s.logger.Debug(); b.Enabled() {
		b.Str("timer", t.String()).
			Stringer("when", when).
			Str("caller", callerSite(skip)).
			Log("timer scheduled")
	}
}

// Cancel removes the timer if pending, reporting whether it was.
func (s *Scheduler) Cancel(t *Timer) bool { return s.cancel(t, 2) }

func (s *Scheduler) cancel(t *Timer, skip int) bool {
	if t.sched != s || t.index < 0 {
		return false
	}
	heap.Remove(&s.timers, t.index)
	if b := s.logger.Debug(); b.Enabled() {
		b.Str("timer", t.String()).
			Str("caller", callerSite(skip)).
			Log("timer canceled")
	}
	if t.onCancel != nil {
		t.onCancel()
	}
	return true
}

// IsPending reports whether the timer is queued.
func (s *Scheduler) IsPending(t *Timer) bool { return t.sched == s && t.index >= 0 }

// Len returns the number of pending timers.
func (s *Scheduler) Len() int { return len(s.timers) }

// NextWakeup returns how long until the earliest deadline, rounded up to
// the wakeup resolution. It returns zero if a deadline has already passed,
// and false if no timers are pending (wait indefinitely).
func (s *Scheduler) NextWakeup() (time.Duration, bool) {
	if len(s.timers) == 0 {
		return 0, false
	}
	d := s.timers[0].when.Sub(s.clock.Now())
	if d <= 0 {
		return 0, true
	}
	if r := s.resolution; r > 0 && d <= math.MaxInt64-r {
		if rem := d % r; rem != 0 {
			d += r - rem
		}
	}
	return d, true
}

// RunExpired fires every timer whose deadline is at or before now. The
// current time is re-read after every handler, so timers scheduled as due
// by a handler run within the same pass.
//
// Handler failures are delivered to errbacks and never abort the pass. If
// the innermost loop is asked to exit, the pass stops and [ErrExitNow] is
// returned. Panics from errbacks propagate.
func (s *Scheduler) RunExpired() error {
	for len(s.timers) > 0 && !s.timers[0].when.After(s.clock.Now()) {
		t := heap.Pop(&s.timers).(*Timer)
		if err := s.fire(t); err != nil {
			return err
		}
		if s.exitRequested() {
			return ErrExitNow
		}
	}
	return nil
}

// Clear cancels every pending timer, via the same path as [Timer.Cancel],
// so that cancel hooks run.
func (s *Scheduler) Clear() {
	for len(s.timers) > 0 {
		s.cancel(s.timers[0], 2)
	}
}

// Exit requests that the innermost running loop stop, at its next turn
// boundary. It reports false if no loop is running.
func (s *Scheduler) Exit() bool {
	if len(s.frames) == 0 {
		return false
	}
	s.frames[len(s.frames)-1].cancel()
	return true
}

func (s *Scheduler) exitRequested() bool {
	return len(s.frames) != 0 && s.frames[len(s.frames)-1].isCancelled()
}

func (s *Scheduler) pushFrame(f *frame) {
	s.frames = append(s.frames, f)
}

func (s *Scheduler) popFrame(f *frame) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == f {
			s.frames = append(s.frames[:i], s.frames[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) fire(t *Timer) error {
	err := callHandler(t.handler)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExitNow) {
		if !s.Exit() {
			return ErrExitNow
		}
		return nil
	}
	s.logger.Debug().
		Str("timer", t.String()).
		Err(err).
		Log("timer errback")
	if t.errback != nil {
		t.errback(err)
	} else {
		s.defaultErrback(t, err)
	}
	return nil
}

func (s *Scheduler) defaultErrback(t *Timer, err error) {
	if _, ok := s.limiter.Allow(t.caller); !ok {
		return
	}
	b := s.logger.Err()
	if !b.Enabled() {
		return
	}
	b = b.Err(err).
		Str("created_at", t.caller).
		Time("deadline", t.when)
	var pe PanicError
	if errors.As(err, &pe) && len(pe.Stack) != 0 {
		b = b.Str("stack", string(pe.Stack))
	}
	b.Log("unhandled error from timer")
}

// callHandler runs fn, converting a panic into a PanicError.
// runtime.Goexit is not intercepted.
func callHandler(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}
