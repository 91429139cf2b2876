// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultWakeupResolution is the granularity [Scheduler.NextWakeup] rounds
// up to, matching the millisecond timeout of the poll syscalls.
const DefaultWakeupResolution = time.Millisecond

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	clock      clock.Clock
	logger     *logiface.Logger[logiface.Event]
	limiter    *catrate.Limiter
	resolution time.Duration
}

// --- Scheduler Options ---

// SchedulerOption configures a Scheduler instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions) error
}

// schedulerOptionImpl implements SchedulerOption.
type schedulerOptionImpl struct {
	applySchedulerFunc func(*schedulerOptions) error
}

func (s *schedulerOptionImpl) applyScheduler(opts *schedulerOptions) error {
	return s.applySchedulerFunc(opts)
}

// WithClock sets the time source used to resolve and check deadlines.
// Tests typically pass a *clock.Mock.
func WithClock(c clock.Clock) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if c == nil {
			return errors.New("async: nil clock")
		}
		opts.clock = c
		return nil
	}}
}

// WithLogger attaches a structured logger. A nil logger disables logging.
// The logger is shared by every Timer, Iterator and Loop built on the
// scheduler.
func WithLogger(logger *logiface.Logger[logiface.Event]) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithWakeupResolution sets the granularity NextWakeup rounds up to.
func WithWakeupResolution(d time.Duration) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return fmt.Errorf("async: invalid wakeup resolution: %s", d)
		}
		opts.resolution = d
		return nil
	}}
}

// WithErrbackRateLimits limits how often the default errback logs failures,
// per timer creation site. See [catrate.NewLimiter] for the rate format.
// A nil or empty map disables limiting (the default).
func WithErrbackRateLimits(rates map[time.Duration]int) SchedulerOption {
	return &schedulerOptionImpl{func(opts *schedulerOptions) (err error) {
		if len(rates) == 0 {
			opts.limiter = nil
			return nil
		}
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("async: invalid errback rate limits: %v", r)
			}
		}()
		opts.limiter = catrate.NewLimiter(rates)
		return nil
	}}
}

// resolveSchedulerOptions applies SchedulerOption instances to schedulerOptions.
func resolveSchedulerOptions(opts []SchedulerOption) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		clock:      clock.New(),
		resolution: DefaultWakeupResolution,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyScheduler(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// --- Timer Options ---

// TimerOption configures a Timer instance.
type TimerOption interface {
	applyTimer(*Timer)
}

// timerOptionImpl implements TimerOption.
type timerOptionImpl struct {
	applyTimerFunc func(*Timer)
}

func (t *timerOptionImpl) applyTimer(timer *Timer) {
	t.applyTimerFunc(timer)
}

// WithErrback sets the function that receives the handler's failure.
// The default logs the failure, with the timer's creation site.
func WithErrback(errback func(error)) TimerOption {
	return &timerOptionImpl{func(t *Timer) {
		t.errback = errback
	}}
}

// WithCancelHook sets a function called whenever the timer is removed from
// the queue without firing, including via [Scheduler.Clear]. It must not
// reschedule the timer.
func WithCancelHook(hook func()) TimerOption {
	return &timerOptionImpl{func(t *Timer) {
		t.onCancel = hook
	}}
}

// --- Iterator Options ---

// iteratorOptions holds configuration options for Iterator creation.
type iteratorOptions struct {
	unwindStack bool
}

// IteratorOption configures an Iterator instance.
type IteratorOption interface {
	applyIterator(*iteratorOptions)
}

// iteratorOptionImpl implements IteratorOption.
type iteratorOptionImpl struct {
	applyIteratorFunc func(*iteratorOptions)
}

func (i *iteratorOptionImpl) applyIterator(opts *iteratorOptions) {
	i.applyIteratorFunc(opts)
}

// WithUnwindStack selects whether each step (including the first) is
// deferred through a zero-delay trampoline Timer, bounding stack depth, or
// run inline. Enabled by default.
func WithUnwindStack(enabled bool) IteratorOption {
	return &iteratorOptionImpl{func(opts *iteratorOptions) {
		opts.unwindStack = enabled
	}}
}

func resolveIteratorOptions(opts []IteratorOption) *iteratorOptions {
	cfg := &iteratorOptions{unwindStack: true}
	for _, opt := range opts {
		if opt != nil {
			opt.applyIterator(cfg)
		}
	}
	return cfg
}

// --- Run Options ---

// DefaultSignals are the signals translated into loop cancellation, unless
// overridden by [WithSignals].
var DefaultSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// runOptions holds configuration for a single Loop.Run invocation.
type runOptions struct {
	signals []os.Signal
}

// RunOption configures a single [Loop.Run] or [Call] invocation.
type RunOption interface {
	applyRun(*runOptions)
}

// runOptionImpl implements RunOption.
type runOptionImpl struct {
	applyRunFunc func(*runOptions)
}

func (r *runOptionImpl) applyRun(opts *runOptions) {
	r.applyRunFunc(opts)
}

// WithSignals overrides the set of signals that cancel the loop.
//
// Signals are routed per signal, to the innermost running loop that
// catches each one. A nested invocation only shadows the signals it lists:
// an outer loop catching a signal the inner one does not is still canceled
// by it, but as exit is checked for the innermost loop only, the outer loop
// stops once the inner invocation returns.
func WithSignals(signals ...os.Signal) RunOption {
	signals = slices.Clone(signals)
	return &runOptionImpl{func(opts *runOptions) {
		opts.signals = signals
	}}
}

// WithoutSignals disables signal handling for the invocation.
func WithoutSignals() RunOption {
	return &runOptionImpl{func(opts *runOptions) {
		opts.signals = nil
	}}
}

func resolveRunOptions(opts []RunOption) *runOptions {
	cfg := &runOptions{signals: slices.Clone(DefaultSignals)}
	for _, opt := range opts {
		if opt != nil {
			opt.applyRun(cfg)
		}
	}
	return cfg
}
