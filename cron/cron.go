// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package cron runs the daemon's periodic housekeeping, as a cycle of jobs
// on an [async.Loop].
//
// A cycle walks the registered jobs in order, one at a time, using an
// [async.Iterator]. Each job races a timeout [async.Timer]. Failures are
// logged, and never stop the cycle. Once a cycle completes the next is
// scheduled, after the configured period.
package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/joeycumines/go-rpkid/async"
	"github.com/joeycumines/logiface"
)

// Standard errors.
var (
	ErrNilScheduler    = errors.New("cron: nil scheduler")
	ErrJobTimeout      = errors.New("cron: job timed out")
	ErrCycleInProgress = errors.New("cron: cycle already in progress")
	ErrJobsFailed      = errors.New("cron: jobs failed")
)

// CycleResult summarizes a completed cycle.
type CycleResult struct {
	Started  time.Time
	Finished time.Time
	Jobs     int
	Failed   []string
}

// Cron is a periodic, self-rescheduling job runner. Like everything built
// on an [async.Scheduler], it is not safe for concurrent use.
type Cron struct {
	sched      *async.Scheduler
	logger     *logiface.Logger[logiface.Event]
	timer      *async.Timer
	jobs       []Job
	last       CycleResult
	period     time.Duration
	jobTimeout time.Duration
	cycles     uint64
	started    bool
	running    bool
}

// New creates a stopped Cron, see [Cron.Start].
func New(s *async.Scheduler, opts ...Option) (*Cron, error) {
	if s == nil {
		return nil, ErrNilScheduler
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	c := &Cron{
		sched:      s,
		logger:     s.Logger(),
		period:     cfg.period,
		jobTimeout: cfg.jobTimeout,
	}
	if cfg.hasLogger {
		c.logger = cfg.logger
	}
	c.timer = s.NewTimer(c.handleTimer)
	return c, nil
}

// Add appends a job. Jobs added during a cycle run from the next one.
func (c *Cron) Add(job Job) {
	if job == nil {
		panic("cron: nil job")
	}
	c.jobs = append(c.jobs, job)
}

// Start schedules the first cycle, to run immediately. Subsequent cycles
// run a period after the previous completes, until [Cron.Stop].
func (c *Cron) Start() {
	if c.started {
		return
	}
	c.started = true
	c.logger.Info().
		Dur("period", c.period).
		Int("jobs", len(c.jobs)).
		Log("cron started")
	if !c.running {
		c.timer.SetNow()
	}
}

// Stop cancels the next cycle. A cycle in progress runs to completion.
func (c *Cron) Stop() {
	if !c.started {
		return
	}
	c.started = false
	c.timer.Cancel()
	c.logger.Info().Log("cron stopped")
}

// Trigger requests a cycle now, unless one is in progress, reporting
// whether it was scheduled.
func (c *Cron) Trigger() bool {
	if c.running {
		c.logger.Notice().Log("cron cycle already in progress, ignoring trigger")
		return false
	}
	c.timer.SetNow()
	return true
}

// RunOnce runs a single cycle, blocking until it completes, via
// [async.Call]. It returns an error wrapping [ErrJobsFailed] if any job
// failed.
func (c *Cron) RunOnce(ctx context.Context, loop *async.Loop, opts ...async.RunOption) (CycleResult, error) {
	if c.running {
		return CycleResult{}, ErrCycleInProgress
	}
	res, err := async.Call(ctx, loop, func(resolve func(CycleResult), reject func(error)) {
		c.runCycle(resolve)
	}, opts...)
	if err != nil {
		return res, err
	}
	if len(res.Failed) != 0 {
		return res, fmt.Errorf("%w: %d of %d: %v", ErrJobsFailed, len(res.Failed), res.Jobs, res.Failed)
	}
	return res, nil
}

// Running reports whether a cycle is in progress.
func (c *Cron) Running() bool { return c.running }

// Cycles returns the number of completed cycles.
func (c *Cron) Cycles() uint64 { return c.cycles }

// LastCycle returns the result of the most recently completed cycle.
func (c *Cron) LastCycle() CycleResult { return c.last }

func (c *Cron) handleTimer() error {
	if c.running {
		return nil
	}
	c.runCycle(nil)
	return nil
}

func (c *Cron) runCycle(done func(CycleResult)) {
	c.running = true
	res := CycleResult{
		Started: c.sched.Now(),
		Jobs:    len(c.jobs),
	}

	c.logger.Debug().
		Int("jobs", res.Jobs).
		Log("cron cycle starting")

	_, err := async.NewIterator(c.sched, slices.Values(slices.Clone(c.jobs)),
		func(it *async.Iterator[Job], job Job) {
			c.runJob(job, func(err error) {
				if err != nil {
					res.Failed = append(res.Failed, job.Name())
				}
				it.Advance()
			})
		},
		func() {
			c.running = false
			c.cycles++
			res.Finished = c.sched.Now()
			c.last = res

			level := logiface.LevelInformational
			if len(res.Failed) != 0 {
				level = logiface.LevelWarning
			}
			c.logger.Build(level).
				Int("jobs", res.Jobs).
				Int("failed", len(res.Failed)).
				Dur("elapsed", res.Finished.Sub(res.Started)).
				Log("cron cycle complete")

			if c.started {
				c.timer.SetAfter(c.period)
			}
			if done != nil {
				done(res)
			}
		},
	)
	if err != nil {
		panic(err)
	}
}

// runJob runs a single job, raced against a timeout, calling next exactly
// once with the outcome.
func (c *Cron) runJob(job Job, next func(error)) {
	var (
		settled bool
		timeout *async.Timer
	)

	finish := func(err error) {
		if settled {
			c.logger.Debug().
				Str("job", job.Name()).
				Err(err).
				Log("cron job completed after timeout")
			return
		}
		settled = true
		timeout.Cancel()
		if err != nil {
			c.logger.Err().
				Str("job", job.Name()).
				Err(err).
				Log("cron job failed")
		} else {
			c.logger.Debug().
				Str("job", job.Name()).
				Log("cron job complete")
		}
		next(err)
	}

	timeout = c.sched.NewTimer(func() error {
		finish(fmt.Errorf("%w: %s after %s", ErrJobTimeout, job.Name(), c.jobTimeout))
		return nil
	})
	timeout.SetAfter(c.jobTimeout)

	c.logger.Debug().
		Str("job", job.Name()).
		Log("cron job starting")

	func() {
		defer func() {
			if r := recover(); r != nil {
				finish(async.PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		job.Run(finish)
	}()
}
