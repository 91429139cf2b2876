// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/go-rpkid/async"
	"github.com/joeycumines/go-rpkid/cron"
	"github.com/joeycumines/go-rpkid/poller"
	"github.com/joeycumines/logiface"
)

type daemon struct {
	logger  *logiface.Logger[logiface.Event]
	sched   *async.Scheduler
	poller  *poller.Poller
	loop    *async.Loop
	cron    *cron.Cron
	started time.Time
}

func newDaemon(logger *logiface.Logger[logiface.Event], cfg config) (*daemon, error) {
	schedOpts := []async.SchedulerOption{async.WithLogger(logger)}
	if cfg.errbackRate > 0 {
		schedOpts = append(schedOpts, async.WithErrbackRateLimits(map[time.Duration]int{
			time.Minute: cfg.errbackRate,
		}))
	}
	sched, err := async.NewScheduler(schedOpts...)
	if err != nil {
		return nil, err
	}

	p, err := poller.New(poller.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	loop, err := async.NewLoop(sched, p)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	c, err := cron.New(sched,
		cron.WithPeriod(cfg.cronPeriod),
		cron.WithJobTimeout(cfg.jobTimeout),
	)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	d := &daemon{
		logger:  logger,
		sched:   sched,
		poller:  p,
		loop:    loop,
		cron:    c,
		started: sched.Now(),
	}
	d.addJobs()
	return d, nil
}

// run starts periodic housekeeping, then drives the loop until interrupted
// or terminated (or ctx is canceled).
func (d *daemon) run(ctx context.Context) error {
	stopTrigger := d.handleTrigger()
	defer stopTrigger()

	d.logger.Notice().
		Int("pid", os.Getpid()).
		Str("version", version).
		Log("rpkid starting")

	d.cron.Start()
	err := d.loop.Run(ctx)
	d.cron.Stop()
	d.sched.Clear()

	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Crit().
			Err(err).
			Log("event loop failed")
		return err
	}

	d.logger.Notice().
		Uint64("cycles", d.cron.Cycles()).
		Log("rpkid stopped")
	return nil
}

// runOnce runs a single housekeeping cycle. Failed jobs are logged, and
// reported as an error.
func (d *daemon) runOnce(ctx context.Context) error {
	_, err := d.cron.RunOnce(ctx, d.loop)
	return err
}

// handleTrigger forwards the trigger signal to the loop goroutine, as an
// immediate cron cycle.
func (d *daemon) handleTrigger() (stop func()) {
	if triggerSignal == nil {
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, triggerSignal)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				if err := d.poller.Submit(d.trigger); err != nil {
					d.logger.Warning().
						Err(err).
						Log("failed to submit cron trigger")
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func (d *daemon) trigger() {
	d.logger.Info().Log("cron cycle requested")
	d.cron.Trigger()
}

func (d *daemon) close() {
	if err := d.poller.Close(); err != nil {
		d.logger.Warning().
			Err(err).
			Log("failed to close poller")
	}
}
