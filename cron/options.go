// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cron

import (
	"fmt"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultPeriod is the time between the end of one cycle and the start
	// of the next.
	DefaultPeriod = 120 * time.Second

	// DefaultJobTimeout is how long a single job may run, before it is
	// treated as failed, and the cycle moves on.
	DefaultJobTimeout = 60 * time.Second
)

// options holds configuration options for Cron creation.
type options struct {
	logger     *logiface.Logger[logiface.Event]
	period     time.Duration
	jobTimeout time.Duration
	hasLogger  bool
}

// Option configures a Cron instance.
type Option interface {
	applyCron(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyCronFunc func(*options) error
}

func (o *optionImpl) applyCron(opts *options) error {
	return o.applyCronFunc(opts)
}

// WithPeriod sets the delay between cycles. See [DefaultPeriod].
func WithPeriod(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if d <= 0 {
			return fmt.Errorf("cron: invalid period: %s", d)
		}
		opts.period = d
		return nil
	}}
}

// WithJobTimeout sets the per-job timeout. See [DefaultJobTimeout].
func WithJobTimeout(d time.Duration) Option {
	return &optionImpl{func(opts *options) error {
		if d <= 0 {
			return fmt.Errorf("cron: invalid job timeout: %s", d)
		}
		opts.jobTimeout = d
		return nil
	}}
}

// WithLogger overrides the logger, which defaults to the scheduler's.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		opts.hasLogger = true
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{
		period:     DefaultPeriod,
		jobTimeout: DefaultJobTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyCron(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
