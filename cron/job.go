// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cron

// Job is a unit of periodic work. Run must not block: it starts the work
// and arranges for done to be called, exactly once, on the loop goroutine,
// when the work completes. A non-nil error marks the job as failed.
type Job interface {
	Name() string
	Run(done func(error))
}

// JobFunc adapts a function to a [Job].
type JobFunc struct {
	name string
	fn   func(done func(error))
}

var _ Job = (*JobFunc)(nil)

// NewJob returns a [Job] with the given name, which calls fn.
func NewJob(name string, fn func(done func(error))) *JobFunc {
	if fn == nil {
		panic("cron: nil job func")
	}
	return &JobFunc{name: name, fn: fn}
}

// SyncJob returns a [Job] which calls fn, then completes immediately with
// its result.
func SyncJob(name string, fn func() error) *JobFunc {
	if fn == nil {
		panic("cron: nil job func")
	}
	return NewJob(name, func(done func(error)) { done(fn()) })
}

func (x *JobFunc) Name() string { return x.name }

func (x *JobFunc) Run(done func(error)) { x.fn(done) }
