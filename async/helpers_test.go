// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

// testEpoch is the initial time of every mock clock.
var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// syncBuffer is a bytes.Buffer safe for use by the signal goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

func newTestLogger(w *syncBuffer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(level),
	).Logger()
}

func newTestScheduler(t *testing.T, opts ...SchedulerOption) (*Scheduler, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(testEpoch)
	s, err := NewScheduler(append([]SchedulerOption{WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	return s, mock
}

var errFakeReactorStuck = errors.New("fake reactor: would block forever")

// fakeReactor is a Reactor that, by default, simulates waiting by advancing
// a mock clock by the full timeout. With block set, Poll waits (in real
// time) for Wake instead, unless the timeout is zero.
type fakeReactor struct {
	clock    *clock.Mock
	wake     chan struct{}
	onPoll   func(timeout time.Duration) error
	polls    []time.Duration
	channels int
	block    bool
}

func newFakeReactor(mock *clock.Mock) *fakeReactor {
	return &fakeReactor{
		clock: mock,
		wake:  make(chan struct{}, 1),
	}
}

func (r *fakeReactor) Poll(timeout time.Duration) error {
	r.polls = append(r.polls, timeout)
	if r.onPoll != nil {
		if err := r.onPoll(timeout); err != nil {
			return err
		}
	}
	if r.block && timeout != 0 {
		select {
		case <-r.wake:
			return nil
		case <-time.After(5 * time.Second):
			return errFakeReactorStuck
		}
	}
	switch {
	case timeout > 0:
		r.clock.Add(timeout)
	case timeout < 0:
		// drain a pending wake, as a real reactor would return for it
		select {
		case <-r.wake:
		default:
			return errFakeReactorStuck
		}
	}
	return nil
}

func (r *fakeReactor) Empty() bool { return r.channels == 0 }

func (r *fakeReactor) Wake() error {
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return nil
}

func newTestLoop(t *testing.T, opts ...SchedulerOption) (*Loop, *fakeReactor, *clock.Mock) {
	t.Helper()
	s, mock := newTestScheduler(t, opts...)
	r := newFakeReactor(mock)
	l, err := NewLoop(s, r)
	require.NoError(t, err)
	return l, r, mock
}
