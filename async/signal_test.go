// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package async

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func raiseSignal(t *testing.T, sig syscall.Signal) {
	t.Helper()
	require.NoError(t, unix.Kill(os.Getpid(), sig))
}

func signalInstalled(sig os.Signal) bool {
	signalStacks.mu.Lock()
	defer signalStacks.mu.Unlock()
	return len(signalStacks.m[sig]) != 0
}

func TestLoop_Run_signalExitsCleanly(t *testing.T) {
	var buf syncBuffer
	l, r, _ := newTestLoop(t, WithLogger(newTestLogger(&buf, logiface.LevelInformational)))
	r.block = true

	l.Scheduler().NewTimer(func() error {
		t.Error(`unexpected handler call`)
		return nil
	}).SetAfter(time.Hour)

	l.testHooks = &loopTestHooks{PreWait: func() {
		assert.True(t, signalInstalled(syscall.SIGUSR1))
		raiseSignal(t, syscall.SIGUSR1)
	}}

	require.NoError(t, l.Run(context.Background(), WithSignals(syscall.SIGUSR1)))

	assert.Len(t, r.polls, 1)
	assert.Equal(t, 1, l.Scheduler().Len())
	assert.False(t, signalInstalled(syscall.SIGUSR1))
	assert.Contains(t, buf.String(), `signal received, exiting event loop`)
}

func TestLoop_Run_nestedSignalOnlyUnwindsInnermost(t *testing.T) {
	l, r, _ := newTestLoop(t)
	r.block = true
	s := l.Scheduler()

	var depth int
	l.testHooks = &loopTestHooks{PreWait: func() {
		if depth == 2 {
			raiseSignal(t, syscall.SIGUSR1)
		}
	}}

	var events []string
	innerTimer := s.NewTimer(func() error {
		t.Error(`unexpected inner handler call`)
		return nil
	})
	after := s.NewTimer(func() error {
		events = append(events, `outer continued`)
		return nil
	})
	s.NewTimer(func() error {
		depth = 2
		innerTimer.SetAfter(time.Hour)
		err := l.Run(context.Background(), WithSignals(syscall.SIGUSR1))
		depth = 1
		events = append(events, `inner returned`)
		innerTimer.Cancel()
		after.SetNow()
		return err
	}).SetNow()

	depth = 1
	require.NoError(t, l.Run(context.Background(), WithSignals(syscall.SIGUSR1, syscall.SIGUSR2)))

	assert.Equal(t, []string{`inner returned`, `outer continued`}, events)
	assert.False(t, signalInstalled(syscall.SIGUSR1))
	assert.False(t, signalInstalled(syscall.SIGUSR2))
}

func TestInstallSignals_restoresShadowed(t *testing.T) {
	outer := make(chan os.Signal, 1)
	restoreOuter := installSignals([]os.Signal{syscall.SIGUSR2}, func(sig os.Signal) { outer <- sig })
	defer restoreOuter()

	inner := make(chan os.Signal, 1)
	restoreInner := installSignals([]os.Signal{syscall.SIGUSR2, syscall.SIGUSR2}, func(sig os.Signal) { inner <- sig })

	raiseSignal(t, syscall.SIGUSR2)
	select {
	case sig := <-inner:
		assert.Equal(t, syscall.SIGUSR2, sig)
	case <-time.After(5 * time.Second):
		t.Fatal(`inner handler not called`)
	}

	restoreInner()

	raiseSignal(t, syscall.SIGUSR2)
	select {
	case sig := <-outer:
		assert.Equal(t, syscall.SIGUSR2, sig)
	case <-time.After(5 * time.Second):
		t.Fatal(`outer handler not called`)
	}

	assert.Empty(t, inner)
	assert.Empty(t, outer)

	signalStacks.mu.Lock()
	assert.Len(t, signalStacks.m[syscall.SIGUSR2], 1)
	signalStacks.mu.Unlock()
}

func TestLoop_Run_abnormalExitRestoresSignals(t *testing.T) {
	t.Run(`reactor failure`, func(t *testing.T) {
		l, r, _ := newTestLoop(t)
		errPoll := errors.New(`poll failed`)
		r.onPoll = func(time.Duration) error {
			assert.True(t, signalInstalled(syscall.SIGUSR1))
			return errPoll
		}
		l.Scheduler().NewTimer(func() error { return nil }).SetAfter(time.Second)

		assert.ErrorIs(t, l.Run(context.Background(), WithSignals(syscall.SIGUSR1)), errPoll)

		assert.False(t, signalInstalled(syscall.SIGUSR1))
		assert.Empty(t, l.Scheduler().frames)
	})

	t.Run(`errback panic`, func(t *testing.T) {
		l, _, _ := newTestLoop(t)
		s := l.Scheduler()
		s.NewTimer(
			func() error { return errors.New(`handler failed`) },
			WithErrback(func(err error) {
				assert.True(t, signalInstalled(syscall.SIGUSR1))
				panic(`errback failed`)
			}),
		).SetNow()

		assert.PanicsWithValue(t, `errback failed`, func() {
			_ = l.Run(context.Background(), WithSignals(syscall.SIGUSR1))
		})

		assert.False(t, signalInstalled(syscall.SIGUSR1))
		assert.Empty(t, s.frames)
	})
}

func TestLoop_Run_nestedDisjointSignals(t *testing.T) {
	l, _, _ := newTestLoop(t)
	s := l.Scheduler()

	var depth int
	var raised bool
	l.testHooks = &loopTestHooks{PreWait: func() {
		if depth != 2 || raised {
			return
		}
		raised = true
		raiseSignal(t, syscall.SIGUSR2)
		outer := s.frames[0]
		assert.Eventually(t, outer.isCancelled, 5*time.Second, time.Millisecond)
	}}

	var events []string
	after := s.NewTimer(func() error {
		t.Error(`unexpected outer handler call`)
		return nil
	})
	innerTimer := s.NewTimer(func() error {
		events = append(events, `inner timer`)
		assert.True(t, l.Exit())
		return nil
	})
	s.NewTimer(func() error {
		depth = 2
		innerTimer.SetAfter(time.Second)
		err := l.Run(context.Background(), WithSignals(syscall.SIGUSR1))
		depth = 1
		events = append(events, `inner returned`)
		after.SetNow()
		return err
	}).SetNow()

	depth = 1
	require.NoError(t, l.Run(context.Background(), WithSignals(syscall.SIGUSR2)))

	assert.Equal(t, []string{`inner timer`, `inner returned`}, events)
	assert.True(t, after.IsSet())
	assert.False(t, signalInstalled(syscall.SIGUSR1))
	assert.False(t, signalInstalled(syscall.SIGUSR2))
}
