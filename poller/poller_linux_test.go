// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package poller

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-rpkid/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPoller_RegisterFD(t *testing.T) {
	p := newTestPoller(t)
	r, w := newPipe(t)

	var got []IOEvents
	require.NoError(t, p.RegisterFD(r, EventRead, func(events IOEvents) {
		got = append(got, events)
		var buf [16]byte
		_, _ = unix.Read(r, buf[:])
	}))
	assert.False(t, p.Empty())

	assert.ErrorIs(t, p.RegisterFD(r, EventRead, func(IOEvents) {}), ErrFDAlreadyRegistered)
	assert.ErrorIs(t, p.RegisterFD(-1, EventRead, func(IOEvents) {}), ErrFDOutOfRange)
	assert.ErrorIs(t, p.RegisterFD(w, EventWrite, nil), ErrNilCallback)

	require.NoError(t, p.Poll(0))
	assert.Empty(t, got)

	_, err := unix.Write(w, []byte(`x`))
	require.NoError(t, err)

	require.NoError(t, p.Poll(5*time.Second))
	assert.Equal(t, []IOEvents{EventRead}, got)

	require.NoError(t, p.UnregisterFD(r))
	assert.ErrorIs(t, p.UnregisterFD(r), ErrFDNotRegistered)
	assert.True(t, p.Empty())
}

func TestPoller_ModifyFD(t *testing.T) {
	p := newTestPoller(t)
	r, w := newPipe(t)

	var got []IOEvents
	require.NoError(t, p.RegisterFD(w, EventRead, func(events IOEvents) {
		got = append(got, events)
	}))

	require.NoError(t, p.Poll(0))
	assert.Empty(t, got)

	require.NoError(t, p.ModifyFD(w, EventWrite))
	require.NoError(t, p.Poll(5*time.Second))
	assert.Equal(t, []IOEvents{EventWrite}, got)

	assert.ErrorIs(t, p.ModifyFD(r, EventRead), ErrFDNotRegistered)
	require.NoError(t, p.UnregisterFD(w))
}

func TestPoller_hangup(t *testing.T) {
	p := newTestPoller(t)
	r, w := newPipe(t)

	var got IOEvents
	require.NoError(t, p.RegisterFD(r, EventRead, func(events IOEvents) {
		got |= events
	}))
	require.NoError(t, unix.Close(w))

	require.NoError(t, p.Poll(5*time.Second))
	assert.NotZero(t, got&EventHangup, got)
	require.NoError(t, p.UnregisterFD(r))
}

func TestPoller_nestedPollFromCallback(t *testing.T) {
	p := newTestPoller(t)
	r1, w1 := newPipe(t)
	r2, w2 := newPipe(t)

	var calls []string
	require.NoError(t, p.RegisterFD(r1, EventRead, func(IOEvents) {
		calls = append(calls, `r1`)
		var buf [1]byte
		_, _ = unix.Read(r1, buf[:])
		// nested poll, as a blocking call bridge would
		require.NoError(t, p.Poll(0))
	}))
	require.NoError(t, p.RegisterFD(r2, EventRead, func(IOEvents) {
		// may be dispatched by both polls, with stale readiness
		var buf [1]byte
		if n, _ := unix.Read(r2, buf[:]); n > 0 {
			calls = append(calls, `r2`)
		}
	}))

	_, err := unix.Write(w1, []byte{1})
	require.NoError(t, err)
	_, err = unix.Write(w2, []byte{1})
	require.NoError(t, err)

	require.NoError(t, p.Poll(5*time.Second))
	assert.ElementsMatch(t, []string{`r1`, `r2`}, calls)
	assert.Len(t, calls, 2)
}

func TestPoller_withLoop(t *testing.T) {
	p := newTestPoller(t)
	sched, err := async.NewScheduler()
	require.NoError(t, err)
	loop, err := async.NewLoop(sched, p)
	require.NoError(t, err)

	r, w := newPipe(t)

	var events []string
	require.NoError(t, p.RegisterFD(r, EventRead, func(IOEvents) {
		var buf [16]byte
		n, _ := unix.Read(r, buf[:])
		events = append(events, `read `+string(buf[:n]))
		// blocks this callback, while the loop keeps running timers
		v, err := async.Call(context.Background(), loop, func(resolve func(string), reject func(error)) {
			sched.NewTimer(func() error {
				resolve(`resolved`)
				return nil
			}).SetAfter(time.Millisecond)
		}, async.WithoutSignals())
		require.NoError(t, err)
		events = append(events, v)
		require.NoError(t, p.UnregisterFD(r))
	}))

	sched.NewTimer(func() error {
		_, err := unix.Write(w, []byte(`ping`))
		return err
	}).SetAfter(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, loop.Run(ctx, async.WithoutSignals()))

	assert.Equal(t, []string{`read ping`, `resolved`}, events)
	assert.True(t, p.Empty())
}
