// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !linux

package poller

import (
	"sync/atomic"
	"time"
)

// sysPoller supports only Wake, via a channel.
type sysPoller struct {
	wakeCh chan struct{}
	closed atomic.Bool
}

func (s *sysPoller) init() error {
	s.wakeCh = make(chan struct{}, 1)
	return nil
}

func (s *sysPoller) isClosed() bool { return s.closed.Load() }

func (s *sysPoller) close() error {
	s.closed.Store(true)
	return nil
}

func (s *sysPoller) wake() error {
	if s.closed.Load() {
		return ErrPollerClosed
	}
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// RegisterFD is not supported on this platform.
func (p *Poller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	return ErrUnsupported
}

// UnregisterFD is not supported on this platform.
func (p *Poller) UnregisterFD(fd int) error {
	return ErrUnsupported
}

// ModifyFD is not supported on this platform.
func (p *Poller) ModifyFD(fd int, events IOEvents) error {
	return ErrUnsupported
}

func (p *Poller) poll(timeoutMs int) error {
	switch {
	case timeoutMs == 0:
		select {
		case <-p.sys.wakeCh:
		default:
		}
	case timeoutMs < 0:
		<-p.sys.wakeCh
	default:
		t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
		defer t.Stop()
		select {
		case <-p.sys.wakeCh:
		case <-t.C:
		}
	}
	return nil
}
