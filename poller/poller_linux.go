// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package poller

import (
	"errors"
	"slices"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// sysPoller manages I/O event registration using epoll, with an eventfd
// registered internally, for Wake.
type sysPoller struct {
	eventBuf [256]unix.EpollEvent
	epfd     int
	wakefd   int
	closed   atomic.Bool
}

func (s *sysPoller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return err
	}

	ev := &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return err
	}

	s.epfd = epfd
	s.wakefd = wakefd
	return nil
}

func (s *sysPoller) isClosed() bool { return s.closed.Load() }

func (s *sysPoller) close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return errors.Join(unix.Close(s.wakefd), unix.Close(s.epfd))
}

func (s *sysPoller) wake() error {
	if s.closed.Load() {
		return ErrPollerClosed
	}
	var buf = [8]byte{1}
	if _, err := unix.Write(s.wakefd, buf[:]); err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

func (s *sysPoller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(s.wakefd, buf[:])
}

// RegisterFD registers a file descriptor for I/O event monitoring.
func (p *Poller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.sys.isClosed() {
		return ErrPollerClosed
	}
	if fd < 0 || fd == p.sys.wakefd {
		return ErrFDOutOfRange
	}
	if cb == nil {
		return ErrNilCallback
	}

	p.fds.mu.Lock()
	if _, ok := p.fds.m[fd]; ok {
		p.fds.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds.m[fd] = fdInfo{callback: cb, events: events}
	p.fds.mu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.sys.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fds.mu.Lock()
		delete(p.fds.m, fd) // Rollback
		p.fds.mu.Unlock()
		return err
	}

	p.logger.Debug().
		Int("fd", fd).
		Stringer("events", events).
		Log("fd registered")

	return nil
}

// UnregisterFD removes a file descriptor from monitoring.
//
// A callback already copied for dispatch, by the Poll in progress, may
// still run after UnregisterFD returns, when called from another goroutine.
func (p *Poller) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fds.mu.Lock()
	if _, ok := p.fds.m[fd]; !ok {
		p.fds.mu.Unlock()
		return ErrFDNotRegistered
	}
	delete(p.fds.m, fd)
	p.fds.mu.Unlock()

	p.logger.Debug().
		Int("fd", fd).
		Log("fd unregistered")

	if p.sys.isClosed() {
		return nil
	}
	return unix.EpollCtl(p.sys.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// ModifyFD updates the events being monitored for a file descriptor.
func (p *Poller) ModifyFD(fd int, events IOEvents) error {
	if p.sys.isClosed() {
		return ErrPollerClosed
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fds.mu.Lock()
	info, ok := p.fds.m[fd]
	if !ok {
		p.fds.mu.Unlock()
		return ErrFDNotRegistered
	}
	info.events = events
	p.fds.m[fd] = info
	p.fds.mu.Unlock()

	ev := &unix.EpollEvent{
		Events: eventsToEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.sys.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

// poll waits for, then dispatches, I/O events. The ready set is copied out
// of the shared buffer first, as callbacks may poll again.
func (p *Poller) poll(timeoutMs int) error {
	n, err := unix.EpollWait(p.sys.epfd, p.sys.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return err
	}
	if n == 0 {
		return nil
	}

	ready := slices.Clone(p.sys.eventBuf[:n])
	for _, ev := range ready {
		fd := int(ev.Fd)
		if fd == p.sys.wakefd {
			p.sys.drainWake()
			continue
		}
		p.dispatch(fd, epollToEvents(ev.Events))
	}

	return nil
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
