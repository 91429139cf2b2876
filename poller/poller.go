// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package poller implements the I/O reactor for an [async.Loop].
//
// # I/O Registration
//
// File descriptors are registered for readiness notification using
// platform-native mechanisms:
//   - Linux: epoll, woken by an eventfd
//   - elsewhere: no fd support, [Poller.RegisterFD] returns [ErrUnsupported]
//
// Callbacks run on the goroutine calling [Poller.Poll], i.e. the loop's.
//
// # Submitting Work
//
// [Poller.Submit] is the only way to hand work to the loop from another
// goroutine. Submitted functions run, in order, within the next Poll.
//
// # Safety
//
// Always call UnregisterFD before closing a file descriptor to prevent
// stale event delivery due to FD recycling.
package poller

import (
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-rpkid/async"
	"github.com/joeycumines/logiface"
)

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

func (e IOEvents) String() string {
	if e == 0 {
		return "none"
	}
	var s string
	for _, v := range [...]struct {
		bit  IOEvents
		name string
	}{
		{EventRead, "read"},
		{EventWrite, "write"},
		{EventError, "error"},
		{EventHangup, "hangup"},
	} {
		if e&v.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += v.name
		}
	}
	return s
}

// Standard errors.
var (
	ErrFDOutOfRange        = errors.New("poller: fd out of range")
	ErrFDAlreadyRegistered = errors.New("poller: fd already registered")
	ErrFDNotRegistered     = errors.New("poller: fd not registered")
	ErrPollerClosed        = errors.New("poller: poller closed")
	ErrUnsupported         = errors.New("poller: fd registration not supported on this platform")
	ErrNilCallback         = errors.New("poller: nil callback")
)

// IOCallback is the callback type for I/O events.
type IOCallback func(IOEvents)

// Poller is an [async.Reactor]. Registration methods, [Poller.Submit],
// [Poller.Wake] and [Poller.Close] are safe for concurrent use, while
// [Poller.Poll] must only be called by the goroutine driving the loop
// (nested calls, from callbacks, are supported).
type Poller struct {
	logger *logiface.Logger[logiface.Event]
	tasks  taskQueue
	fds    fdTable
	sys    sysPoller
}

var _ async.Reactor = (*Poller)(nil)

// options holds configuration options for Poller creation.
type options struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures a Poller instance.
type Option interface {
	applyPoller(*options) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyPollerFunc func(*options) error
}

func (o *optionImpl) applyPoller(opts *options) error {
	return o.applyPollerFunc(opts)
}

// WithLogger attaches a structured logger, used to report registration
// changes and recovered callback panics. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *options) error {
		opts.logger = logger
		return nil
	}}
}

// resolveOptions applies Option instances to options.
func resolveOptions(opts []Option) (*options, error) {
	cfg := &options{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyPoller(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// New creates a Poller, which must be closed to release its resources.
func New(opts ...Option) (*Poller, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	p := &Poller{
		logger: cfg.logger,
		tasks:  taskQueue{q: queue.New()},
		fds:    fdTable{m: make(map[int]fdInfo)},
	}
	if err := p.sys.init(); err != nil {
		return nil, fmt.Errorf("poller: init failed: %w", err)
	}
	return p, nil
}

// Submit queues fn to run on the loop goroutine, within the next Poll, and
// wakes the loop. Functions run in submission order.
func (p *Poller) Submit(fn func()) error {
	if fn == nil {
		return ErrNilCallback
	}
	if p.sys.isClosed() {
		return ErrPollerClosed
	}
	p.tasks.push(fn)
	return p.Wake()
}

// Empty reports whether there are no registered file descriptors and no
// submitted functions. The internal wake mechanism does not count.
func (p *Poller) Empty() bool {
	return p.fds.len() == 0 && p.tasks.len() == 0
}

// Poll waits up to timeout for I/O readiness (forever if negative), runs
// the callbacks for ready file descriptors, then runs submitted functions.
// Panics from callbacks are recovered and logged.
func (p *Poller) Poll(timeout time.Duration) error {
	if p.sys.isClosed() {
		return ErrPollerClosed
	}
	if p.tasks.len() != 0 {
		timeout = 0
	}
	if err := p.poll(timeoutMillis(timeout)); err != nil {
		return err
	}
	for _, fn := range p.tasks.drain() {
		p.safeExecute("submitted task", fn)
	}
	return nil
}

// Wake interrupts a blocked Poll, or causes the next to return immediately.
func (p *Poller) Wake() error { return p.sys.wake() }

// Close releases the poller's resources. Subsequent calls to Poll fail with
// [ErrPollerClosed].
func (p *Poller) Close() error { return p.sys.close() }

func (p *Poller) dispatch(fd int, events IOEvents) {
	info, ok := p.fds.get(fd)
	if !ok || info.callback == nil {
		return
	}
	p.safeExecute("io callback", func() { info.callback(events) })
}

// safeExecute runs fn, recovering and logging any panic.
func (p *Poller) safeExecute(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Err().
				Str("kind", kind).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Log("poller: callback panicked")
		}
	}()
	fn()
}

// timeoutMillis converts a timeout to the millisecond precision of the
// poll syscalls, rounding up.
func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   IOEvents
}

// fdTable is the set of registered file descriptors.
type fdTable struct {
	mu sync.RWMutex
	m  map[int]fdInfo
}

func (x *fdTable) get(fd int) (fdInfo, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	info, ok := x.m[fd]
	return info, ok
}

func (x *fdTable) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.m)
}

// taskQueue is a FIFO of submitted functions.
type taskQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func (x *taskQueue) push(fn func()) {
	x.mu.Lock()
	x.q.Add(fn)
	x.mu.Unlock()
}

func (x *taskQueue) len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.q.Length()
}

// drain removes and returns every queued function. Functions submitted
// while the batch runs wait for the next Poll.
func (x *taskQueue) drain() []func() {
	x.mu.Lock()
	defer x.mu.Unlock()
	n := x.q.Length()
	if n == 0 {
		return nil
	}
	batch := make([]func(), n)
	for i := range batch {
		batch[i] = x.q.Remove().(func())
	}
	return batch
}
