// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"time"
)

// Reactor is the I/O readiness mechanism a [Loop] waits on. The loop never
// inspects channels itself: it only asks how long to wait, and whether
// anything is registered.
//
// See [github.com/joeycumines/go-rpkid/poller.Poller] for the epoll-backed
// implementation.
type Reactor interface {
	// Poll waits up to timeout for readiness on the registered channel set,
	// then runs the callbacks of whatever became ready, before returning.
	// A negative timeout waits indefinitely, zero does not block.
	Poll(timeout time.Duration) error

	// Empty reports whether the registered channel set is empty, i.e.
	// whether Poll could only ever be woken by a timeout or by Wake.
	Empty() bool

	// Wake interrupts a blocked (or the next) Poll. It is the only method
	// that must be safe to call from any goroutine.
	Wake() error
}
