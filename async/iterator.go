// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"fmt"
	"iter"
)

type iteratorState uint8

const (
	iteratorActive iteratorState = iota
	iteratorFinished
	iteratorStopped
)

// Iterator walks a sequence one element at a time, for event-driven code.
//
// Each step pulls a single element and passes it to the item callback,
// which must call [Iterator.Advance] (directly, or by arranging for it to be
// called later, e.g. from an I/O callback) to continue. When the sequence is
// exhausted the done callback is called exactly once, after which the
// Iterator is inert: further calls to Advance are no-ops.
//
// With stack unwinding enabled (the default), every step is bounced through
// a zero-delay Timer, so the stack depth stays constant however long the
// sequence is. The steps still run within the same [Scheduler.RunExpired]
// pass, because a timer set for "now" is picked up by the pass in progress.
type Iterator[T any] struct {
	sched  *Scheduler
	next   func() (T, bool)
	stop   func()
	item   func(*Iterator[T], T)
	done   func()
	timer  *Timer
	caller string
	state  iteratorState
}

// NewIterator binds an Iterator to seq and takes the first step, either
// inline or via the trampoline timer (see [WithUnwindStack]).
//
// Construction fails synchronously if seq is nil, or the item callback is
// nil. The done callback is optional.
func NewIterator[T any](s *Scheduler, seq iter.Seq[T], item func(*Iterator[T], T), done func(), opts ...IteratorOption) (*Iterator[T], error) {
	caller := callerSite(1)
	if s == nil {
		return nil, ErrNilScheduler
	}
	if seq == nil || item == nil {
		err := ErrNilSequence
		if seq != nil {
			err = ErrNilCallback
		}
		s.logger.Debug().
			Str("caller", caller).
			Err(err).
			Log("problem constructing iterator")
		return nil, err
	}

	cfg := resolveIteratorOptions(opts)

	it := &Iterator[T]{
		sched:  s,
		item:   item,
		done:   done,
		caller: caller,
	}
	it.next, it.stop = iter.Pull(seq)
	if cfg.unwindStack {
		it.timer = s.newTimer(it.handleTimer, caller, nil)
	}

	s.logger.Debug().
		Str("iterator", it.String()).
		Bool("unwind_stack", cfg.unwindStack).
		Log("iterator created")

	it.Advance()

	return it, nil
}

// Advance requests the next step. In unwind mode the step runs on the next
// scheduler pass (possibly the current one), otherwise it runs before
// Advance returns. It is a no-op once the iterator has finished or stopped.
func (it *Iterator[T]) Advance() {
	if it.state != iteratorActive {
		return
	}
	if it.timer != nil {
		it.timer.SetNow()
		return
	}
	it.step()
}

// Ignore is Advance, discarding its argument, for use as a continuation
// that receives a value.
func (it *Iterator[T]) Ignore(T) { it.Advance() }

// Stop abandons the iteration without calling the done callback, releasing
// the underlying sequence. It is a no-op if the iterator is already inert.
func (it *Iterator[T]) Stop() {
	if it.state != iteratorActive {
		return
	}
	it.state = iteratorStopped
	if it.timer != nil {
		it.timer.Cancel()
	}
	it.stop()
	it.sched.logger.Debug().
		Str("iterator", it.String()).
		Log("iterator stopped")
}

// Done reports whether the iterator is inert, i.e. finished or stopped.
func (it *Iterator[T]) Done() bool { return it.state != iteratorActive }

func (it *Iterator[T]) String() string {
	return fmt.Sprintf("<iterator created at %s>", it.caller)
}

func (it *Iterator[T]) handleTimer() error {
	it.step()
	return nil
}

func (it *Iterator[T]) step() {
	if it.state != iteratorActive {
		return
	}
	v, ok := it.pull()
	if !ok {
		it.state = iteratorFinished
		it.stop()
		it.sched.logger.Trace().
			Str("iterator", it.String()).
			Log("iterator finished")
		if it.done != nil {
			it.done()
		}
		return
	}
	it.item(it, v)
}

// pull wraps next, leaving the iterator stopped if the sequence panics or
// exits the goroutine. The panic itself propagates.
func (it *Iterator[T]) pull() (v T, ok bool) {
	var pulled bool
	defer func() {
		if pulled {
			return
		}
		it.state = iteratorStopped
		if it.timer != nil {
			it.timer.Cancel()
		}
		it.stop()
		it.sched.logger.Debug().
			Str("iterator", it.String()).
			Log("iterator sequence failed")
	}()
	v, ok = it.next()
	pulled = true
	return v, ok
}
