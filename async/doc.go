// Package async provides the cooperative, single-goroutine scheduling core
// of the daemon: timers, a timer queue, a stack-safe iteration primitive, an
// event loop over an external I/O reactor, and a bridge that makes
// callback-style operations look synchronous.
//
// # Architecture
//
// A [Scheduler] owns the queue of pending [Timer] values. It is created
// explicitly and injected into every component that schedules work, so tests
// can construct isolated instances (with a mock clock, see [WithClock]).
//
// A [Loop] drives a Scheduler together with a [Reactor]. Each turn waits on
// the reactor, bounded by [Scheduler.NextWakeup], then runs every expired
// timer via [Scheduler.RunExpired]. [Loop.Run] returns once there is
// nothing left to wait for, or it is asked to exit.
//
// An [Iterator] expresses a multi-step asynchronous sequence. Its item
// callback continues the sequence by calling [Iterator.Advance], and by
// default each step is bounced through a zero-delay Timer, so the call
// stack does not grow with the length of the sequence.
//
// [Call] runs a private, nested invocation of the loop until a
// callback-style operation completes.
//
// # Exiting
//
// Exit is cooperative, and unwinds exactly one (the innermost) running
// invocation of [Loop.Run], at its next turn boundary. It may be requested
// by [Loop.Exit], by a handler returning [ErrExitNow], or by one of the
// signals configured by [WithSignals] (default [DefaultSignals]).
//
// # Thread Safety
//
// Nothing in this package is safe for concurrent use, with the exception
// of cancelling the context passed to [Loop.Run] or [Call]. Handlers run to
// completion, one at a time, on the goroutine that called Run.
//
// # Usage
//
//	sched, err := async.NewScheduler(async.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	p, err := poller.New()
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//	loop, err := async.NewLoop(sched, p)
//	if err != nil {
//	    return err
//	}
//	sched.NewTimer(func() error {
//	    fmt.Println("hello")
//	    return nil
//	}).SetAfter(time.Second)
//	return loop.Run(ctx)
package async
