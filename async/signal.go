// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package async

import (
	"os"
	"os/signal"
	"slices"
	"sync"
)

// signalSub is one installation's subscription to a single signal. Only
// the innermost subscription for a given signal is registered with
// os/signal, so nested loops shadow, rather than clobber, outer ones.
type signalSub struct {
	sig    os.Signal
	ch     chan os.Signal
	handle func(os.Signal)
}

// signalStacks holds, per signal, the installed subscriptions, innermost last.
var signalStacks struct {
	mu sync.Mutex
	m  map[os.Signal][]*signalSub
}

func (s *signalSub) innermost() bool {
	signalStacks.mu.Lock()
	defer signalStacks.mu.Unlock()
	stack := signalStacks.m[s.sig]
	return len(stack) != 0 && stack[len(stack)-1] == s
}

// installSignals arranges for handler to be called (from another goroutine)
// when any of signals is delivered, until restore is called. Restore must
// be called exactly once, and puts back whatever handling was in place
// before, including the default (terminate) behavior.
func installSignals(signals []os.Signal, handler func(os.Signal)) (restore func()) {
	subs := make([]*signalSub, 0, len(signals))
	for _, sig := range signals {
		if slices.ContainsFunc(subs, func(s *signalSub) bool { return s.sig == sig }) {
			continue
		}
		subs = append(subs, &signalSub{
			sig:    sig,
			ch:     make(chan os.Signal, 1),
			handle: handler,
		})
	}

	signalStacks.mu.Lock()
	if signalStacks.m == nil {
		signalStacks.m = make(map[os.Signal][]*signalSub)
	}
	for _, sub := range subs {
		stack := signalStacks.m[sub.sig]
		// subscribe before unsubscribing the shadowed handler, so there is
		// no window where the signal would be fatal
		signal.Notify(sub.ch, sub.sig)
		if len(stack) != 0 {
			signal.Stop(stack[len(stack)-1].ch)
		}
		signalStacks.m[sub.sig] = append(stack, sub)
	}
	signalStacks.mu.Unlock()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				case sig := <-sub.ch:
					if sub.innermost() {
						sub.handle(sig)
					}
				}
			}
		}()
	}

	return func() {
		signalStacks.mu.Lock()
		for _, sub := range subs {
			stack := signalStacks.m[sub.sig]
			i := slices.Index(stack, sub)
			if i < 0 {
				continue
			}
			if i == len(stack)-1 && i > 0 {
				signal.Notify(stack[i-1].ch, sub.sig)
			}
			signal.Stop(sub.ch)
			stack = slices.Delete(stack, i, i+1)
			if len(stack) == 0 {
				delete(signalStacks.m, sub.sig)
			} else {
				signalStacks.m[sub.sig] = stack
			}
		}
		signalStacks.mu.Unlock()

		close(stop)
		wg.Wait()
	}
}
