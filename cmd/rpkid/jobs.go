// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"runtime"

	"github.com/joeycumines/go-rpkid/cron"
)

func (d *daemon) addJobs() {
	d.cron.Add(cron.SyncJob("heartbeat", d.heartbeat))
	d.cron.Add(cron.SyncJob("runtime-stats", d.runtimeStats))
}

// heartbeat reports that the loop is alive, and how busy it is.
func (d *daemon) heartbeat() error {
	d.logger.Info().
		Dur("uptime", d.sched.Now().Sub(d.started)).
		Int("pending_timers", d.sched.Len()).
		Uint64("cycles", d.cron.Cycles()).
		Log("heartbeat")
	return nil
}

func (d *daemon) runtimeStats() error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	d.logger.Debug().
		Uint64("heap_alloc", m.HeapAlloc).
		Uint64("heap_objects", m.HeapObjects).
		Int64("num_gc", int64(m.NumGC)).
		Int("goroutines", runtime.NumGoroutine()).
		Log("runtime stats")
	return nil
}
