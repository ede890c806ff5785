// Package mono provides a monotonic nanosecond clock source, so that
// time-delta math never observes a wall-clock step (NTP adjustment, DST,
// and similar). The clock, monitor and nlog packages read time.Now
// directly and do not use it.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, strictly
// monotonic within a process. Not comparable across processes.
func NanoTime() int64 { return time.Since(start).Nanoseconds() }

// Since is a convenience wrapper returning the elapsed duration since a
// NanoTime() reading.
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
