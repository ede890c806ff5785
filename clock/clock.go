// Package clock implements the runtime's simulation clock: a monotonically
// advancing simulation time with a scale factor against wall time,
// stop/resume, and an optional end instant. Mutators are serialized by a
// single lock.
/*
 * Copyright (c) 2018-2026, RACE contributors. All rights reserved.
 */
package clock

import (
	"sync"
	"time"
)

// Instant is simulation time: 64-bit millisecond resolution epoch time.
type Instant int64

func FromTime(t time.Time) Instant { return Instant(t.UnixMilli()) }
func (i Instant) Time() time.Time  { return time.UnixMilli(int64(i)) }
func (i Instant) Add(d time.Duration) Instant {
	return i + Instant(d.Milliseconds())
}
func (i Instant) Sub(o Instant) time.Duration {
	return time.Duration(int64(i)-int64(o)) * time.Millisecond
}

// WallClock abstracts "now" so tests can inject a fake wall-time source
// without sleeping; production code uses realWallClock.
type WallClock interface{ Now() time.Time }

type realWallClock struct{}

func (realWallClock) Now() time.Time { return time.Now() }

type state struct {
	baseInstant Instant
	baseWall    time.Time
	timeScale   float64
	end         *Instant
	stopped     bool
	stoppedAt   Instant
}

// Clock is the runtime's shared simulation clock.
type Clock struct {
	mu    sync.Mutex
	wall  WallClock
	state state
}

// New creates a clock anchored at base, running at the given scale
// (scale must be > 0; non-positive values fall back to 1.0).
func New(base Instant, scale float64) *Clock {
	return NewWithWallClock(base, scale, realWallClock{})
}

func NewWithWallClock(base Instant, scale float64, wall WallClock) *Clock {
	if scale <= 0 {
		scale = 1.0
	}
	c := &Clock{wall: wall}
	c.state = state{
		baseInstant: base,
		baseWall:    wall.Now(),
		timeScale:   scale,
	}
	return c
}

// Now returns the current simulation instant: base + elapsed*scale while
// running, or the instant frozen at Stop() while stopped.
func (c *Clock) Now() Instant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowLocked()
}

func (c *Clock) nowLocked() Instant {
	s := &c.state
	if s.stopped {
		return s.stoppedAt
	}
	elapsed := c.wall.Now().Sub(s.baseWall)
	delta := time.Duration(float64(elapsed) * s.timeScale)
	return s.baseInstant.Add(delta)
}

// Scale returns the current simulation-to-wall-time ratio.
func (c *Clock) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.timeScale
}

// Reset atomically replaces base instant and scale; it publishes no event
// of its own, the Master emits ClockReset.
func (c *Clock) Reset(instant Instant, scale float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if scale <= 0 {
		scale = c.state.timeScale
	}
	c.state.baseInstant = instant
	c.state.baseWall = c.wall.Now()
	c.state.timeScale = scale
	if c.state.stopped {
		c.state.stoppedAt = instant
	}
}

// Stop freezes simulation time at its current value; idempotent.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.stopped {
		return
	}
	c.state.stoppedAt = c.nowLocked()
	c.state.stopped = true
}

// Resume continues simulation time from the value it was frozen at;
// idempotent.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.stopped {
		return
	}
	c.state.baseInstant = c.state.stoppedAt
	c.state.baseWall = c.wall.Now()
	c.state.stopped = false
}

func (c *Clock) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.stopped
}

// SetEnd installs an optional auto-termination anchor.
func (c *Clock) SetEnd(end Instant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.end = &end
}

func (c *Clock) ClearEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.end = nil
}

// ExceedsEnd reports whether instant is past the configured end time.
func (c *Clock) ExceedsEnd(instant Instant) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.end != nil && instant > *c.state.end
}
