// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timer provides the monotonic clock and the bounded software timer
// used by the sensor driver and the measurement loop.
//
// Nothing here owns a goroutine. A Timer is polled: callers compare it
// against the clock when they are evaluated.
package timer

import "time"

// Clock is a monotonic time source that can also block the caller.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// System is the Clock backed by the time package.
var System Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Timer is a one-shot deadline. The zero value is disarmed.
type Timer struct {
	clock    Clock
	deadline time.Time
	armed    bool
}

// New returns a disarmed Timer reading c. A nil c uses System.
func New(c Clock) *Timer {
	if c == nil {
		c = System
	}
	return &Timer{clock: c}
}

// Arm sets the deadline d from now, replacing any previous one.
func (t *Timer) Arm(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.deadline = t.clock.Now().Add(d)
	t.armed = true
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.armed = false
}

// Armed reports whether the timer holds a deadline.
func (t *Timer) Armed() bool {
	return t.armed
}

// IsExpired reports whether an armed timer has reached its deadline. A
// disarmed timer is never expired.
func (t *Timer) IsExpired() bool {
	return t.armed && !t.clock.Now().Before(t.deadline)
}

// Remaining returns the time left until the deadline, 0 once expired or
// when disarmed.
func (t *Timer) Remaining() time.Duration {
	if !t.armed {
		return 0
	}
	return Until(t.clock, t.deadline)
}

// Until returns the non-negative time from c's now until deadline.
func Until(c Clock, deadline time.Time) time.Duration {
	d := deadline.Sub(c.Now())
	if d < 0 {
		return 0
	}
	return d
}
