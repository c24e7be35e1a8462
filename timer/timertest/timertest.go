// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package timertest is meant to be used to test code that depends on
// timer.Clock.
package timertest

import (
	"sync"
	"time"
)

// Epoch is the instant a zero Clock starts at.
var Epoch = time.Date(2020, time.October, 1, 0, 0, 0, 0, time.UTC)

// Clock is a manually advanced timer.Clock. Sleep advances the clock
// instead of blocking, so code under test runs instantly.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	Slept  time.Duration
	Sleeps int
}

// Now implements timer.Clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = Epoch
	}
	return c.now
}

// Sleep implements timer.Clock by advancing the clock by d.
func (c *Clock) Sleep(d time.Duration) {
	c.Advance(d)
	c.mu.Lock()
	c.Slept += d
	c.Sleeps++
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now.IsZero() {
		c.now = Epoch
	}
	c.now = c.now.Add(d)
}
