// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package loop

import (
	"context"
	"errors"
	"time"
)

// ErrStopped is returned by Exec once Run returned.
var ErrStopped = errors.New("loop: stopped")

// Run evaluates the loop until it reaches Final or ctx is done. It wakes up
// only on requests, timer deadlines, send completions and Exec calls.
//
// Run must not be called more than once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	t := time.NewTimer(idle)
	if !t.Stop() {
		drainTimer(t)
	}
	for {
		l.Eval()
		if l.fsm.state == Final {
			return nil
		}
		resetTimer(t, l.nextWake())
		select {
		case <-ctx.Done():
			l.sensor.Shutdown()
			return ctx.Err()
		case <-l.signal:
		case f := <-l.exec:
			f()
		case <-t.C:
		}
	}
}

// Exec runs f on the loop's goroutine and waits for it to return. It is how
// other goroutines reach the sensor and the loop settings while Run is
// running.
func (l *Loop) Exec(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	g := func() {
		defer close(finished)
		f()
	}
	select {
	case l.exec <- g:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// nextWake returns how long the loop can wait before the current state
// needs to be evaluated again.
func (l *Loop) nextWake() time.Duration {
	switch l.fsm.state {
	case Wake:
		return l.stateTimer.Remaining()
	case Measure:
		return max(l.sensor.TimeToNextMeasurement(), minPoll)
	case Sleeping:
		d := l.uplinkTimer.Remaining()
		if l.notice.Armed() && !l.notice.IsExpired() {
			d = min(d, l.notice.Remaining())
		}
		return d
	}
	return idle
}

func resetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		drainTimer(t)
	}
	t.Reset(d)
}

func drainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
