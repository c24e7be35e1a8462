// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package timer_test

import (
	"testing"
	"time"

	"github.com/GermanBionicSystems/scd30node/timer"
	"github.com/GermanBionicSystems/scd30node/timer/timertest"
)

func TestTimer(t *testing.T) {
	clk := &timertest.Clock{}
	tm := timer.New(clk)
	if tm.IsExpired() || tm.Armed() || tm.Remaining() != 0 {
		t.Fatal("new timer must be disarmed")
	}
	tm.Arm(20 * time.Millisecond)
	if tm.IsExpired() {
		t.Error("expired right after Arm")
	}
	if r := tm.Remaining(); r != 20*time.Millisecond {
		t.Errorf("Remaining()=%s", r)
	}
	clk.Advance(19 * time.Millisecond)
	if tm.IsExpired() {
		t.Error("expired before deadline")
	}
	clk.Advance(time.Millisecond)
	if !tm.IsExpired() {
		t.Error("not expired at deadline")
	}
	clk.Advance(time.Second)
	if r := tm.Remaining(); r != 0 {
		t.Errorf("Remaining() past deadline=%s", r)
	}
	tm.Stop()
	if tm.IsExpired() {
		t.Error("stopped timer reports expired")
	}
}

func TestNegativeArm(t *testing.T) {
	clk := &timertest.Clock{}
	tm := timer.New(clk)
	tm.Arm(-time.Second)
	if !tm.IsExpired() {
		t.Error("negative duration should expire immediately")
	}
}

func TestClockSleep(t *testing.T) {
	clk := &timertest.Clock{}
	start := clk.Now()
	clk.Sleep(3 * time.Millisecond)
	if d := clk.Now().Sub(start); d != 3*time.Millisecond {
		t.Errorf("Sleep advanced %s", d)
	}
	if clk.Sleeps != 1 || clk.Slept != 3*time.Millisecond {
		t.Errorf("Sleeps=%d Slept=%s", clk.Sleeps, clk.Slept)
	}
}
