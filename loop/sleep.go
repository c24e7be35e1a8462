// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package loop

import (
	"time"

	"github.com/GermanBionicSystems/scd30node/timer"
)

// DeepSleepAllowed decides between deep and light sleep. The checks are
// ordered: a too short remaining time always wins, then the deep sleep test
// flag, then an attached console, then the disable flag; otherwise deep
// sleep is used only when unattended.
func DeepSleepAllowed(remaining time.Duration, flags Flags, consoleAttached bool) bool {
	switch {
	case remaining < minDeepSleep:
		return false
	case flags&FlagDeepSleepTest != 0:
		return true
	case consoleAttached:
		return false
	case flags&FlagDisableDeepSleep != 0:
		return false
	default:
		return flags&FlagUnattended != 0
	}
}

type clockSleeper struct {
	clock timer.Clock
}

func (c clockSleeper) DeepSleep(d time.Duration) {
	c.clock.Sleep(d)
}

func (l *Loop) consoleAttached() bool {
	return l.opts.ConsoleAttached != nil && l.opts.ConsoleAttached()
}

// sleep is called from Sleeping while enough time remains before the next
// uplink. Light sleep needs no action: the caller just waits for the next
// deadline.
func (l *Loop) sleep() {
	deep := DeepSleepAllowed(l.uplinkTimer.Remaining(), l.flags, l.consoleAttached())
	if !l.noticed {
		l.sleepNotice(deep)
	}
	if !deep {
		return
	}
	if l.notice.Armed() {
		if !l.notice.IsExpired() {
			return
		}
		l.notice.Stop()
	}
	l.deepSleep()
}

// sleepNotice announces the sleep mode once. Before the first deep sleep it
// starts a countdown so that an operator can still connect.
func (l *Loop) sleepNotice(deep bool) {
	l.noticed = true
	if !deep {
		l.log.Info("using light sleep")
		return
	}
	d := l.opts.SleepNotice
	if l.flags&FlagDeepSleepTest != 0 {
		d = l.opts.SleepNoticeTest
	}
	l.log.Infof("using deep sleep in %s", d)
	l.indicate(PatternSleepNotice)
	l.notice.Arm(d)
}

// deepSleep powers down until the uplink timer is due, in whole seconds,
// then asks for the current state to be evaluated again.
func (l *Loop) deepSleep() {
	d := l.uplinkTimer.Remaining().Truncate(time.Second)
	if d == 0 {
		return
	}
	l.indicate(PatternOff)
	l.deepSleepPrepare()
	l.log.Debugf("deep sleep for %s", d)
	l.opts.Sleeper.DeepSleep(d)
	l.deepSleepRecovery()
	l.metrics.deepSleep()
	l.fsm.reevaluate()
}

// deepSleepPrepare releases the sensor, then quiesces the peripherals in
// order. The sensor itself keeps measuring.
func (l *Loop) deepSleepPrepare() {
	l.sensor.Shutdown()
	for _, p := range l.opts.Peripherals {
		if err := p.Quiesce(); err != nil {
			l.log.WithError(err).Warn("quiescing peripheral")
		}
	}
}

// deepSleepRecovery restores the peripherals in reverse order and brings
// the sensor back last. A sensor that does not come back is logged and its
// readings are left out until it does.
func (l *Loop) deepSleepRecovery() {
	for i := len(l.opts.Peripherals) - 1; i >= 0; i-- {
		if err := l.opts.Peripherals[i].Restore(); err != nil {
			l.log.WithError(err).Warn("restoring peripheral")
		}
	}
	l.retrySensor()
}

func (l *Loop) retrySensor() {
	if err := l.sensor.Initialize(); err != nil {
		l.sensorUp = false
		l.sensorError("initialize", err)
		return
	}
	l.sensorUp = true
}
