// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package board

import (
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"

	"github.com/GermanBionicSystems/scd30node/loop"
)

// LED shows the loop's activity on a GPIO driven LED: lit while measuring,
// sending or about to deep sleep, dark otherwise.
type LED struct {
	pin gpio.PinOut
	log logrus.FieldLogger
}

// NewLED returns a LED on p. Pin failures are logged to log, if not nil.
func NewLED(p gpio.PinOut, log logrus.FieldLogger) *LED {
	return &LED{pin: p, log: log}
}

// Indicate implements loop.Indicator.
func (l *LED) Indicate(p loop.Pattern) {
	level := gpio.Low
	switch p {
	case loop.PatternMeasuring, loop.PatternSending, loop.PatternSleepNotice:
		level = gpio.High
	}
	if err := l.pin.Out(level); err != nil && l.log != nil {
		l.log.WithError(err).WithField("pin", l.pin.String()).Warn("led")
	}
}
