// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scd30

// QueryReady reports whether a measurement is available. A non-nil error is
// a hard error: the current cycle cannot complete without corrective action.
// (false, nil) is the soft busy condition; LastError is then ErrBusy.
//
// The bus is only polled once the ready deadline has passed, so QueryReady
// can be called in a tight loop. A satisfied query stays satisfied without
// further bus traffic until ReadMeasurement consumes it.
func (d *Dev) QueryReady() (bool, error) {
	if err := d.checkRunning(); err != nil {
		return false, err
	}
	switch d.state {
	case Ready:
		d.lastErr = Success
		return true, nil
	case Idle:
		return false, d.fail(ErrNotMeasuring)
	}
	if d.clock.Now().Before(d.tReady) {
		d.lastErr = ErrBusy
		return false, nil
	}
	if d.state != Triggered && d.state != Initial {
		return false, d.fail(ErrInternalInvalidState)
	}

	flag, err := d.readUint16(cmdGetDataReady)
	if err != nil {
		d.rearm(errorBackoff)
		return false, err
	}
	if flag != 0 {
		d.state = Ready
		d.lastErr = Success
		return true, nil
	}
	if d.state == Initial {
		return false, d.ensureStarted()
	}
	d.rearm(busyBackoff)
	d.lastErr = ErrBusy
	return false, nil
}

// ensureStarted handles a sensor found not ready in Initial: it may come up
// with continuous measurement off, so measurement is (re)started. On
// success the caller sees busy and polls again after the new deadline.
func (d *Dev) ensureStarted() error {
	if err := d.StartContinuousMeasurement(); err != nil {
		d.rearm(errorBackoff)
		return err
	}
	d.lastErr = ErrBusy
	return nil
}
