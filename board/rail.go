// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package board

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// Rail is a power rail switched by a GPIO, high when powered.
type Rail struct {
	pin gpio.PinOut
}

// NewRail powers the rail up.
func NewRail(p gpio.PinOut) (*Rail, error) {
	r := &Rail{pin: p}
	if err := r.Restore(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rail) String() string {
	return "Rail{" + r.pin.String() + "}"
}

// Quiesce cuts the power. It implements loop.Peripheral.
func (r *Rail) Quiesce() error {
	if err := r.pin.Out(gpio.Low); err != nil {
		return fmt.Errorf("board: rail %s off: %w", r.pin, err)
	}
	return nil
}

// Restore powers the rail up. It implements loop.Peripheral.
func (r *Rail) Restore() error {
	if err := r.pin.Out(gpio.High); err != nil {
		return fmt.Errorf("board: rail %s on: %w", r.pin, err)
	}
	return nil
}
