// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package board

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// ErrBusClosed is returned by Bus.Tx while the bus is quiesced.
var ErrBusClosed = errors.New("board: i2c bus is closed")

// Opener opens the underlying I²C bus, for example a closure around
// i2creg.Open.
type Opener func() (i2c.BusCloser, error)

// Bus is an I²C bus that can be released and reopened around a deep sleep.
//
// The devices keep a reference to the Bus itself, never to the underlying
// bus, so reopening is transparent to them.
type Bus struct {
	open Opener

	mu    sync.Mutex
	bus   i2c.BusCloser
	name  string
	speed physic.Frequency
}

// NewBus opens the bus with open.
func NewBus(open Opener) (*Bus, error) {
	b := &Bus{open: open}
	if err := b.Restore(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bus) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.name == "" {
		return "board.Bus"
	}
	return b.name
}

// Tx implements i2c.Bus.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return ErrBusClosed
	}
	return b.bus.Tx(addr, w, r)
}

// SetSpeed implements i2c.Bus. The speed is kept and applied again when the
// bus is reopened.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.speed = f
	if b.bus == nil {
		return nil
	}
	return b.bus.SetSpeed(f)
}

// Quiesce releases the underlying bus. It implements loop.Peripheral.
func (b *Bus) Quiesce() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

// Restore reopens the underlying bus. It implements loop.Peripheral.
func (b *Bus) Restore() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bus != nil {
		return nil
	}
	bus, err := b.open()
	if err != nil {
		return fmt.Errorf("board: open i2c bus: %w", err)
	}
	if b.speed != 0 {
		if err := bus.SetSpeed(b.speed); err != nil {
			_ = bus.Close()
			return fmt.Errorf("board: i2c bus speed %s: %w", b.speed, err)
		}
	}
	b.bus = bus
	b.name = bus.String()
	return nil
}

// Close releases the underlying bus for good.
func (b *Bus) Close() error {
	return b.Quiesce()
}

var _ i2c.BusCloser = &Bus{}
