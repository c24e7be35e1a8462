// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package board

import (
	"encoding/binary"
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// INA260 registers.
const (
	ina260Addr        uint16 = 0x40
	ina260Current     byte   = 0x01
	ina260BusVoltage  byte   = 0x02
	ina260Power       byte   = 0x03
	ina260Manufacture byte   = 0xfe
	ina260Die         byte   = 0xff
)

// Power is one INA260 reading.
type Power struct {
	Voltage physic.ElectricPotential
	Current physic.ElectricCurrent
	Power   physic.Power
}

func (p *Power) String() string {
	return fmt.Sprintf("%s %s %s", p.Voltage, p.Current, p.Power)
}

// Battery is an INA260 power monitor on the battery supply.
type Battery struct {
	d *i2c.Dev
}

// NewBattery returns the INA260 at its default address on bus.
func NewBattery(bus i2c.Bus) *Battery {
	return &Battery{d: &i2c.Dev{Bus: bus, Addr: ina260Addr}}
}

func (b *Battery) String() string {
	return "INA260{" + b.d.String() + "}"
}

// Voltage returns the bus voltage, 1.25mV per LSB. It implements
// loop.Battery.
func (b *Battery) Voltage() (physic.ElectricPotential, error) {
	v, err := b.reg(ina260BusVoltage)
	if err != nil {
		return 0, err
	}
	return physic.ElectricPotential(v) * 1250 * physic.MicroVolt, nil
}

// Read returns voltage, current (1.25mA per LSB) and power (10mW per LSB).
func (b *Battery) Read() (Power, error) {
	var p Power
	v, err := b.reg(ina260BusVoltage)
	if err != nil {
		return p, err
	}
	c, err := b.reg(ina260Current)
	if err != nil {
		return p, err
	}
	w, err := b.reg(ina260Power)
	if err != nil {
		return p, err
	}
	p.Voltage = physic.ElectricPotential(v) * 1250 * physic.MicroVolt
	p.Current = physic.ElectricCurrent(int16(c)) * 1250 * physic.MicroAmpere
	p.Power = physic.Power(w) * 10 * physic.MilliWatt
	return p, nil
}

// ManufacturerID returns the manufacturer ID, 0x5449 ("TI").
func (b *Battery) ManufacturerID() (uint16, error) {
	return b.reg(ina260Manufacture)
}

// DieID returns the device ID and revision.
func (b *Battery) DieID() (uint16, error) {
	return b.reg(ina260Die)
}

func (b *Battery) reg(r byte) (uint16, error) {
	var buf [2]byte
	if err := b.d.Tx([]byte{r}, buf[:]); err != nil {
		return 0, fmt.Errorf("ina260: read register %#02x: %w", r, err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}
