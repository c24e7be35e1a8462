// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package uplink

import (
	"math"

	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/scd30node/scd30"
)

const (
	// FormatTag identifies the payload layout; it is always the first byte.
	FormatTag byte = 0x15
	// Port is the application port measurement records are sent on.
	Port uint8 = 1
	// MaxCO2 is the full scale of the CO2 field, in ppm.
	MaxCO2 = 40000
)

// Flags is the field presence byte, the second byte of a payload. Fields
// follow in bit order.
type Flags uint8

const (
	// FlagBattery: int16, battery voltage in 1/4096 V.
	FlagBattery Flags = 1 << iota
	// FlagSystemVoltage is reserved; Encode never sets it.
	FlagSystemVoltage
	// FlagBoot: uint8, low byte of the boot counter.
	FlagBoot
	// FlagTH: int16 temperature in 1/200 °C, then uint16 relative humidity
	// in 100/65535 %.
	FlagTH
	// FlagCO2: uflt16 of ppm/40000.
	FlagCO2
)

// Sender submits uplink messages. It is implemented by the radio transports.
//
// Send either rejects the message by returning an error, in which case done
// is never called, or accepts it and calls done exactly once, from any
// goroutine, when the transmission finishes. Only one message may be in
// flight at a time.
type Sender interface {
	Send(payload []byte, confirmed bool, port uint8, done func(ok bool)) error
}

// Fields holds the sources of one measurement record. A source that is not
// available is left out of the payload along with its flag.
type Fields struct {
	// Battery is the battery voltage, valid when HasBattery is set.
	Battery    physic.ElectricPotential
	HasBattery bool
	// BootCount is the number of boots, valid when HasBootCount is set.
	BootCount    uint32
	HasBootCount bool
	// Measurement is valid when HasMeasurement is set.
	Measurement    scd30.Measurement
	HasMeasurement bool
}

// Encode builds the measurement record for f.
//
// A CO2 reading of exactly zero is the sensor's first reading after power up
// and is left out, while temperature and humidity are still sent.
func Encode(f *Fields) []byte {
	var b Buffer
	b.Put(FormatTag)
	b.Put(0)
	var flags Flags
	if f.HasBattery {
		b.PutV(float32(float64(f.Battery) / float64(physic.Volt)))
		flags |= FlagBattery
	}
	if f.HasBootCount {
		b.PutBootCountLsb(f.BootCount)
		flags |= FlagBoot
	}
	if f.HasMeasurement {
		m := f.Measurement
		t := math.Floor(float64(m.Temperature)*200 + 0.5)
		rh := math.Floor(float64(m.RelativeHumidity)*65535/100 + 0.5)
		b.Put2S(int32(clamp(t, math.MinInt16, math.MaxInt16)))
		b.Put2U(uint32(clamp(rh, 0, math.MaxUint16)))
		flags |= FlagTH
		if m.CO2 != 0 {
			b.PutUflt16(m.CO2 / MaxCO2)
			flags |= FlagCO2
		}
	}
	out := b.Bytes()
	out[1] = byte(flags)
	return out
}

// clamp limits v to [lo, hi] before an integer conversion. NaN maps to 0.
func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

// Buffer accumulates a big-endian payload.
type Buffer struct {
	b []byte
}

// Reset empties the buffer, keeping its storage.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
}

// Bytes returns the accumulated payload. It aliases the buffer.
func (b *Buffer) Bytes() []byte {
	return b.b
}

// Len returns the number of bytes accumulated.
func (b *Buffer) Len() int {
	return len(b.b)
}

// Put appends one byte.
func (b *Buffer) Put(v byte) {
	b.b = append(b.b, v)
}

// Put2 appends a 16-bit word.
func (b *Buffer) Put2(v uint16) {
	b.b = append(b.b, byte(v>>8), byte(v))
}

// Put2U appends v saturated to [0, 0xFFFF].
func (b *Buffer) Put2U(v uint32) {
	b.Put2(uint16(min(v, math.MaxUint16)))
}

// Put2S appends v saturated to the int16 range.
func (b *Buffer) Put2S(v int32) {
	b.Put2(uint16(int16(max(min(v, math.MaxInt16), math.MinInt16))))
}

// PutV appends a voltage in 1/4096 V as a saturated int16.
func (b *Buffer) PutV(volts float32) {
	v := float64(volts)*4096 + 0.5
	switch {
	case v >= math.MaxInt16:
		b.Put2S(math.MaxInt16)
	case v <= math.MinInt16:
		b.Put2S(math.MinInt16)
	default:
		b.Put2S(int32(math.Floor(v)))
	}
}

// PutBootCountLsb appends the low byte of the boot counter.
func (b *Buffer) PutBootCountLsb(n uint32) {
	b.Put(byte(n))
}

// PutUflt16 appends f, which should be in [0, 1), as an uflt16.
func (b *Buffer) PutUflt16(f float32) {
	b.Put2(EncodeUflt16(f))
}

// EncodeUflt16 encodes f in [0, 1) as an unsigned 16-bit float: a 4-bit
// exponent biased by 15 above a 12-bit fraction, no hidden bit. Negative
// values encode as 0, values of 1 or more as 0xFFFF.
//
// The value is recovered as (v & 0xfff) / 4096 * 2^((v >> 12) - 15).
func EncodeUflt16(f float32) uint16 {
	if !(f > 0) {
		return 0
	}
	if f >= 1 {
		return 0xffff
	}
	frac, exp := math.Frexp(float64(f))
	exp += 15
	if exp < 0 {
		frac = math.Ldexp(frac, exp)
		exp = 0
	}
	mant := uint32(math.Ldexp(frac, 12) + 0.5)
	if mant >= 1<<12 {
		mant = 1 << 11
		exp++
	}
	if exp > 15 {
		return 0xffff
	}
	return uint16(exp)<<12 | uint16(mant)
}
