// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scd30

import "fmt"

// Error is a driver status code. It implements error so that it can be
// returned directly and matched with errors.Is.
//
// Every public operation leaves its outcome in Dev.LastError. ErrBusy is the
// expected steady state while a measurement is pending and is never returned
// as a hard error by QueryReady.
type Error uint8

// ErrCommandWriteBuffer, ErrI2cReadShort and ErrI2cReadLong are never
// returned: i2c.Bus.Tx either transfers the whole buffers or fails, which is
// reported as ErrCommandWrite or ErrI2cReadRequest. The codes keep their
// values so that logged and exported codes stay stable.
const (
	Success Error = iota
	ErrNoBus
	ErrCommandWrite
	ErrCommandWriteBuffer
	ErrInternalInvalidParameter
	ErrI2cReadShort
	ErrI2cReadRequest
	ErrI2cReadLong
	ErrBusy
	ErrNotMeasuring
	ErrCrc
	ErrUninitialized
	ErrInvalidParameter
	ErrInternalInvalidState
	ErrSensorUpdateFailed
)

var errorNames = [...]string{
	Success:                     "Success",
	ErrNoBus:                    "NoBus",
	ErrCommandWrite:             "CommandWriteFailed",
	ErrCommandWriteBuffer:       "CommandWriteBufferFailed",
	ErrInternalInvalidParameter: "InternalInvalidParameter",
	ErrI2cReadShort:             "I2cReadShort",
	ErrI2cReadRequest:           "I2cReadRequest",
	ErrI2cReadLong:              "I2cReadLong",
	ErrBusy:                     "Busy",
	ErrNotMeasuring:             "NotMeasuring",
	ErrCrc:                      "Crc",
	ErrUninitialized:            "Uninitialized",
	ErrInvalidParameter:         "InvalidParameter",
	ErrInternalInvalidState:     "InternalInvalidState",
	ErrSensorUpdateFailed:       "SensorUpdateFailed",
}

// String returns the stable name of the code.
func (e Error) String() string {
	if int(e) < len(errorNames) {
		return errorNames[e]
	}
	return "<<unknown>>"
}

func (e Error) Error() string {
	return "scd30: " + e.String()
}

// Loggable reports whether the code is a failure worth logging. Success and
// ErrBusy are not.
func (e Error) Loggable() bool {
	return e != Success && e != ErrBusy
}

// opError attaches the command and the bus error to a code.
type opError struct {
	code Error
	cmd  cmd
	err  error
}

func (e *opError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("scd30 cmd 0x%04x: %s", uint16(e.cmd), e.code)
	}
	return fmt.Sprintf("scd30 cmd 0x%04x: %s: %v", uint16(e.cmd), e.code, e.err)
}

func (e *opError) Unwrap() []error {
	if e.err == nil {
		return []error{e.code}
	}
	return []error{e.code, e.err}
}
