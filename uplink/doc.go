// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package uplink encodes measurement records for a low-power wide-area radio
// link and defines the contract of the transports sending them.
//
// # Wire format
//
// All multi-byte fields are big-endian.
//
//	byte 0   FormatTag (0x15)
//	byte 1   Flags, one bit per field present
//	0x01     int16  battery voltage, 1/4096 V
//	0x02     reserved, never set
//	0x04     uint8  boot counter, low byte
//	0x08     int16  temperature, 1/200 °C
//	         uint16 relative humidity, 100/65535 %
//	0x10     uflt16 CO2, ppm/40000
//
// A decoder rejects any record whose first byte is not FormatTag and reads
// the fields whose bit is set, in bit order.
package uplink
