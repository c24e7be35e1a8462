// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, a CRC8 calculation
package common

// crcNibble holds x^8 + x^5 + x^4 + 1 (0x31) applied to each 4-bit value.
var crcNibble = [16]byte{
	0x00, 0x31, 0x62, 0x53, 0xc4, 0xf5, 0xa6, 0x97,
	0xb9, 0x88, 0xdb, 0xea, 0x7d, 0x4c, 0x1f, 0x2e,
}

// CRC8 calculates the 8-bit CRC of the byte slice parameter and returns the
// calculated value. CRC bytes are used in sensors from TI and Sensirion.
//
// The CRC is seeded with 0xff and computed a nibble at a time.
func CRC8(bytes []byte) byte {
	return CRC8Update(0xff, bytes)
}

// CRC8Update continues a CRC8 computation from crc over bytes.
func CRC8Update(crc byte, bytes []byte) byte {
	for _, b := range bytes {
		p := (b ^ crc) >> 4
		crc = (crc << 4) ^ crcNibble[p]
		p = ((crc >> 4) ^ b) & 0x0f
		crc = (crc << 4) ^ crcNibble[p]
	}
	return crc
}

// CRC8Bitwise is the reference bit-at-a-time form of CRC8.
func CRC8Bitwise(bytes []byte) byte {
	var crc byte = 0xff
	for _, val := range bytes {
		crc ^= val
		for range 8 {
			if (crc & 0x80) == 0 {
				crc <<= 1
			} else {
				crc = (byte)((crc << 1) ^ 0x31)
			}
		}
	}
	return crc
}
