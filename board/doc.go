// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package board wires the node's shared hardware for the measurement loop:
// the I²C bus, the sensor power rail, the activity LED, the INA260 battery
// monitor and the boot counter.
//
// Bus and Rail implement loop.Peripheral so the loop can power them down
// around a deep sleep.
package board
