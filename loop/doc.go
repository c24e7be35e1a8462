// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package loop schedules the measurement cycle of a battery powered CO2
// node: wake up, read the sensor, send an uplink record, sleep.
//
// The cycle is a state machine:
//
//	Initial -> Inactive -> Wake -> Measure -> SleepSensor -> Transmit -> Sleeping
//	                        ^                                            |
//	                        +--------------------------------------------+
//
// Sleeping returns to Inactive on a deactivation request. End moves any
// state to Final, except that a transmission in flight completes first.
//
// Between uplinks the loop either waits (light sleep) or powers the device
// down (deep sleep), see DeepSleepAllowed. Around a deep sleep the sensor is
// shut down first and the Peripherals are quiesced in order; on wake they
// are restored in reverse order and the sensor is initialized last.
package loop
