// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scd30 provides a driver for the Sensirion SCD30 CO2 sensor. The
// SCD30 measures CO2 concentration, temperature and humidity continuously
// at a configurable interval.
//
// The driver never blocks waiting for a measurement. Callers poll
// QueryReady, which only touches the bus once the estimated ready time has
// passed, then call ReadMeasurement:
//
//	if ready, err := dev.QueryReady(); err != nil {
//		// hard error
//	} else if ready {
//		err = dev.ReadMeasurement()
//	}
//
// Refer to the interface description for more information.
//
// https://sensirion.com/media/documents/D7CEEF4A/6165372F/Sensirion_CO2_Sensors_SCD30_Interface_Description.pdf
package scd30
