// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package scd30node is a container for the packages of a battery powered
// CO2 node: a Sensirion SCD30 driver, the measurement loop that polls it and
// the uplink encoders and senders that carry its readings over a LoRa link.
//
// See cmd/scd30node for the host binary.
package scd30node
