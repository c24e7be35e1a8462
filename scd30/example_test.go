//go:build examples
// +build examples

// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scd30_test

import (
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/scd30node/scd30"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Basic example program for the SCD30 using this library. It polls the
// sensor and prints every measurement.
func Example() {
	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	dev := scd30.New(bus, &scd30.DefaultOpts)
	if err := dev.Initialize(); err != nil {
		log.Fatal(err)
	}
	defer dev.Shutdown()
	cfg := dev.Config()
	fmt.Println(cfg.String())

	for range 5 {
		ready, err := dev.QueryReady()
		if err != nil {
			fmt.Println(err)
		} else if ready {
			if err := dev.ReadMeasurement(); err != nil {
				fmt.Println(err)
			} else {
				fmt.Println(dev.Measurement())
			}
		}
		time.Sleep(max(dev.TimeToNextMeasurement(), 10*time.Millisecond))
	}
}
