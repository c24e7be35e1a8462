// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package loop

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/GermanBionicSystems/scd30node/scd30"
)

// Metrics exports the loop's activity to Prometheus. A nil *Metrics
// records nothing.
type Metrics struct {
	CO2          prometheus.Gauge
	Temperature  prometheus.Gauge
	Humidity     prometheus.Gauge
	State        prometheus.Gauge
	SensorErrors *prometheus.CounterVec
	Uplinks      *prometheus.CounterVec
	DeepSleeps   prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg, if not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CO2: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scd30_co2_ppm",
			Help: "Last CO2 concentration (units: ppm)",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scd30_temperature_celsius",
			Help: "Last temperature (units: degrees Celsius)",
		}),
		Humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scd30_humidity_percent",
			Help: "Last relative humidity (units: %)",
		}),
		State: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scd30node_loop_state",
			Help: "Current state of the measurement loop",
		}),
		SensorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scd30_errors_total",
			Help: "Sensor hard errors by code",
		}, []string{"code"}),
		Uplinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scd30node_uplinks_total",
			Help: "Uplinks by result",
		}, []string{"result"}),
		DeepSleeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scd30node_deep_sleeps_total",
			Help: "Deep sleeps entered",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.CO2, m.Temperature, m.Humidity, m.State, m.SensorErrors, m.Uplinks, m.DeepSleeps)
	}
	return m
}

func (m *Metrics) measurement(v scd30.Measurement) {
	if m == nil {
		return
	}
	if v.CO2 != 0 {
		m.CO2.Set(float64(v.CO2))
	}
	m.Temperature.Set(float64(v.Temperature))
	m.Humidity.Set(float64(v.RelativeHumidity))
}

func (m *Metrics) state(s State) {
	if m != nil {
		m.State.Set(float64(s))
	}
}

func (m *Metrics) sensorError(code scd30.Error) {
	if m != nil {
		m.SensorErrors.WithLabelValues(code.String()).Inc()
	}
}

func (m *Metrics) uplink(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Uplinks.WithLabelValues(result).Inc()
}

func (m *Metrics) deepSleep() {
	if m != nil {
		m.DeepSleeps.Inc()
	}
}
