// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package scd30

import (
	"fmt"
	"math"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/scd30node/common"
	"github.com/GermanBionicSystems/scd30node/timer"
)

const (
	// The device only supports this i2c address.
	DefaultAddress uint16 = 0x61
)

type cmd uint16

// The I2C commands, in ascending numerical order. Commands marked "get/set"
// read the current value when written without an argument.
const (
	cmdStartContinuousMeasurement cmd = 0x0036 // 16-bit arg: ambient pressure in mbar, 0 to disable
	cmdStopContinuousMeasurement  cmd = 0x0104
	cmdGetDataReady               cmd = 0x0202
	cmdReadMeasurement            cmd = 0x0300 // 3 floats: CO2, T, RH
	cmdMeasurementInterval        cmd = 0x4600 // get/set, seconds
	cmdAltitudeCompensation       cmd = 0x5102 // get/set, metres above sea level
	cmdForcedRecalibration        cmd = 0x5204 // get/set, ppm
	cmdAutoSelfCalibration        cmd = 0x5306 // get/set, 0 or 1
	cmdTemperatureOffset          cmd = 0x5403 // get/set, 0.01 °C
	cmdReadFirmwareVersion        cmd = 0xd100
	cmdSoftReset                  cmd = 0xd304
)

const (
	// readDelay is the minimum time between a command write and the read of
	// its response.
	readDelay = 3 * time.Millisecond
	// initialGrace is added to the first ready deadline after power up, to
	// let the sensor warm up before it is forced to start.
	initialGrace = 500 * time.Millisecond
	// errorBackoff is the ready deadline after a failed bus exchange.
	errorBackoff = time.Second
	// busyBackoff is the ready deadline after a "not ready" answer.
	busyBackoff = 100 * time.Millisecond

	measurementSize = (4 + 2) * 3
	maxResponseSize = 30

	MinMeasurementInterval = 2 * time.Second
	MaxMeasurementInterval = 1800 * time.Second

	MinPressure = 700 * 100 * physic.Pascal
	MaxPressure = 1400 * 100 * physic.Pascal

	MinForcedRecalibration PPM = 400
	MaxForcedRecalibration PPM = 2000

	centiCelsius = 10 * physic.MilliKelvin
	millibar     = 100 * physic.Pascal
)

// PPM=Parts Per Million. Units of measure for CO2 concentration.
type PPM uint16

func (ppm PPM) String() string {
	return fmt.Sprintf("%d PPM", uint16(ppm))
}

// State is the state of the measurement engine. The values are ordered: the
// driver is running for every state after End.
type State uint8

const (
	// Uninitialized means Initialize has never succeeded.
	Uninitialized State = iota
	// End means Initialize succeeded and was followed by Shutdown.
	End
	// Initial is the indeterminate state right after the first Initialize.
	Initial
	// Idle means continuous measurement is stopped.
	Idle
	// Triggered means continuous measurement runs, no data available yet.
	Triggered
	// Ready means continuous measurement runs and data is available.
	Ready
)

var stateNames = [...]string{"Uninitialized", "End", "Initial", "Idle", "Triggered", "Ready"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "<<unknown>>"
}

// Config is the product configuration read from the sensor. It is read once
// by Initialize and kept current by the setters; reading it never touches
// the bus.
type Config struct {
	// Firmware version, major in the high byte.
	FirmwareVersion uint16
	// Time between measurements. 2s to 1800s.
	MeasurementInterval time.Duration
	// Automatic-Self-Calibration enabled.
	ASCEnabled bool
	// Last forced recalibration reference.
	ForcedRecalibration PPM
	// Offset subtracted from the temperature reading, 0.01°C resolution.
	TemperatureOffset physic.Temperature
	// Altitude used for pressure compensation when no pressure is given.
	AltitudeCompensation physic.Distance
}

func (c *Config) String() string {
	return fmt.Sprintf("firmware %d.%d interval %s ASC %t FRC %s offset %s altitude %s",
		c.FirmwareVersion>>8, c.FirmwareVersion&0xff, c.MeasurementInterval,
		c.ASCEnabled, c.ForcedRecalibration, c.TemperatureOffset, c.AltitudeCompensation)
}

// Measurement is one reading as delivered by the sensor. A CO2 value of
// exactly zero is what the sensor reports on its first reading after power
// up.
type Measurement struct {
	CO2              float32 // ppm
	Temperature      float32 // °C
	RelativeHumidity float32 // %
}

// Env converts the temperature and humidity to periph units.
func (m Measurement) Env() physic.Env {
	return physic.Env{
		Temperature: physic.ZeroCelsius + physic.Temperature(float64(m.Temperature)*float64(physic.Celsius)),
		Humidity:    physic.RelativeHumidity(float64(m.RelativeHumidity) * float64(physic.PercentRH)),
	}
}

func (m Measurement) String() string {
	e := m.Env()
	return fmt.Sprintf("Temperature: %s Humidity: %s CO2: %.2f PPM", e.Temperature, e.Humidity, m.CO2)
}

// Opts holds the configuration options for the device.
type Opts struct {
	// Addr is the I2C address. Zero selects DefaultAddress.
	Addr uint16
	// Clock provides time for the ready deadline and the read delay. Nil
	// selects timer.System.
	Clock timer.Clock
}

// DefaultOpts holds the default configuration options for the device.
var DefaultOpts = Opts{Addr: DefaultAddress}

// Dev represents an SCD30 device.
//
// Dev is not safe for concurrent use; the measurement loop owns it.
type Dev struct {
	bus   i2c.Bus
	addr  uint16
	clock timer.Clock
	// d is the bus binding; non-nil only while running.
	d *i2c.Dev

	state   State
	tReady  time.Time
	cfg     Config
	m       Measurement
	lastErr Error
}

// New returns an SCD30 driver using the supplied bus. No I/O is done until
// Initialize is called. The Opts can be nil.
func New(bus i2c.Bus, opts *Opts) *Dev {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{bus: bus, addr: opts.Addr, clock: opts.Clock}
	if d.addr == 0 {
		d.addr = DefaultAddress
	}
	if d.clock == nil {
		d.clock = timer.System
	}
	return d
}

// Initialize binds the bus and reads the product configuration. It is a
// no-op if the driver is already running.
//
// After Shutdown the sensor is assumed to have kept measuring, so the driver
// resumes in Triggered. The first initialization starts in Initial and adds
// a warm-up grace to the ready deadline.
func (d *Dev) Initialize() error {
	if d.bus == nil {
		return d.fail(ErrNoBus)
	}
	if d.IsRunning() {
		return nil
	}
	d.d = &i2c.Dev{Bus: d.bus, Addr: d.addr}
	if d.state == End {
		d.state = Triggered
	} else {
		d.state = Initial
	}
	cfg, err := d.readConfig()
	if err != nil {
		d.state = Uninitialized
		d.d = nil
		return err
	}
	d.cfg = cfg
	d.tReady = d.clock.Now().Add(cfg.MeasurementInterval)
	if d.state == Initial {
		d.tReady = d.tReady.Add(initialGrace)
	}
	d.lastErr = Success
	return nil
}

// Shutdown releases the bus binding. The sensor itself is left running; no
// bus I/O is done.
func (d *Dev) Shutdown() {
	if d.IsRunning() {
		d.state = End
		d.d = nil
	}
}

// IsRunning reports whether Initialize succeeded and Shutdown was not called
// since.
func (d *Dev) IsRunning() bool {
	return d.state > End
}

// State returns the state of the measurement engine.
func (d *Dev) State() State {
	return d.state
}

// LastError returns the outcome of the last operation.
func (d *Dev) LastError() Error {
	return d.lastErr
}

// Config returns the cached product configuration.
func (d *Dev) Config() Config {
	return d.cfg
}

// Measurement returns the last measurement successfully read.
func (d *Dev) Measurement() Measurement {
	return d.m
}

// TimeToNextMeasurement returns the estimated time until the next
// measurement is ready, or 0 if it should be ready now.
func (d *Dev) TimeToNextMeasurement() time.Duration {
	return timer.Until(d.clock, d.tReady)
}

// StartContinuousMeasurement starts continuous measurement without pressure
// compensation.
func (d *Dev) StartContinuousMeasurement() error {
	return d.start(0)
}

// StartContinuousMeasurementWithPressure starts continuous measurement
// compensated for the ambient pressure p, which must be within 700 to 1400
// mbar.
func (d *Dev) StartContinuousMeasurementWithPressure(p physic.Pressure) error {
	if p < MinPressure || p > MaxPressure {
		return d.fail(ErrInvalidParameter)
	}
	return d.start(uint16(p / millibar))
}

func (d *Dev) start(mbar uint16) error {
	if err := d.checkRunning(); err != nil {
		return err
	}
	if err := d.writeCommandArg(cmdStartContinuousMeasurement, mbar); err != nil {
		return err
	}
	d.state = Triggered
	d.rearm(d.cfg.MeasurementInterval)
	d.lastErr = Success
	return nil
}

// StopMeasurement stops continuous measurement. The sensor keeps this
// setting across power cycles.
func (d *Dev) StopMeasurement() error {
	if err := d.checkRunning(); err != nil {
		return err
	}
	if err := d.writeCommand(cmdStopContinuousMeasurement); err != nil {
		return err
	}
	d.state = Idle
	d.lastErr = Success
	return nil
}

// SoftReset restarts the sensor. The driver goes back to Initial so that the
// next QueryReady restarts measurement if the sensor comes up idle.
func (d *Dev) SoftReset() error {
	if err := d.checkRunning(); err != nil {
		return err
	}
	if err := d.writeCommand(cmdSoftReset); err != nil {
		return err
	}
	d.state = Initial
	d.rearm(d.cfg.MeasurementInterval + initialGrace)
	d.lastErr = Success
	return nil
}

// ReadMeasurement fetches the measurement signalled by QueryReady. It
// returns ErrBusy if no measurement is ready.
//
// The cached measurement is replaced only when all three values pass their
// CRC. Whatever the outcome of the transfer, the engine goes back to
// Triggered with a fresh deadline.
func (d *Dev) ReadMeasurement() error {
	ready, err := d.QueryReady()
	if err != nil {
		return err
	}
	if !ready {
		return ErrBusy
	}

	d.state = Triggered
	d.rearm(d.cfg.MeasurementInterval)

	if err := d.writeCommand(cmdReadMeasurement); err != nil {
		return err
	}
	d.clock.Sleep(readDelay)
	var buf [measurementSize]byte
	if err := d.readResponse(cmdReadMeasurement, buf[:]); err != nil {
		return err
	}
	d.m = Measurement{
		CO2:              getFloat32BE(buf[0:]),
		Temperature:      getFloat32BE(buf[6:]),
		RelativeHumidity: getFloat32BE(buf[12:]),
	}
	d.lastErr = Success
	return nil
}

// SetMeasurementInterval sets the time between measurements, 2s to 1800s.
func (d *Dev) SetMeasurementInterval(interval time.Duration) error {
	if interval < MinMeasurementInterval || interval > MaxMeasurementInterval {
		return d.fail(ErrInvalidParameter)
	}
	v, err := d.writeConfirm(cmdMeasurementInterval, uint16(interval/time.Second))
	if err != nil {
		return err
	}
	d.cfg.MeasurementInterval = time.Duration(v) * time.Second
	return nil
}

// ActivateAutomaticSelfCalibration enables or disables ASC.
func (d *Dev) ActivateAutomaticSelfCalibration(enable bool) error {
	var w uint16
	if enable {
		w = 1
	}
	v, err := d.writeConfirm(cmdAutoSelfCalibration, w)
	if err != nil {
		return err
	}
	d.cfg.ASCEnabled = v != 0
	return nil
}

// SetForcedRecalibrationValue tells the sensor the current CO2 concentration,
// 400 to 2000 ppm.
func (d *Dev) SetForcedRecalibrationValue(ppm PPM) error {
	if ppm < MinForcedRecalibration || ppm > MaxForcedRecalibration {
		return d.fail(ErrInvalidParameter)
	}
	v, err := d.writeConfirm(cmdForcedRecalibration, uint16(ppm))
	if err != nil {
		return err
	}
	d.cfg.ForcedRecalibration = PPM(v)
	return nil
}

// SetTemperatureOffset sets the temperature offset, with a resolution of
// 0.01°C.
func (d *Dev) SetTemperatureOffset(offset physic.Temperature) error {
	centi := int64(offset / centiCelsius)
	if centi < math.MinInt16 || centi > math.MaxInt16 {
		return d.fail(ErrInvalidParameter)
	}
	v, err := d.writeConfirm(cmdTemperatureOffset, uint16(int16(centi)))
	if err != nil {
		return err
	}
	d.cfg.TemperatureOffset = physic.Temperature(int16(v)) * centiCelsius
	return nil
}

// SetAltitudeCompensation sets the altitude of the sensor, in whole metres.
func (d *Dev) SetAltitudeCompensation(altitude physic.Distance) error {
	m := int64(altitude / physic.Metre)
	if m < math.MinInt16 || m > math.MaxInt16 {
		return d.fail(ErrInvalidParameter)
	}
	v, err := d.writeConfirm(cmdAltitudeCompensation, uint16(int16(m)))
	if err != nil {
		return err
	}
	d.cfg.AltitudeCompensation = physic.Distance(int16(v)) * physic.Metre
	return nil
}

// Halt stops continuous measurement. It implements conn.Resource and does
// nothing if the driver is not running.
func (d *Dev) Halt() error {
	if !d.IsRunning() {
		return nil
	}
	return d.StopMeasurement()
}

func (d *Dev) String() string {
	if d.bus == nil {
		return "scd30"
	}
	return fmt.Sprintf("scd30: %s", d.bus.String())
}

// readConfig reads the whole product configuration; the first failed read
// is reported.
func (d *Dev) readConfig() (Config, error) {
	var cfg Config
	reads := []struct {
		name string
		c    cmd
		set  func(uint16)
	}{
		{"firmware version", cmdReadFirmwareVersion, func(v uint16) { cfg.FirmwareVersion = v }},
		{"measurement interval", cmdMeasurementInterval, func(v uint16) { cfg.MeasurementInterval = time.Duration(v) * time.Second }},
		{"automatic self calibration", cmdAutoSelfCalibration, func(v uint16) { cfg.ASCEnabled = v != 0 }},
		{"forced recalibration value", cmdForcedRecalibration, func(v uint16) { cfg.ForcedRecalibration = PPM(v) }},
		{"temperature offset", cmdTemperatureOffset, func(v uint16) { cfg.TemperatureOffset = physic.Temperature(int16(v)) * centiCelsius }},
		{"altitude compensation", cmdAltitudeCompensation, func(v uint16) { cfg.AltitudeCompensation = physic.Distance(int16(v)) * physic.Metre }},
	}
	for _, r := range reads {
		v, err := d.readUint16(r.c)
		if err != nil {
			return Config{}, fmt.Errorf("scd30: reading %s: %w", r.name, err)
		}
		r.set(v)
	}
	return cfg, nil
}

// writeConfirm writes a parameter then reads it back. The read back value
// must match what was written.
func (d *Dev) writeConfirm(c cmd, w uint16) (uint16, error) {
	if err := d.checkRunning(); err != nil {
		return 0, err
	}
	if err := d.writeCommandArg(c, w); err != nil {
		return 0, err
	}
	v, err := d.readUint16(c)
	if err != nil {
		return 0, err
	}
	if v != w {
		return 0, d.failCmd(ErrSensorUpdateFailed, c, fmt.Errorf("wrote %d, read back %d", w, v))
	}
	d.lastErr = Success
	return v, nil
}

// readUint16 issues c, waits, then reads one CRC checked word.
func (d *Dev) readUint16(c cmd) (uint16, error) {
	if err := d.checkRunning(); err != nil {
		return 0, err
	}
	if err := d.writeCommand(c); err != nil {
		return 0, err
	}
	d.clock.Sleep(readDelay)
	var buf [3]byte
	if err := d.readResponse(c, buf[:]); err != nil {
		return 0, err
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func (d *Dev) writeCommand(c cmd) error {
	return d.writeBuffer(c, []byte{byte(c >> 8), byte(c)})
}

func (d *Dev) writeCommandArg(c cmd, arg uint16) error {
	w := []byte{byte(c >> 8), byte(c), byte(arg >> 8), byte(arg), 0}
	w[4] = common.CRC8(w[2:4])
	return d.writeBuffer(c, w)
}

func (d *Dev) writeBuffer(c cmd, w []byte) error {
	if err := d.d.Tx(w, nil); err != nil {
		return d.failCmd(ErrCommandWrite, c, err)
	}
	return nil
}

// readResponse reads a response made of 3-byte tuples and checks every
// tuple's CRC. Any bad tuple invalidates the whole response.
func (d *Dev) readResponse(c cmd, r []byte) error {
	if len(r) == 0 || len(r) > maxResponseSize || len(r)%3 != 0 {
		return d.failCmd(ErrInternalInvalidParameter, c, nil)
	}
	if err := d.d.Tx(nil, r); err != nil {
		return d.failCmd(ErrI2cReadRequest, c, err)
	}
	for ix := 0; ix < len(r); ix += 3 {
		if common.CRC8(r[ix:ix+2]) != r[ix+2] {
			return d.failCmd(ErrCrc, c, fmt.Errorf("invalid crc at byte %d", ix))
		}
	}
	return nil
}

func (d *Dev) checkRunning() error {
	if !d.IsRunning() {
		return d.fail(ErrUninitialized)
	}
	return nil
}

func (d *Dev) rearm(after time.Duration) {
	d.tReady = d.clock.Now().Add(after)
}

func (d *Dev) fail(e Error) error {
	d.lastErr = e
	return e
}

func (d *Dev) failCmd(e Error, c cmd, err error) error {
	d.lastErr = e
	return &opError{code: e, cmd: c, err: err}
}

// getFloat32BE decodes a big-endian float32 sent as two CRC tuples,
// skipping the CRC byte in the middle. NaN and infinities map to zero,
// denormals to zero of the same sign.
func getFloat32BE(p []byte) float32 {
	v := uint32(p[0])<<24 | uint32(p[1])<<16 | uint32(p[3])<<8 | uint32(p[4])
	switch v & 0x7f800000 {
	case 0x7f800000:
		return 0
	case 0:
		v &= 0xff800000
	}
	return math.Float32frombits(v)
}

var _ conn.Resource = &Dev{}
