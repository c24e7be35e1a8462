// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package loop

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/scd30node/scd30"
	"github.com/GermanBionicSystems/scd30node/timer"
	"github.com/GermanBionicSystems/scd30node/uplink"
)

// Sensor is the measurement source. *scd30.Dev implements it.
type Sensor interface {
	Initialize() error
	Shutdown()
	QueryReady() (bool, error)
	ReadMeasurement() error
	Measurement() scd30.Measurement
	TimeToNextMeasurement() time.Duration
	LastError() scd30.Error
}

// Sleeper powers the device down for d. DeepSleep returns once the device
// runs again.
type Sleeper interface {
	DeepSleep(d time.Duration)
}

// Peripheral is shared hardware powered down around a deep sleep, such as
// a bus or a power rail.
type Peripheral interface {
	Quiesce() error
	Restore() error
}

// Pattern is what the Indicator shows.
type Pattern uint8

const (
	PatternOff Pattern = iota
	PatternSleeping
	PatternMeasuring
	PatternSending
	PatternSleepNotice
)

// Indicator shows the loop's activity, typically with a LED.
type Indicator interface {
	Indicate(p Pattern)
}

// Battery reports the supply voltage.
type Battery interface {
	Voltage() (physic.ElectricPotential, error)
}

// BootCounter reports how many times the device booted.
type BootCounter interface {
	BootCount() (uint32, error)
}

// Flags are the operating flags of the loop.
type Flags uint32

const (
	// FlagConfirmedUplink requests acknowledged uplinks.
	FlagConfirmedUplink Flags = 1 << iota
	// FlagDeepSleepTest forces deep sleep whenever it is worth it.
	FlagDeepSleepTest
	// FlagDisableDeepSleep prevents deep sleep.
	FlagDisableDeepSleep
	// FlagUnattended allows deep sleep when nothing else decides.
	FlagUnattended
)

const (
	// minDeepSleep is the shortest remaining time worth a deep sleep.
	minDeepSleep = 2 * time.Second
	// minSleep is the shortest remaining time for which sleeping is
	// considered at all.
	minSleep = 1500 * time.Millisecond
	// minPoll bounds how often the sensor is polled in Measure.
	minPoll = time.Millisecond
	// idle is the wait when nothing but a request can move the loop.
	idle = time.Hour
)

// Opts holds the configuration of a Loop.
type Opts struct {
	// TxCycle is the time between uplinks.
	TxCycle time.Duration
	// WakeSettle is the delay between waking up and polling the sensor.
	WakeSettle time.Duration
	// SleepNotice is the delay before the first deep sleep. It is shortened
	// to SleepNoticeTest when FlagDeepSleepTest is set.
	SleepNotice     time.Duration
	SleepNoticeTest time.Duration
	// Flags are the initial operating flags.
	Flags Flags
	// ConsoleAttached reports whether an operator is connected; deep sleep
	// is then avoided. Nil means never.
	ConsoleAttached func() bool

	// Clock defaults to timer.System.
	Clock timer.Clock
	// Sleeper defaults to sleeping on Clock.
	Sleeper Sleeper
	// Peripherals are quiesced in order before a deep sleep, after the
	// sensor is shut down, and restored in reverse order.
	Peripherals []Peripheral
	// Indicator, Battery and BootCounter are optional.
	Indicator   Indicator
	Battery     Battery
	BootCounter BootCounter
	// Log defaults to the logrus standard logger.
	Log logrus.FieldLogger
	// Metrics is optional.
	Metrics *Metrics
	// OnEnter is called on every state transition, from the loop's
	// goroutine.
	OnEnter func(from, to State)
}

// DefaultOpts holds the default configuration of a Loop.
var DefaultOpts = Opts{
	TxCycle:         6 * time.Minute,
	WakeSettle:      20 * time.Millisecond,
	SleepNotice:     30 * time.Second,
	SleepNoticeTest: 10 * time.Second,
}

const (
	reqActivate uint32 = 1 << iota
	reqDeactivate
	reqEnd
)

const (
	txNone uint32 = iota
	txOK
	txFailed
)

// Loop sequences sensor polling, power management and uplinks.
//
// All state is owned by the goroutine calling Eval or Run. RequestActive and
// End may be called from any goroutine; use Exec to run other code on the
// loop's goroutine.
type Loop struct {
	sensor  Sensor
	sender  uplink.Sender
	opts    Opts
	clock   timer.Clock
	log     logrus.FieldLogger
	metrics *Metrics
	fsm     *fsm

	req    atomic.Uint32
	tx     atomic.Uint32
	signal chan struct{}
	exec   chan func()
	done   chan struct{}

	flags       Flags
	active      bool
	sensorUp    bool
	valid       bool
	stateTimer  *timer.Timer
	uplinkTimer *timer.Timer
	notice      *timer.Timer
	noticed     bool

	txCycle          time.Duration
	txCyclePermanent time.Duration
	txCycleCount     uint
}

// New returns a Loop in Initial. Nothing runs until Eval or Run is called.
func New(sensor Sensor, sender uplink.Sender, opts *Opts) *Loop {
	if opts == nil {
		opts = &DefaultOpts
	}
	o := *opts
	if o.TxCycle <= 0 {
		o.TxCycle = DefaultOpts.TxCycle
	}
	if o.WakeSettle <= 0 {
		o.WakeSettle = DefaultOpts.WakeSettle
	}
	if o.SleepNotice <= 0 {
		o.SleepNotice = DefaultOpts.SleepNotice
	}
	if o.SleepNoticeTest <= 0 {
		o.SleepNoticeTest = DefaultOpts.SleepNoticeTest
	}
	if o.Clock == nil {
		o.Clock = timer.System
	}
	if o.Sleeper == nil {
		o.Sleeper = clockSleeper{o.Clock}
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	l := &Loop{
		sensor:           sensor,
		sender:           sender,
		opts:             o,
		clock:            o.Clock,
		log:              o.Log,
		metrics:          o.Metrics,
		signal:           make(chan struct{}, 1),
		exec:             make(chan func()),
		done:             make(chan struct{}),
		flags:            o.Flags,
		stateTimer:       timer.New(o.Clock),
		uplinkTimer:      timer.New(o.Clock),
		notice:           timer.New(o.Clock),
		txCycle:          o.TxCycle,
		txCyclePermanent: o.TxCycle,
	}
	l.fsm = newFSM(l.dispatch, l.entered)
	return l
}

// RequestActive asks the loop to start (true) or stop (false) measuring.
// The request is consumed by the next transition that can honor it.
func (l *Loop) RequestActive(enable bool) {
	if enable {
		l.req.Or(reqActivate)
	} else {
		l.req.Or(reqDeactivate)
	}
	l.wake()
}

// End asks the loop to stop for good. A transmission in flight completes
// first.
func (l *Loop) End() {
	l.req.Or(reqEnd)
	l.wake()
}

// Eval runs the state machine until it settles.
func (l *Loop) Eval() {
	l.fsm.eval()
}

// State returns the current state. Only call it from the loop's goroutine.
func (l *Loop) State() State {
	return l.fsm.state
}

// Active reports whether the loop was activated. Only call it from the
// loop's goroutine.
func (l *Loop) Active() bool {
	return l.active
}

// Flags returns the operating flags. Only call it from the loop's goroutine.
func (l *Loop) Flags() Flags {
	return l.flags
}

// SetFlags replaces the operating flags. Only call it from the loop's
// goroutine.
func (l *Loop) SetFlags(f Flags) {
	l.flags = f
}

// TxCycle returns the current time between uplinks and the number of
// uplinks left before it reverts to the permanent setting, 0 if it is
// permanent.
func (l *Loop) TxCycle() (time.Duration, uint) {
	return l.txCycle, l.txCycleCount
}

// SetTxCycle sets the time between uplinks. With count 0 the setting is
// permanent, otherwise it reverts to the permanent setting after count
// uplinks. The new cycle applies from the next uplink. Only call it from the
// loop's goroutine.
func (l *Loop) SetTxCycle(d time.Duration, count uint) {
	if d <= 0 {
		return
	}
	l.txCycle = d
	l.txCycleCount = count
	if count == 0 {
		l.txCyclePermanent = d
	}
}

// updateTxCycle counts down a temporary tx cycle after an uplink.
func (l *Loop) updateTxCycle() {
	switch {
	case l.txCycleCount > 1:
		l.txCycleCount--
	case l.txCycleCount == 1:
		l.log.Infof("resetting tx cycle to %s", l.txCyclePermanent)
		l.SetTxCycle(l.txCyclePermanent, 0)
	}
}

func (l *Loop) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// takeRequests clears the activation and deactivation requests together and
// returns what was pending.
func (l *Loop) takeRequests() uint32 {
	return l.req.And(^(reqActivate | reqDeactivate)) & (reqActivate | reqDeactivate)
}

func (l *Loop) entered(from, to State) {
	l.log.Debugf("enter %s", to)
	l.metrics.state(to)
	if l.opts.OnEnter != nil {
		l.opts.OnEnter(from, to)
	}
}

func (l *Loop) indicate(p Pattern) {
	if l.opts.Indicator != nil {
		l.opts.Indicator.Indicate(p)
	}
}

func (l *Loop) dispatch(s State, entry bool) State {
	if s != Final && s != Transmit && l.req.Load()&reqEnd != 0 {
		return Final
	}
	switch s {
	case Initial:
		return Inactive

	case Inactive:
		if entry {
			l.indicate(PatternOff)
		}
		if l.req.Load()&reqActivate != 0 {
			l.takeRequests()
			l.active = true
			l.uplinkTimer.Arm(l.txCycle)
			return Wake
		}

	case Sleeping:
		if entry {
			l.indicate(PatternSleeping)
		}
		if l.req.Load()&reqDeactivate != 0 {
			l.takeRequests()
			l.active = false
			l.uplinkTimer.Stop()
			return Inactive
		}
		if l.uplinkTimer.IsExpired() {
			l.uplinkTimer.Arm(l.txCycle)
			return Wake
		}
		if l.uplinkTimer.Remaining() > minSleep {
			l.sleep()
		}

	case Wake:
		if entry {
			// The sensor is first initialized here, and again after any
			// failed initialization.
			if !l.sensorUp {
				l.retrySensor()
			}
			l.stateTimer.Arm(l.opts.WakeSettle)
		}
		if l.stateTimer.IsExpired() {
			l.stateTimer.Stop()
			return Measure
		}

	case Measure:
		if entry {
			l.valid = false
			l.indicate(PatternMeasuring)
		}
		return l.measure()

	case SleepSensor:
		return Transmit

	case Transmit:
		if entry {
			l.startTransmission()
		}
		if ok, finished := l.takeTxResult(); finished {
			l.metrics.uplink(ok)
			if !ok {
				l.log.Warn("uplink failed")
			}
			l.updateTxCycle()
			return Sleeping
		}

	case Final:
		if entry {
			l.stateTimer.Stop()
			l.uplinkTimer.Stop()
			l.notice.Stop()
			l.sensor.Shutdown()
			l.indicate(PatternOff)
			l.log.Info("measurement loop ended")
		}
	}
	return noChange
}

// measure polls the sensor once. Both a completed read and a hard error end
// the measurement; retrying waits for the next cycle.
func (l *Loop) measure() State {
	ready, err := l.sensor.QueryReady()
	if err != nil {
		l.sensorError("query ready", err)
		return SleepSensor
	}
	if !ready {
		return noChange
	}
	if err := l.sensor.ReadMeasurement(); err != nil {
		l.sensorError("read measurement", err)
		return SleepSensor
	}
	l.valid = true
	m := l.sensor.Measurement()
	l.log.WithFields(logrus.Fields{
		"co2":         m.CO2,
		"temperature": m.Temperature,
		"humidity":    m.RelativeHumidity,
	}).Info("measurement")
	l.metrics.measurement(m)
	return SleepSensor
}

func (l *Loop) sensorError(op string, err error) {
	var code scd30.Error
	if !errors.As(err, &code) {
		code = l.sensor.LastError()
	}
	l.metrics.sensorError(code)
	if code.Loggable() {
		l.log.WithError(err).WithField("code", code.String()).Errorf("sensor %s failed", op)
	}
}

// startTransmission encodes and submits the record. A rejected submission
// completes the transmission as failed.
func (l *Loop) startTransmission() {
	l.indicate(PatternSending)
	l.tx.Store(txNone)
	b := uplink.Encode(l.fields())
	confirmed := l.flags&FlagConfirmedUplink != 0
	if err := l.sender.Send(b, confirmed, uplink.Port, l.sendDone); err != nil {
		l.log.WithError(err).Warn("uplink rejected")
		l.tx.Store(txFailed)
	}
}

// sendDone is the Sender completion; it may run on any goroutine.
func (l *Loop) sendDone(ok bool) {
	if ok {
		l.tx.Store(txOK)
	} else {
		l.tx.Store(txFailed)
	}
	l.wake()
}

func (l *Loop) takeTxResult() (ok, finished bool) {
	switch l.tx.Swap(txNone) {
	case txOK:
		return true, true
	case txFailed:
		return false, true
	}
	return false, false
}

func (l *Loop) fields() *uplink.Fields {
	f := &uplink.Fields{}
	if b := l.opts.Battery; b != nil {
		if v, err := b.Voltage(); err == nil {
			f.Battery, f.HasBattery = v, true
		} else {
			l.log.WithError(err).Warn("reading battery")
		}
	}
	if c := l.opts.BootCounter; c != nil {
		if n, err := c.BootCount(); err == nil {
			f.BootCount, f.HasBootCount = n, true
		}
	}
	if l.sensorUp && l.valid {
		f.Measurement, f.HasMeasurement = l.sensor.Measurement(), true
	}
	return f
}
