// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"periph.io/x/conn/v3/physic"

	"github.com/GermanBionicSystems/scd30node/loop"
	"github.com/GermanBionicSystems/scd30node/scd30"
)

type fakeLoop struct {
	inExec  bool
	execs   int
	stopped bool
	active  []bool
	flags   loop.Flags
	cycle   time.Duration
	count   uint
}

func (f *fakeLoop) Exec(ctx context.Context, fn func()) error {
	if f.stopped {
		return loop.ErrStopped
	}
	f.execs++
	f.inExec = true
	fn()
	f.inExec = false
	return nil
}

func (f *fakeLoop) RequestActive(enable bool) { f.active = append(f.active, enable) }
func (f *fakeLoop) State() loop.State { return loop.Sleeping }
func (f *fakeLoop) Active() bool { return true }
func (f *fakeLoop) Flags() loop.Flags { return f.flags }
func (f *fakeLoop) SetFlags(v loop.Flags) { f.flags = v }

func (f *fakeLoop) TxCycle() (time.Duration, uint) { return f.cycle, f.count }

func (f *fakeLoop) SetTxCycle(d time.Duration, count uint) {
	f.cycle = d
	f.count = count
}

type fakeSensor struct {
	l      *fakeLoop
	t      *testing.T
	cfg    scd30.Config
	setErr error
}

func (f *fakeSensor) check() {
	if !f.l.inExec {
		f.t.Error("sensor called outside of Exec")
	}
}

func (f *fakeSensor) State() scd30.State {
	f.check()
	return scd30.Ready
}

func (f *fakeSensor) LastError() scd30.Error {
	f.check()
	return scd30.Success
}

func (f *fakeSensor) Config() scd30.Config {
	f.check()
	return f.cfg
}

func (f *fakeSensor) Measurement() scd30.Measurement {
	f.check()
	return scd30.Measurement{CO2: 439.5, Temperature: 27.25, RelativeHumidity: 48.75}
}

func (f *fakeSensor) SetMeasurementInterval(d time.Duration) error {
	f.check()
	if f.setErr != nil {
		return f.setErr
	}
	f.cfg.MeasurementInterval = d
	return nil
}

func newConsole(t *testing.T) (*Console, *fakeLoop, *fakeSensor, *bytes.Buffer) {
	l := &fakeLoop{cycle: 6 * time.Minute}
	s := &fakeSensor{l: l, t: t, cfg: scd30.Config{
		FirmwareVersion:      0x0342,
		MeasurementInterval:  2 * time.Second,
		ASCEnabled:           true,
		ForcedRecalibration:  400,
		TemperatureOffset:    1500 * physic.MilliKelvin,
		AltitudeCompensation: 440 * physic.Metre,
	}}
	var out bytes.Buffer
	logger, _ := test.NewNullLogger()
	return New(l, s, &out, logger), l, s, &out
}

func TestInterval(t *testing.T) {
	c, _, s, out := newConsole(t)
	ctx := context.Background()
	if err := c.Execute(ctx, "interval"); err != nil {
		t.Fatal(err)
	}
	if err := c.Execute(ctx, "interval 30"); err != nil {
		t.Fatal(err)
	}
	if s.cfg.MeasurementInterval != 30*time.Second {
		t.Errorf("interval=%s", s.cfg.MeasurementInterval)
	}
	if diff := cmp.Diff("interval: 2\ninterval: 30\n", out.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestIntervalInvalid(t *testing.T) {
	c, l, s, _ := newConsole(t)
	for _, line := range []string{"interval 1", "interval 65536", "interval x", "interval 2 3", "interval -5"} {
		if err := c.Execute(context.Background(), line); !errors.Is(err, ErrUsage) {
			t.Errorf("%q: %v", line, err)
		}
	}
	if l.execs != 0 {
		t.Errorf("%d calls to the loop", l.execs)
	}

	// The parser accepts what the sensor refuses.
	s.setErr = scd30.ErrInvalidParameter
	if err := c.Execute(context.Background(), "interval 3600"); !errors.Is(err, scd30.ErrInvalidParameter) {
		t.Errorf("interval 3600: %v", err)
	}
	if s.cfg.MeasurementInterval != 2*time.Second {
		t.Errorf("interval=%s", s.cfg.MeasurementInterval)
	}
}

func TestRunStop(t *testing.T) {
	c, l, _, _ := newConsole(t)
	for _, line := range []string{"run", "stop", "  run  "} {
		if err := c.Execute(context.Background(), line); err != nil {
			t.Fatal(err)
		}
	}
	if diff := cmp.Diff([]bool{true, false, true}, l.active); diff != "" {
		t.Errorf("requests (-want +got):\n%s", diff)
	}
	if err := c.Execute(context.Background(), "run now"); !errors.Is(err, ErrUsage) {
		t.Errorf("run now: %v", err)
	}
}

func TestInfo(t *testing.T) {
	c, l, _, out := newConsole(t)
	l.flags = loop.FlagUnattended
	l.count = 3
	if err := c.Execute(context.Background(), "info"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"loop: Sleeping active=true",
		"txcycle=6m0s (3 left)",
		"scd30: Ready last error=Success",
		"firmware 3.66 interval 2s",
		"CO2: 439.50 PPM",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestTxCycleAndFlags(t *testing.T) {
	c, l, _, out := newConsole(t)
	ctx := context.Background()
	for _, line := range []string{"txcycle", "txcycle 60 5", "txcycle 120", "flags 0x8", "flags"} {
		if err := c.Execute(ctx, line); err != nil {
			t.Fatalf("%q: %v", line, err)
		}
	}
	want := "txcycle: 360\ntxcycle: 60 (5 left)\ntxcycle: 120\nflags: 0x8\nflags: 0x8\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
	if l.flags != loop.Flags(8) {
		t.Errorf("flags=%#x", l.flags)
	}
	for _, line := range []string{"txcycle 0", "txcycle 1 2 3", "flags 1 2", "flags z"} {
		if err := c.Execute(ctx, line); !errors.Is(err, ErrUsage) {
			t.Errorf("%q: %v", line, err)
		}
	}
}

func TestUnknownAndQuoting(t *testing.T) {
	c, _, _, out := newConsole(t)
	ctx := context.Background()
	if err := c.Execute(ctx, "reboot"); !errors.Is(err, ErrUnknown) {
		t.Errorf("reboot: %v", err)
	}
	if err := c.Execute(ctx, "interval \"10\""); err != nil {
		t.Errorf("quoted argument: %v", err)
	}
	if err := c.Execute(ctx, "interval \"10"); !errors.Is(err, ErrUsage) {
		t.Errorf("unterminated quote: %v", err)
	}
	if err := c.Execute(ctx, "   "); err != nil {
		t.Errorf("empty line: %v", err)
	}
	out.Reset()
	if err := c.Execute(ctx, "help"); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "flags [value]\ninfo \n") {
		t.Errorf("help:\n%s", out)
	}
}

func TestServe(t *testing.T) {
	c, l, _, out := newConsole(t)
	in := strings.NewReader("run\nbogus\n\ninterval 5\n")
	if err := c.Serve(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if len(l.active) != 1 {
		t.Errorf("requests=%v", l.active)
	}
	if !strings.Contains(out.String(), "error: console: unknown command \"bogus\"\n") {
		t.Errorf("output:\n%s", out)
	}
	if !strings.HasSuffix(out.String(), "interval: 5\n") {
		t.Errorf("output:\n%s", out)
	}
}

func TestServeStopped(t *testing.T) {
	c, l, _, _ := newConsole(t)
	l.stopped = true
	in := strings.NewReader("info\nrun\n")
	if err := c.Serve(context.Background(), in); !errors.Is(err, loop.ErrStopped) {
		t.Errorf("Serve()=%v", err)
	}
	if len(l.active) != 0 {
		t.Error("commands ran after the loop stopped")
	}
}
