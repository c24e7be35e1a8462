// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/GermanBionicSystems/scd30node/scd30"
)

// asyncSender completes every send from another goroutine and reports the
// payloads on a channel.
type asyncSender struct {
	sent chan []byte
}

func (s *asyncSender) Send(b []byte, confirmed bool, port uint8, done func(bool)) error {
	go func() {
		time.Sleep(time.Millisecond)
		done(true)
		s.sent <- b
	}()
	return nil
}

func startRun(t *testing.T, ctx context.Context) (*Loop, *asyncSender, chan error) {
	t.Helper()
	sender := &asyncSender{sent: make(chan []byte, 16)}
	logger, _ := test.NewNullLogger()
	sensor := &fakeSensor{ev: &events{}, m: scd30.Measurement{CO2: 500, Temperature: 20, RelativeHumidity: 30}}
	l := New(sensor, sender, &Opts{
		TxCycle:    100 * time.Millisecond,
		WakeSettle: time.Millisecond,
		Log:        logger,
	})
	res := make(chan error, 1)
	go func() { res <- l.Run(ctx) }()
	return l, sender, res
}

func waitSent(t *testing.T, s *asyncSender) {
	t.Helper()
	select {
	case <-s.sent:
	case <-time.After(10 * time.Second):
		t.Fatal("no uplink")
	}
}

func TestRun(t *testing.T) {
	l, sender, res := startRun(t, context.Background())
	l.RequestActive(true)
	waitSent(t, sender)
	waitSent(t, sender)

	var cycle time.Duration
	if err := l.Exec(context.Background(), func() { cycle, _ = l.TxCycle() }); err != nil {
		t.Fatal(err)
	}
	if cycle != 100*time.Millisecond {
		t.Errorf("TxCycle()=%s", cycle)
	}

	l.End()
	select {
	case err := <-res:
		if err != nil {
			t.Errorf("Run()=%v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after End")
	}
	if err := l.Exec(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Exec() after Run=%v", err)
	}
}

func TestRunCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l, _, res := startRun(t, ctx)
	ran := false
	if err := l.Exec(ctx, func() { ran = l.State() == Inactive }); err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("Exec did not run on an evaluated loop")
	}
	cancel()
	select {
	case err := <-res:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run()=%v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestExecCanceled(t *testing.T) {
	l := New(&fakeSensor{ev: &events{}}, &asyncSender{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Exec(ctx, func() { t.Error("ran without Run") }); !errors.Is(err, context.Canceled) {
		t.Errorf("Exec()=%v", err)
	}
}
