// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lorauart

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/GermanBionicSystems/scd30node/uplink"
)

var _ uplink.Sender = (*Dev)(nil)

// fakeModem answers each command line with the reply chosen by answer. An
// empty answer leaves the command unanswered.
type fakeModem struct {
	answer func(cmd string) string

	mu      sync.Mutex
	written []string
	r       *io.PipeReader
	w       *io.PipeWriter
}

func newFakeModem(answer func(cmd string) string) *fakeModem {
	r, w := io.Pipe()
	return &fakeModem{answer: answer, r: r, w: w}
}

func (f *fakeModem) Read(p []byte) (int, error) {
	return f.r.Read(p)
}

func (f *fakeModem) Write(p []byte) (int, error) {
	cmd := strings.TrimSuffix(string(p), "\r\n")
	f.mu.Lock()
	f.written = append(f.written, cmd)
	f.mu.Unlock()
	if reply := f.answer(cmd); reply != "" {
		go f.w.Write([]byte(reply + "\r\n"))
	}
	return len(p), nil
}

func (f *fakeModem) Close() error {
	f.w.Close()
	return f.r.Close()
}

func (f *fakeModem) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.written...)
}

func ok(string) string { return "+OK" }

func newDev(t *testing.T, m *fakeModem, opts Opts) *Dev {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts.Log = logger
	d, err := New(m, &opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func waitDone(t *testing.T, c <-chan bool) bool {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("send never completed")
		return false
	}
}

func TestSetup(t *testing.T) {
	m := newFakeModem(ok)
	newDev(t, m, Opts{Address: 7, NetworkID: 5, Band: 868000000})
	want := []string{"AT+ADDRESS=7", "AT+NETWORKID=5", "AT+BAND=868000000"}
	if diff := cmp.Diff(want, m.commands()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSetupError(t *testing.T) {
	m := newFakeModem(func(cmd string) string {
		if strings.HasPrefix(cmd, "AT+BAND") {
			return "+ERR=4"
		}
		return "+OK"
	})
	_, err := New(m, &Opts{NetworkID: 5, Band: 1, Log: logrus.New()})
	var me ModemError
	if !errors.As(err, &me) || me != ErrUnknownCmd {
		t.Fatalf("New()=%v", err)
	}
	if !strings.Contains(err.Error(), "AT+BAND=1") {
		t.Errorf("error %q does not name the command", err)
	}
}

func TestSend(t *testing.T) {
	m := newFakeModem(ok)
	d := newDev(t, m, Opts{Gateway: 2})
	done := make(chan bool, 1)
	if err := d.Send([]byte{0x15, 0x08, 0x12, 0x52}, false, uplink.Port, func(ok bool) { done <- ok }); err != nil {
		t.Fatal(err)
	}
	if !waitDone(t, done) {
		t.Error("send reported failure")
	}
	want := []string{"AT+SEND=2,10,0115081252"}
	if diff := cmp.Diff(want, m.commands()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSendModemError(t *testing.T) {
	m := newFakeModem(func(string) string { return "+ERR=10" })
	d := newDev(t, m, Opts{})
	done := make(chan bool, 1)
	if err := d.Send([]byte{1}, true, 1, func(ok bool) { done <- ok }); err != nil {
		t.Fatal(err)
	}
	if waitDone(t, done) {
		t.Error("send reported success")
	}
	// The next send is accepted once the first completed.
	if err := d.Send([]byte{1}, false, 1, func(ok bool) { done <- ok }); err != nil {
		t.Fatal(err)
	}
	waitDone(t, done)
}

func TestSendBusy(t *testing.T) {
	release := make(chan struct{})
	m := newFakeModem(func(string) string { return "" })
	d := newDev(t, m, Opts{Timeout: time.Minute})
	done := make(chan bool, 1)
	if err := d.Send([]byte{1}, false, 1, func(ok bool) { done <- ok; close(release) }); err != nil {
		t.Fatal(err)
	}
	if err := d.Send([]byte{2}, false, 1, func(bool) { t.Error("second done called") }); !errors.Is(err, ErrBusy) {
		t.Errorf("Send()=%v, want ErrBusy", err)
	}
	// Closing fails the record in flight.
	d.Close()
	if waitDone(t, done) {
		t.Error("send reported success after Close")
	}
	<-release
	if err := d.Send([]byte{3}, false, 1, func(bool) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close=%v", err)
	}
}

func TestSendTimeout(t *testing.T) {
	m := newFakeModem(func(string) string { return "" })
	d := newDev(t, m, Opts{Timeout: 20 * time.Millisecond})
	done := make(chan bool, 1)
	if err := d.Send([]byte{1}, false, 1, func(ok bool) { done <- ok }); err != nil {
		t.Fatal(err)
	}
	if waitDone(t, done) {
		t.Error("send reported success without a response")
	}
}

func TestSendTooLong(t *testing.T) {
	d := newDev(t, newFakeModem(ok), Opts{})
	if err := d.Send(make([]byte, MaxPayload+1), false, 1, func(bool) {}); err == nil {
		t.Error("oversized payload accepted")
	}
	done := make(chan bool, 1)
	if err := d.Send(make([]byte, MaxPayload), false, 1, func(ok bool) { done <- ok }); err != nil {
		t.Fatal(err)
	}
	waitDone(t, done)
}

func TestModemError(t *testing.T) {
	if s := ErrTxOverRun.Error(); s != "lorauart: +ERR=13 (transmit over run)" {
		t.Errorf("Error()=%q", s)
	}
	if s := ModemError(99).Error(); s != "lorauart: +ERR=99" {
		t.Errorf("Error()=%q", s)
	}
	if err := parseResponse("+ERR=x"); err == nil {
		t.Error("malformed response accepted")
	}
	if err := parseResponse("+ADDRESS=7"); err != nil {
		t.Errorf("data response: %v", err)
	}
}
