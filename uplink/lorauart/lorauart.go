// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package lorauart sends uplink records through a LoRa modem driven with AT
// commands over a UART, such as the REYAX RYLR896.
//
// A record is hex encoded with the application port as its first byte and
// sent with AT+SEND to the gateway address. The modem answers +OK once the
// frame is on the air, or +ERR=<code>.
package lorauart

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// MaxPayload is the largest record accepted by Send. The modem takes at most
// 240 characters of data; the port byte and the hex encoding use the rest.
const MaxPayload = 240/2 - 1

const (
	// commandGap is the pause the modem needs after a response before it
	// accepts the next command.
	commandGap = 4 * time.Millisecond
)

// ErrBusy is returned by Send while a previous record is still in flight.
var ErrBusy = errors.New("lorauart: send in progress")

// ErrClosed is returned once Close was called.
var ErrClosed = errors.New("lorauart: closed")

// ModemError is a +ERR=<code> response.
type ModemError int

// Result codes reported by the modem.
const (
	ErrNoEnter       ModemError = 1  // missing "\r\n" after command
	ErrNoAT          ModemError = 2  // head of command is not AT
	ErrNoEqual       ModemError = 3  // missing "=" in AT command
	ErrUnknownCmd    ModemError = 4  // unknown command
	ErrTxOverTime    ModemError = 10 // transmit over time
	ErrRxOverTime    ModemError = 11 // receive over time
	ErrCRC           ModemError = 12 // CRC error
	ErrTxOverRun     ModemError = 13 // more than 240 bytes
	ErrUnknownFailed ModemError = 15 // unknown error
)

var modemErrorNames = map[ModemError]string{
	ErrNoEnter:       "no enter",
	ErrNoAT:          "no AT",
	ErrNoEqual:       "no equal sign",
	ErrUnknownCmd:    "unknown command",
	ErrTxOverTime:    "transmit over time",
	ErrRxOverTime:    "receive over time",
	ErrCRC:           "crc error",
	ErrTxOverRun:     "transmit over run",
	ErrUnknownFailed: "unknown error",
}

func (e ModemError) Error() string {
	if s, ok := modemErrorNames[e]; ok {
		return fmt.Sprintf("lorauart: +ERR=%d (%s)", int(e), s)
	}
	return fmt.Sprintf("lorauart: +ERR=%d", int(e))
}

// Opts holds the modem configuration. Zero fields are left at the modem's
// stored setting.
type Opts struct {
	// Gateway is the destination address of AT+SEND.
	Gateway uint16
	// Address is this node's address.
	Address uint16
	// NetworkID must match the gateway's, 0 to 16.
	NetworkID uint8
	// Band is the center frequency in Hz.
	Band uint32
	// BaudRate of the UART. Zero selects 115200.
	BaudRate int
	// Timeout bounds the wait for a response. Zero selects 10 seconds.
	Timeout time.Duration
	// Log receives diagnostics. Nil selects the logrus standard logger.
	Log logrus.FieldLogger
}

// DefaultOpts sends to address 0 with the modem's stored settings.
var DefaultOpts = Opts{BaudRate: 115200, Timeout: 10 * time.Second}

type request struct {
	text  string
	reply func(err error)
}

// Dev is a modem. It implements uplink.Sender.
type Dev struct {
	port    io.ReadWriteCloser
	opts    Opts
	log     logrus.FieldLogger
	cmds    chan request
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	busy    atomic.Bool
	closed  atomic.Bool
}

// Open opens the serial port by name and configures the modem.
func Open(name string, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	baud := opts.BaudRate
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("lorauart: %w", err)
	}
	return New(port, opts)
}

// New starts talking to a modem over an already open port and applies opts.
// On error the port is closed.
func New(port io.ReadWriteCloser, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Dev{
		port:    port,
		opts:    *opts,
		log:     opts.Log,
		cmds:    make(chan request),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	if d.opts.Timeout == 0 {
		d.opts.Timeout = 10 * time.Second
	}
	if d.log == nil {
		d.log = logrus.StandardLogger()
	}
	d.log = d.log.WithField("dev", "lorauart")
	go d.run()

	var setup []string
	if opts.Address != 0 {
		setup = append(setup, fmt.Sprintf("AT+ADDRESS=%d", opts.Address))
	}
	if opts.NetworkID != 0 {
		setup = append(setup, fmt.Sprintf("AT+NETWORKID=%d", opts.NetworkID))
	}
	if opts.Band != 0 {
		setup = append(setup, fmt.Sprintf("AT+BAND=%d", opts.Band))
	}
	for _, cmd := range setup {
		if err := d.command(cmd); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("lorauart: %s: %w", cmd, err)
		}
	}
	return d, nil
}

// Send implements uplink.Sender. The modem has no acknowledged mode, so
// confirmed only changes the log level of failures.
func (d *Dev) Send(payload []byte, confirmed bool, port uint8, done func(ok bool)) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("lorauart: payload of %d bytes exceeds %d", len(payload), MaxPayload)
	}
	if d.closed.Load() {
		return ErrClosed
	}
	if !d.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	data := hex.EncodeToString(append([]byte{port}, payload...))
	req := request{
		text: fmt.Sprintf("AT+SEND=%d,%d,%s", d.opts.Gateway, len(data), data),
		reply: func(err error) {
			d.busy.Store(false)
			if err != nil {
				if confirmed {
					d.log.WithError(err).Warn("confirmed uplink failed")
				} else {
					d.log.WithError(err).Info("uplink failed")
				}
			}
			done(err == nil)
		},
	}
	select {
	case d.cmds <- req:
		return nil
	case <-d.stopped:
		d.busy.Store(false)
		return ErrClosed
	}
}

// Close stops the reader and closes the port. A send in flight completes
// with a failure.
func (d *Dev) Close() error {
	var err error
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.quit)
		err = d.port.Close()
		<-d.stopped
	})
	return err
}

// command sends cmd and waits for its response.
func (d *Dev) command(cmd string) error {
	res := make(chan error, 1)
	select {
	case d.cmds <- request{text: cmd, reply: func(err error) { res <- err }}:
	case <-d.stopped:
		return ErrClosed
	}
	return <-res
}

// run owns the port: it writes one command at a time and matches each
// response line to the command in progress.
func (d *Dev) run() {
	defer close(d.stopped)
	lines := make(chan string, 10)
	readErr := make(chan error, 1)
	go func() {
		r := bufio.NewReader(d.port)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- strings.TrimRight(line, "\r\n"):
			case <-d.quit:
				return
			}
		}
	}()

	var current *request
	var timeout <-chan time.Time
	finish := func(err error) {
		if current != nil {
			current.reply(err)
			current = nil
			timeout = nil
		}
	}
	defer func() { finish(ErrClosed) }()

	for {
		// Only accept a new command once the previous one is answered.
		cmds := d.cmds
		if current != nil {
			cmds = nil
		}
		select {
		case req := <-cmds:
			d.log.Debugf("TX: %q", req.text)
			if _, err := io.WriteString(d.port, req.text+"\r\n"); err != nil {
				req.reply(fmt.Errorf("lorauart: write: %w", err))
				continue
			}
			current = &req
			timeout = time.After(d.opts.Timeout)

		case line := <-lines:
			d.log.Debugf("RX: %q", line)
			if current == nil {
				d.unsolicited(line)
				continue
			}
			finish(parseResponse(line))
			time.Sleep(commandGap)

		case <-timeout:
			finish(fmt.Errorf("lorauart: no response after %s", d.opts.Timeout))

		case err := <-readErr:
			if !d.closed.Load() {
				d.log.WithError(err).Error("serial read failed")
			}
			return

		case <-d.quit:
			return
		}
	}
}

// parseResponse returns nil for +OK and data responses, a ModemError for
// +ERR=<code>.
func parseResponse(line string) error {
	if s, ok := strings.CutPrefix(line, "+ERR="); ok {
		if code, err := strconv.Atoi(s); err == nil {
			return ModemError(code)
		}
		return fmt.Errorf("lorauart: malformed response %q", line)
	}
	return nil
}

func (d *Dev) unsolicited(line string) {
	switch {
	case strings.HasPrefix(line, "+RCV="):
		d.log.WithField("frame", strings.TrimPrefix(line, "+RCV=")).Debug("ignoring received frame")
	case strings.HasPrefix(line, "+ERR="):
		d.log.WithError(parseResponse(line)).Warn("unsolicited modem error")
	case line == "":
	default:
		d.log.Debugf("ignoring %q", line)
	}
}
