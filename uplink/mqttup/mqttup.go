// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mqttup publishes uplink records to an MQTT broker, for bench setups
// and gateways that forward radio frames to MQTT.
//
// A record sent on port p is published to "<Topic>/<p>". Confirmed records
// use QoS 1, the others QoS 0.
package mqttup

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Send while the broker connection is down.
var ErrNotConnected = errors.New("mqttup: not connected")

// ErrBusy is returned by Send while a previous record is still in flight.
var ErrBusy = errors.New("mqttup: send in progress")

// Publisher is the part of mqtt.Client used to send records.
type Publisher interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Opts holds the publishing options.
type Opts struct {
	// Topic is the prefix of the topic records are published to.
	Topic string
	// Timeout bounds the wait for the broker. Zero selects 10 seconds.
	Timeout time.Duration
	// Log receives diagnostics. Nil selects the logrus standard logger.
	Log logrus.FieldLogger
}

// DefaultOpts publishes under "scd30node/up".
var DefaultOpts = Opts{Topic: "scd30node/up", Timeout: 10 * time.Second}

// Sender implements uplink.Sender over MQTT.
type Sender struct {
	c       Publisher
	topic   string
	timeout time.Duration
	log     logrus.FieldLogger
	busy    atomic.Bool
}

// New returns a Sender publishing through c.
func New(c Publisher, opts *Opts) *Sender {
	if opts == nil {
		opts = &DefaultOpts
	}
	s := &Sender{c: c, topic: opts.Topic, timeout: opts.Timeout, log: opts.Log}
	if s.topic == "" {
		s.topic = DefaultOpts.Topic
	}
	if s.timeout == 0 {
		s.timeout = 10 * time.Second
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("dev", "mqttup")
	return s
}

// Send implements uplink.Sender.
func (s *Sender) Send(payload []byte, confirmed bool, port uint8, done func(ok bool)) error {
	if !s.c.IsConnectionOpen() {
		return ErrNotConnected
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	var qos byte
	if confirmed {
		qos = 1
	}
	topic := fmt.Sprintf("%s/%d", s.topic, port)
	buf := append([]byte(nil), payload...)
	tok := s.c.Publish(topic, qos, false, buf)
	go func() {
		ok := tok.WaitTimeout(s.timeout)
		err := tok.Error()
		switch {
		case !ok:
			s.log.WithField("topic", topic).Warnf("no broker response after %s", s.timeout)
		case err != nil:
			s.log.WithField("topic", topic).WithError(err).Warn("publish failed")
		}
		s.busy.Store(false)
		done(ok && err == nil)
	}()
	return nil
}

// Dial connects to broker, e.g. "tcp://localhost:1883", and waits for the
// connection to be up.
func Dial(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	o := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	c := mqtt.NewClient(o)
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqttup: connecting to %s: timeout", broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqttup: connecting to %s: %w", broker, err)
	}
	return c, nil
}
