// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package console implements the node's line console.
//
// Commands:
//
//	info                  loop and sensor status
//	interval [seconds]    show or set the sensor measurement interval
//	run                   start measuring
//	stop                  stop measuring
//	txcycle [s [count]]   show or set the time between uplinks
//	flags [value]         show or set the loop flags
//	help                  list the commands
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/GermanBionicSystems/scd30node/loop"
	"github.com/GermanBionicSystems/scd30node/scd30"
)

// Loop is the part of *loop.Loop the console drives. Everything but Exec
// and RequestActive is only called from inside Exec.
type Loop interface {
	Exec(ctx context.Context, f func()) error
	RequestActive(enable bool)
	State() loop.State
	Active() bool
	Flags() loop.Flags
	SetFlags(f loop.Flags)
	TxCycle() (time.Duration, uint)
	SetTxCycle(d time.Duration, count uint)
}

// Sensor is the part of *scd30.Dev the console reads and configures. It is
// only called from inside Loop.Exec.
type Sensor interface {
	State() scd30.State
	LastError() scd30.Error
	Config() scd30.Config
	Measurement() scd30.Measurement
	SetMeasurementInterval(interval time.Duration) error
}

// Errors returned to the console user.
var (
	ErrUsage   = errors.New("console: invalid arguments")
	ErrUnknown = errors.New("console: unknown command")
)

// Parser limits on the interval argument. The sensor enforces its own
// narrower range.
const (
	minInterval = 2
	maxInterval = 65535
)

// Console reads commands line by line and writes the results.
type Console struct {
	l   Loop
	s   Sensor
	out io.Writer
	log logrus.FieldLogger
}

// New returns a console controlling l and s that writes to out.
func New(l Loop, s Sensor, out io.Writer, log logrus.FieldLogger) *Console {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Console{l: l, s: s, out: out, log: log}
}

type command struct {
	usage string
	run   func(c *Console, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"info":     {"", (*Console).info},
	"interval": {"[seconds]", (*Console).interval},
	"run":      {"", (*Console).run},
	"stop":     {"", (*Console).stop},
	"txcycle":  {"[seconds [count]]", (*Console).txCycle},
	"flags":    {"[value]", (*Console).flags},
}

// Serve runs the commands read from r until r is exhausted or ctx is
// canceled. A failed command is reported on the output and does not stop
// the console.
func (c *Console) Serve(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		s := bufio.NewScanner(r)
		for s.Scan() {
			select {
			case lines <- s.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- s.Err()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, loop.ErrStopped) {
					return err
				}
				fmt.Fprintf(c.out, "error: %v\n", err)
				c.log.WithError(err).WithField("line", line).Debug("console")
			}
		}
	}
}

// Execute runs one command line. Empty lines are ignored.
func (c *Console) Execute(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if len(args) == 0 {
		return nil
	}
	if args[0] == "help" {
		c.help()
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknown, args[0])
	}
	return cmd.run(c, ctx, args[1:])
}

func (c *Console) help() {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(c.out, "%s %s\n", n, commands[n].usage)
	}
}

func (c *Console) info(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	return c.l.Exec(ctx, func() {
		cycle, count := c.l.TxCycle()
		cfg := c.s.Config()
		fmt.Fprintf(c.out, "loop: %s active=%t flags=%#x txcycle=%s", c.l.State(), c.l.Active(), uint32(c.l.Flags()), cycle)
		if count != 0 {
			fmt.Fprintf(c.out, " (%d left)", count)
		}
		fmt.Fprintf(c.out, "\nscd30: %s last error=%s\n", c.s.State(), c.s.LastError().String())
		fmt.Fprintf(c.out, "config: %s\n", &cfg)
		fmt.Fprintf(c.out, "measurement: %s\n", c.s.Measurement())
	})
}

func (c *Console) interval(ctx context.Context, args []string) error {
	switch len(args) {
	case 0:
		return c.l.Exec(ctx, func() {
			fmt.Fprintf(c.out, "interval: %d\n", c.s.Config().MeasurementInterval/time.Second)
		})
	case 1:
		v, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil || v < minInterval || v > maxInterval {
			return fmt.Errorf("%w: interval must be %d to %d seconds", ErrUsage, minInterval, maxInterval)
		}
		var serr error
		if err := c.l.Exec(ctx, func() {
			serr = c.s.SetMeasurementInterval(time.Duration(v) * time.Second)
		}); err != nil {
			return err
		}
		if serr != nil {
			return serr
		}
		c.log.WithField("interval", v).Info("measurement interval set")
		fmt.Fprintf(c.out, "interval: %d\n", v)
		return nil
	default:
		return ErrUsage
	}
}

func (c *Console) run(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	c.l.RequestActive(true)
	return nil
}

func (c *Console) stop(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	c.l.RequestActive(false)
	return nil
}

func (c *Console) txCycle(ctx context.Context, args []string) error {
	if len(args) > 2 {
		return ErrUsage
	}
	var d time.Duration
	var count uint64
	if len(args) > 0 {
		s, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil || s == 0 {
			return fmt.Errorf("%w: tx cycle must be a positive number of seconds", ErrUsage)
		}
		d = time.Duration(s) * time.Second
	}
	if len(args) > 1 {
		var err error
		if count, err = strconv.ParseUint(args[1], 0, 32); err != nil {
			return fmt.Errorf("%w: count: %v", ErrUsage, err)
		}
	}
	return c.l.Exec(ctx, func() {
		if d != 0 {
			c.l.SetTxCycle(d, uint(count))
		}
		cycle, left := c.l.TxCycle()
		fmt.Fprintf(c.out, "txcycle: %d", cycle/time.Second)
		if left != 0 {
			fmt.Fprintf(c.out, " (%d left)", left)
		}
		fmt.Fprintln(c.out)
	})
}

func (c *Console) flags(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return ErrUsage
	}
	var f uint64
	if len(args) == 1 {
		var err error
		if f, err = strconv.ParseUint(args[0], 0, 32); err != nil {
			return fmt.Errorf("%w: flags: %v", ErrUsage, err)
		}
	}
	return c.l.Exec(ctx, func() {
		if len(args) == 1 {
			c.l.SetFlags(loop.Flags(f))
		}
		fmt.Fprintf(c.out, "flags: %#x\n", uint32(c.l.Flags()))
	})
}
