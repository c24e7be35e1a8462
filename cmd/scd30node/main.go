// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// scd30node measures CO2, temperature and humidity with an SCD30 and sends
// the readings as compact uplink records over a LoRa UART modem or MQTT.
//
// Metrics are exported for Prometheus on -listen-address. When stdin is a
// terminal, a line console is available; type "help".
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/shlex"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/scd30node/board"
	"github.com/GermanBionicSystems/scd30node/console"
	"github.com/GermanBionicSystems/scd30node/loop"
	"github.com/GermanBionicSystems/scd30node/scd30"
	"github.com/GermanBionicSystems/scd30node/uplink"
	"github.com/GermanBionicSystems/scd30node/uplink/lorauart"
	"github.com/GermanBionicSystems/scd30node/uplink/mqttup"
)

// CLI args
var (
	i2cName    = flag.String("i2c", "", "I²C bus to use")
	scd30Addr  = flag.Uint("addr", uint(scd30.DefaultAddress), "SCD30 I²C address")
	withINA260 = flag.Bool("ina260", false, "read the battery voltage from an INA260 on the same bus")
	railPin    = flag.String("rail", "", "GPIO switching the sensor power rail")
	ledPin     = flag.String("led", "", "GPIO driving the activity LED")
	bootFile   = flag.String("bootcount", "", "file keeping the boot count")

	loraPort    = flag.String("lora", "", "serial port of the LoRa modem")
	loraGateway = flag.Uint("lora-gateway", 0, "LoRa gateway address")
	loraAddress = flag.Uint("lora-address", 0, "LoRa address of this node, 0 keeps the modem's")
	loraNetwork = flag.Uint("lora-network", 0, "LoRa network ID, 0 keeps the modem's")
	loraBand    = flag.Uint("lora-band", 0, "LoRa band in Hz, 0 keeps the modem's")

	mqttBroker = flag.String("mqtt", "", "MQTT broker URL, used when -lora is not set")
	mqttTopic  = flag.String("mqtt-topic", mqttup.DefaultOpts.Topic, "MQTT topic prefix")
	mqttClient = flag.String("mqtt-client", "scd30node", "MQTT client ID")

	listenAddr = flag.String("listen-address", ":8080", "The address to listen on for HTTP requests.")
	txCycle    = flag.Duration("txcycle", loop.DefaultOpts.TxCycle, "time between uplinks")
	loopFlags  = flag.Uint("flags", 0, "loop flags: 1 confirmed uplinks, 2 deep sleep test, 4 disable deep sleep, 8 unattended")
	suspendCmd = flag.String("suspend", "", "command run for a deep sleep; the duration in seconds is appended")
	autoRun    = flag.Bool("run", true, "start measuring right away")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func init() {
	// Logging.
	formatter := &log.TextFormatter{
		FullTimestamp: true,
	}
	log.SetFormatter(formatter)
	log.SetOutput(colorable.NewColorableStderr())
}

// suspender powers the host down for a deep sleep by running an external
// command, such as rtcwake. It falls back to sleeping.
type suspender struct {
	args []string
}

func (s *suspender) DeepSleep(d time.Duration) {
	if len(s.args) != 0 {
		args := append(s.args[1:len(s.args):len(s.args)], strconv.Itoa(int(d/time.Second)))
		start := time.Now()
		out, err := exec.Command(s.args[0], args...).CombinedOutput()
		if err == nil {
			d -= time.Since(start)
		} else {
			log.WithError(err).WithField("output", string(out)).Warn("suspend failed")
		}
	}
	if d > 0 {
		time.Sleep(d)
	}
}

func pin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO named %q", name)
	}
	return p, nil
}

func newSender() (uplink.Sender, error) {
	logger := log.StandardLogger()
	switch {
	case *loraPort != "":
		d, err := lorauart.Open(*loraPort, &lorauart.Opts{
			Gateway:   uint16(*loraGateway),
			Address:   uint16(*loraAddress),
			NetworkID: uint8(*loraNetwork),
			Band:      uint32(*loraBand),
			Log:       logger,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	case *mqttBroker != "":
		c, err := mqttup.Dial(*mqttBroker, *mqttClient, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return mqttup.New(c, &mqttup.Opts{Topic: *mqttTopic, Log: logger}), nil
	default:
		return nil, errors.New("specify -lora or -mqtt")
	}
}

// newNode binds the SCD30 at addr and the measurement loop. The sensor is
// initialized right away so that its configuration is available to the
// console; on failure the loop retries on every wake.
func newNode(bus i2c.Bus, addr uint16, sender uplink.Sender, opts *loop.Opts) (*scd30.Dev, *loop.Loop) {
	dev := scd30.New(bus, &scd30.Opts{Addr: addr, Clock: opts.Clock})
	if err := dev.Initialize(); err != nil {
		log.WithError(err).Warn("scd30 not available yet")
	} else {
		cfg := dev.Config()
		log.WithField("config", cfg.String()).Info("scd30 initialized")
	}
	return dev, loop.New(dev, sender, opts)
}

func mainImpl() error {
	flag.Parse()
	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %q", flag.Args())
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if _, err := host.Init(); err != nil {
		return err
	}

	bus, err := board.NewBus(func() (i2c.BusCloser, error) { return i2creg.Open(*i2cName) })
	if err != nil {
		return err
	}
	defer bus.Close()

	opts := loop.DefaultOpts
	opts.TxCycle = *txCycle
	opts.Flags = loop.Flags(*loopFlags)
	opts.Log = log.StandardLogger()
	opts.Peripherals = []loop.Peripheral{bus}

	attached := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	opts.ConsoleAttached = func() bool { return attached }

	if *railPin != "" {
		p, err := pin(*railPin)
		if err != nil {
			return err
		}
		r, err := board.NewRail(p)
		if err != nil {
			return err
		}
		opts.Peripherals = append(opts.Peripherals, r)
	}
	if *ledPin != "" {
		p, err := pin(*ledPin)
		if err != nil {
			return err
		}
		opts.Indicator = board.NewLED(p, log.StandardLogger())
	}
	if *withINA260 {
		opts.Battery = board.NewBattery(bus)
	}
	if *bootFile != "" {
		b := board.NewBootCounter(*bootFile)
		if n, err := b.BootCount(); err != nil {
			log.WithError(err).Warn("boot count unavailable")
		} else {
			log.WithField("boot", n).Info("starting")
		}
		opts.BootCounter = b
	}
	if *suspendCmd != "" {
		args, err := shlex.Split(*suspendCmd)
		if err != nil {
			return fmt.Errorf("-suspend: %w", err)
		}
		opts.Sleeper = &suspender{args: args}
	}

	sender, err := newSender()
	if err != nil {
		return err
	}
	if c, ok := sender.(interface{ Close() error }); ok {
		defer c.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	// Add Go module build info.
	reg.MustRegister(collectors.NewBuildInfoCollector())
	opts.Metrics = loop.NewMetrics(reg)

	if *listenAddr != "" {
		go func() {
			// Expose the registered metrics via HTTP.
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
				// Opt into OpenMetrics to support exemplars.
				EnableOpenMetrics: true,
			}))
			log.WithError(http.ListenAndServe(*listenAddr, mux)).Error("metrics server stopped")
		}()
	}

	dev, l := newNode(bus, uint16(*scd30Addr), sender, &opts)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if attached {
		c := console.New(l, dev, colorable.NewColorableStdout(), log.StandardLogger())
		go func() {
			if err := c.Serve(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("console stopped")
			}
		}()
	}
	if *autoRun {
		l.RequestActive(true)
	}
	if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "scd30node: %s.\n", err)
		os.Exit(1)
	}
}
