// Command scalextric-parent collects detections from every detector node and
// prints them as NODE:SENSOR:CAR:FREQ:TIME lines on stdout and, optionally,
// a serial port.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/config"
	"github.com/sweeney/scalextric-sensor/internal/console"
	"github.com/sweeney/scalextric-sensor/internal/logger"
	"github.com/sweeney/scalextric-sensor/internal/mqtt"
	"github.com/sweeney/scalextric-sensor/internal/relay"
)

type options struct {
	listPorts bool
	logLevel  string
	logFormat string
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger.Init(logger.Options{Level: opts.logLevel, Format: opts.logFormat, Service: "scalextric-parent"})
	if err := run(cfg, opts); err != nil {
		logger.Get().Fatal().Err(err).Msg("fatal")
	}
}

func parseFlags(args []string) (config.Parent, options, error) {
	fs := flag.NewFlagSet("scalextric-parent", flag.ContinueOnError)

	var cfg config.Parent
	var opts options
	fs.StringVar(&cfg.Broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	fs.StringVar(&cfg.SerialPort, "serial", "", "Serial port to mirror detection lines to (empty to disable)")
	fs.IntVar(&cfg.Baud, "baud", console.DefaultBaud, "Serial baud rate")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "List serial ports and exit")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "console", "Log format: console or json")

	if err := fs.Parse(args); err != nil {
		return config.Parent{}, options{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.Parent{}, options{}, err
	}
	return cfg, opts, nil
}

func run(cfg config.Parent, opts options) error {
	log := logger.Named("parent")

	if opts.listPorts {
		ports, err := console.Ports()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	var out io.Writer = os.Stdout
	if cfg.SerialPort != "" {
		port, err := console.Open(cfg.SerialPort, cfg.Baud)
		if err != nil {
			return err
		}
		defer port.Close()
		out = console.Tee(os.Stdout, port)
		log.Info().Str("port", cfg.SerialPort).Int("baud", cfg.Baud).Msg("mirroring to serial port")
	}

	r := relay.New(out, time.Now)
	if err := r.Start(); err != nil {
		return fmt.Errorf("write banner: %w", err)
	}

	msgs := make(chan mqtt.Message, inboundQueueSize)
	sub, err := mqtt.NewRealSubscriber(cfg.Broker, fmt.Sprintf("scalextric-parent-%d", os.Getpid()), func(m mqtt.Message) {
		enqueue(msgs, m, log)
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer sub.Close()

	log.Info().Str("broker", cfg.Broker).Msg("listening for child nodes")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(r, msgs, sigCh, log)
}

// inboundQueueSize bounds messages waiting for the relay loop.
const inboundQueueSize = 64

// enqueue hands m to the relay loop without blocking the MQTT client's
// callback goroutine. A full queue drops the message.
func enqueue(msgs chan<- mqtt.Message, m mqtt.Message, log *logger.Logger) bool {
	select {
	case msgs <- m:
		return true
	default:
		log.Warn().Str("topic", m.Topic).Msg("inbound queue full, dropping message")
		return false
	}
}

// runLoop feeds inbound messages to the relay until a signal arrives.
// Bad packets and output failures are logged and never stop the loop.
func runLoop(r *relay.Relay, msgs <-chan mqtt.Message, sig <-chan os.Signal, log *logger.Logger) error {
	for {
		select {
		case s := <-sig:
			children := r.Children()
			online := 0
			for _, c := range children {
				if c.Online {
					online++
				}
			}
			log.Info().Stringer("signal", s).Int("children", len(children)).Int("online", online).Msg("shutting down")
			return nil
		case m := <-msgs:
			err := r.Handle(m)
			switch {
			case err == nil:
			case errors.Is(err, relay.ErrOutput):
				log.Warn().Err(err).Str("topic", m.Topic).Msg("detection line not written")
			default:
				log.Debug().Err(err).Str("topic", m.Topic).Msg("message skipped")
			}
		}
	}
}
