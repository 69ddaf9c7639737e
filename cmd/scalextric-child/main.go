// Command scalextric-child identifies Scalextric Digital cars passing up to
// four IR sensors and publishes each detection to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/config"
	"github.com/sweeney/scalextric-sensor/internal/gpio"
	"github.com/sweeney/scalextric-sensor/internal/logger"
	"github.com/sweeney/scalextric-sensor/internal/logic"
	"github.com/sweeney/scalextric-sensor/internal/mqtt"
	"github.com/sweeney/scalextric-sensor/internal/status"
	"github.com/sweeney/scalextric-sensor/internal/web"
)

// options are the flags that are not part of the node config.
type options struct {
	printState bool
	logLevel   string
	logFormat  string
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

	logger.Init(logger.Options{Level: opts.logLevel, Format: opts.logFormat, Service: "scalextric-child"})
	if err := run(cfg, opts); err != nil {
		logger.Get().Fatal().Err(err).Msg("fatal")
	}
}

func parseFlags(args []string) (config.Child, options, error) {
	fs := flag.NewFlagSet("scalextric-child", flag.ContinueOnError)

	var cfg config.Child
	var opts options
	var sensors, format string
	fs.IntVar(&cfg.NodeID, "node", 1, "Node id (1-255)")
	fs.StringVar(&cfg.Chip, "chip", gpio.DefaultChip, "GPIO character device")
	fs.StringVar(&sensors, "sensors", gpio.DefaultSensors, "Sensors as NAME:PIN,... (BCM numbering, at most 4)")
	fs.DurationVar(&cfg.Poll, "poll", time.Millisecond, "Detection polling interval")
	fs.StringVar(&cfg.Broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	fs.StringVar(&format, "format", string(mqtt.FormatJSON), "Detection payload format: json or binary")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	fs.StringVar(&cfg.HTTPAddr, "http", ":80", "HTTP status address (empty to disable)")
	fs.BoolVar(&cfg.SelfTest, "selftest", false, "Feed every sensor a simulated car every 2s instead of reading GPIO")
	fs.BoolVar(&opts.printState, "print-state", false, "Print current sensor levels and exit")
	fs.StringVar(&opts.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	fs.StringVar(&opts.logFormat, "log-format", "console", "Log format: console or json")

	if err := fs.Parse(args); err != nil {
		return config.Child{}, options{}, err
	}

	parsed, err := config.ParseSensors(sensors)
	if err != nil {
		return config.Child{}, options{}, err
	}
	cfg.Sensors = parsed
	cfg.Format = format

	if err := config.Validate(cfg); err != nil {
		return config.Child{}, options{}, err
	}
	return cfg, opts, nil
}

func openSource(cfg config.Child) (gpio.Source, error) {
	if cfg.SelfTest {
		return gpio.NewToneSource(len(cfg.Sensors), gpio.DefaultToneGap, gpio.DefaultToneBurst), nil
	}
	return gpio.NewRealSource(cfg.Chip, cfg.Pins())
}

func run(cfg config.Child, opts options) error {
	log := logger.Named("child")

	source, err := openSource(cfg)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer source.Close()

	if opts.printState {
		return printState(os.Stdout, cfg.Sensors, source)
	}

	startTime := time.Now()
	detector, err := logic.NewDetector(cfg.SensorConfigs(), startTime)
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}

	publisher, err := mqtt.NewRealPublisher(mqtt.PublisherOptions{
		Broker: cfg.Broker,
		NodeID: cfg.NodeID,
		Format: mqtt.Format(cfg.Format),
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Tracker first so the STARTUP snapshot has config and sensors.
	tracker := status.NewTracker(startTime, status.Config{
		NodeID:      cfg.NodeID,
		PollMs:      cfg.Poll.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		Format:      cfg.Format,
		HTTPAddr:    cfg.HTTPAddr,
		SelfTest:    cfg.SelfTest,
	})
	tracker.Update(detector.Status(), detector.CountsSnapshot())
	tracker.SetMQTTConnected(publisher.IsConnected())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Error().Err(err).Msg("failed to publish startup event")
	} else {
		log.Info().Msg("published startup event")
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http status server listening")
	}

	if err := source.Start(detector.Capture); err != nil {
		return fmt.Errorf("start gpio: %w", err)
	}

	log.Info().
		Int("node", cfg.NodeID).
		Int("sensors", len(cfg.Sensors)).
		Dur("poll", cfg.Poll).
		Str("broker", cfg.Broker).
		Str("format", cfg.Format).
		Dur("heartbeat", cfg.Heartbeat).
		Bool("selftest", cfg.SelfTest).
		Msg("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(detector, publisher, publisher, tracker, cfg.Heartbeat, time.Now, ticker.C, sigCh)
}

// eventQueueSize bounds detections waiting for the publisher.
const eventQueueSize = 64

// dispatcher hands detections to the publisher on its own goroutine so a
// slow broker never stalls the poll loop.
type dispatcher struct {
	events chan logic.Event
	done   chan struct{}
	log    *logger.Logger
}

func startDispatcher(publisher mqtt.Publisher, log *logger.Logger) *dispatcher {
	d := &dispatcher{
		events: make(chan logic.Event, eventQueueSize),
		done:   make(chan struct{}),
		log:    log,
	}
	go func() {
		defer close(d.done)
		for ev := range d.events {
			if err := publisher.Publish(ev); err != nil {
				// Don't crash on publish failure
				log.Error().Err(err).Str("sensor", ev.Sensor).Int("car", ev.Car).Msg("publish error")
			}
		}
	}()
	return d
}

// send queues ev without blocking. A full queue drops the detection.
func (d *dispatcher) send(ev logic.Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Warn().Str("sensor", ev.Sensor).Int("car", ev.Car).Msg("publish queue full, dropping detection")
	}
}

// close waits for queued detections to be handed to the publisher.
func (d *dispatcher) close() {
	close(d.events)
	<-d.done
}

func runLoop(detector *logic.Detector, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	log := logger.Named("child")
	outgoing := startDispatcher(publisher, log)

	refresh := func() {
		if tracker == nil {
			return
		}
		tracker.Update(detector.Status(), detector.CountsSnapshot())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			log.Info().Stringer("signal", s).Msg("shutting down")
			outgoing.close()
			reason := signalName(s)
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    reason,
				Retained:  true,
			}
			if tracker != nil {
				refresh()
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", reason)
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.Error().Err(err).Msg("failed to publish shutdown event")
			} else {
				log.Info().Msg("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			res := detector.Process(t)

			for _, name := range res.Started {
				log.Debug().Str("sensor", name).Msg("signal detected")
			}
			for _, tr := range res.Traces {
				log.Debug().
					Str("sensor", tr.Sensor).
					Int("pulses", tr.Pulses).
					Uint32("interval_us", tr.Interval).
					Float64("frequency_hz", math.Round(tr.Frequency)).
					Msg("pulse trace")
			}
			for _, ev := range res.Events {
				log.Info().
					Str("sensor", ev.Sensor).
					Int("car", ev.Car).
					Float64("frequency_hz", math.Round(ev.Frequency)).
					Msg("car detected")
				if tracker != nil {
					tracker.RecordEvent(ev)
				}
				outgoing.send(ev)
			}
			for _, p := range res.Passes {
				e := log.Info().Str("sensor", p.Sensor).Int("pulses", p.Pulses).Float64("frequency_hz", math.Round(p.Frequency))
				if p.Car != logic.NoCar {
					e.Int("car", p.Car).Msg("car passed")
				} else {
					e.Msg("unknown signal")
				}
				log.Debug().Str("sensor", p.Sensor).Uints32("intervals_us", p.Intervals).Msg("pass intervals")
			}

			if hb := detector.CheckHeartbeat(t, heartbeat); hb != nil {
				log.Info().
					Dur("uptime", hb.Uptime).
					Int("detections", hb.Counts.Total()).
					Int("unknown", hb.Counts.Unknown).
					Msg("heartbeat")

				hbEvent := mqtt.SystemEvent{
					Timestamp: hb.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					refresh()
					hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					log.Error().Err(err).Msg("heartbeat publish error")
				}
			}

			refresh()
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func printState(w io.Writer, sensors []config.Sensor, source gpio.Source) error {
	levels, err := source.Levels()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	for i, s := range sensors {
		level := "?"
		if i < len(levels) {
			level = levelString(levels[i])
		}
		fmt.Fprintf(w, "%s (pin %d): %s\n", s.Name, s.Pin, level)
	}
	return nil
}

func levelString(v int) string {
	if v != 0 {
		return "HIGH"
	}
	return "LOW"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
