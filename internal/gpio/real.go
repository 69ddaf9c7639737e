//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/scalextric-sensor/internal/logger"
)

// consumer labels our line requests in gpioinfo output.
const consumer = "scalextric"

// eventBufferSize is the kernel edge queue depth per line. A car at 5.5 kHz
// fills the default queue in a few milliseconds if the watcher stalls.
const eventBufferSize = 256

// RealSource reads edges from actual hardware using the Linux GPIO character device.
type RealSource struct {
	chip  string
	pins  []int
	lines []*gpiocdev.Line
}

// NewRealSource checks that the chip exists and offers every pin.
func NewRealSource(chip string, pins []int) (*RealSource, error) {
	c, err := gpiocdev.NewChip(chip, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	n := c.Lines()
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("close gpio chip: %w", err)
	}

	for _, p := range pins {
		if p < 0 || p >= n {
			return nil, fmt.Errorf("pin %d not on %s (%d lines)", p, chip, n)
		}
	}

	return &RealSource{chip: chip, pins: pins}, nil
}

// Start requests each pin as a falling-edge input. Each line gets its own
// handler closure bound to the sensor index, so edges from different sensors
// never share per-channel state.
func (r *RealSource) Start(handler EdgeHandler) error {
	if r.lines != nil {
		return errors.New("gpio: already started")
	}

	log := logger.Named("gpio")
	for i, pin := range r.pins {
		index := i
		line, err := gpiocdev.RequestLine(r.chip, pin,
			gpiocdev.AsInput,
			gpiocdev.WithConsumer(consumer),
			gpiocdev.WithFallingEdge,
			gpiocdev.WithEventBufferSize(eventBufferSize),
			gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
				handler(index, evt.Timestamp)
			}))
		if err != nil {
			r.closeLines()
			return fmt.Errorf("request pin %d: %w", pin, err)
		}
		r.lines = append(r.lines, line)
		log.Debug().Int("pin", pin).Int("index", index).Msg("watching falling edges")
	}
	return nil
}

// Levels returns the raw level of each line. Before Start the lines are
// requested briefly as plain inputs.
func (r *RealSource) Levels() ([]int, error) {
	out := make([]int, len(r.pins))

	if r.lines != nil {
		for i, l := range r.lines {
			v, err := l.Value()
			if err != nil {
				return nil, fmt.Errorf("read pin %d: %w", r.pins[i], err)
			}
			out[i] = v
		}
		return out, nil
	}

	lines, err := gpiocdev.RequestLines(r.chip, r.pins, gpiocdev.AsInput, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("request pins %v: %w", r.pins, err)
	}
	defer lines.Close()

	if err := lines.Values(out); err != nil {
		return nil, fmt.Errorf("read pins %v: %w", r.pins, err)
	}
	return out, nil
}

// Close releases every requested line.
func (r *RealSource) Close() error {
	return r.closeLines()
}

func (r *RealSource) closeLines() error {
	var errs []error
	for i, l := range r.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", r.pins[i], err))
		}
	}
	r.lines = nil
	return errors.Join(errs...)
}
