// Package console writes relay output to a serial port, the way the
// collector node prints detection lines for a host to read.
package console

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"go.bug.st/serial"
)

// DefaultBaud matches the collector's historical console speed.
const DefaultBaud = 115200

// Mode returns an 8N1 serial mode at the given baud rate.
func Mode(baud int) *serial.Mode {
	if baud <= 0 {
		baud = DefaultBaud
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open opens the serial port at path for writing detection lines.
func Open(path string, baud int) (io.WriteCloser, error) {
	port, err := serial.Open(path, Mode(baud))
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// Ports lists the serial ports present on the host, sorted.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	slices.Sort(ports)
	return ports, nil
}

// tee writes every line to all of its sinks. Unlike io.MultiWriter it does
// not stop at the first failing sink, so a closed stdout does not silence the
// serial mirror.
type tee struct {
	sinks []io.Writer
}

// Tee returns a writer that duplicates writes to every sink and reports the
// joined errors of the sinks that failed.
func Tee(sinks ...io.Writer) io.Writer {
	return &tee{sinks: slices.Clone(sinks)}
}

func (t *tee) Write(p []byte) (int, error) {
	var errs []error
	for _, w := range t.sinks {
		n, err := w.Write(p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}
