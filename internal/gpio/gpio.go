// Package gpio delivers phototransistor edges with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake and tone implementations allow running without hardware.
package gpio

import "time"

// EdgeHandler is called once per falling edge with the sensor index and the
// edge timestamp on the source's monotonic clock. It runs on the source's
// event goroutine and must not block.
type EdgeHandler func(index int, ts time.Duration)

// Source delivers falling edges for a fixed, ordered set of sensor lines.
type Source interface {
	// Start begins delivering edges to handler.
	Start(handler EdgeHandler) error

	// Levels returns the raw level (0 or 1) of each sensor line.
	Levels() ([]int, error)

	// Close stops delivery and releases resources.
	Close() error
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// DefaultSensors is the standard four-sensor node layout (BCM numbering).
const DefaultSensors = "START1:4,START2:5,PIT_IN:16,PIT_OUT:17"
