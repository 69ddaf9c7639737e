//go:build !linux

package gpio

import "errors"

// RealSource is not available on non-Linux platforms.
type RealSource struct{}

// NewRealSource returns an error on non-Linux platforms.
func NewRealSource(chip string, pins []int) (*RealSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Start is not implemented on non-Linux platforms.
func (r *RealSource) Start(handler EdgeHandler) error {
	return errors.New("gpio: not supported")
}

// Levels is not implemented on non-Linux platforms.
func (r *RealSource) Levels() ([]int, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealSource) Close() error {
	return nil
}
