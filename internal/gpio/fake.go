package gpio

import (
	"errors"
	"time"
)

// FakeSource is a test double that delivers scripted edges.
type FakeSource struct {
	// LevelSamples is returned by Levels.
	LevelSamples []int

	// StartError, if set, will be returned by Start.
	StartError error

	// LevelsError, if set, will be returned by Levels.
	LevelsError error

	// Closed tracks if Close was called
	Closed bool

	handler EdgeHandler
}

// NewFakeSource creates a FakeSource reporting the given levels.
func NewFakeSource(levels ...int) *FakeSource {
	return &FakeSource{LevelSamples: levels}
}

// Start records the handler.
func (f *FakeSource) Start(handler EdgeHandler) error {
	if f.StartError != nil {
		return f.StartError
	}
	f.handler = handler
	return nil
}

// Started reports whether a handler is installed.
func (f *FakeSource) Started() bool {
	return f.handler != nil
}

// Edge delivers a single edge on the caller's goroutine.
func (f *FakeSource) Edge(index int, ts time.Duration) {
	if f.handler != nil && !f.Closed {
		f.handler(index, ts)
	}
}

// Train delivers n+1 edges spaced by interval starting at ts, producing n
// intervals, and returns the timestamp of the last edge.
func (f *FakeSource) Train(index int, ts, interval time.Duration, n int) time.Duration {
	f.Edge(index, ts)
	for i := 0; i < n; i++ {
		ts += interval
		f.Edge(index, ts)
	}
	return ts
}

// Levels returns the scripted levels.
func (f *FakeSource) Levels() ([]int, error) {
	if f.LevelsError != nil {
		return nil, f.LevelsError
	}
	if f.LevelSamples == nil {
		return nil, errors.New("no levels configured")
	}
	return append([]int(nil), f.LevelSamples...), nil
}

// Close marks the source as closed; later edges are dropped.
func (f *FakeSource) Close() error {
	f.Closed = true
	return nil
}
