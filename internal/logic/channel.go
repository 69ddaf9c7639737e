package logic

import (
	"sync/atomic"
	"time"
)

// Channel tracks one phototransistor input.
//
// Fields are partitioned by owner. The capture side (Capture, called from the
// GPIO event goroutine) writes only the atomic fields. The poll side (Poll,
// called from the ticker loop) reads them and clears them on episode reset,
// and owns the plain fields. Capture never blocks, so a raced read on the
// poll side can at worst see a stale count or slot and classify one tick late.
type Channel struct {
	name string
	pin  int

	// capture-owned
	lastPulse    atomic.Int64 // edge timestamp in µs, 0 = none since reset
	lastInterval atomic.Uint32
	history      [HistorySize]atomic.Uint32
	historyIndex atomic.Uint32
	pulseCount   atomic.Int32
	newData      atomic.Bool

	// poll-owned
	state        State
	lastActivity time.Time
	candidate    int
	confirmed    int
	lastReported int
	frequency    float64
}

// NewChannel creates an idle channel.
func NewChannel(name string, pin int) *Channel {
	return &Channel{name: name, pin: pin, state: StateIdle}
}

// Name returns the sensor name.
func (c *Channel) Name() string { return c.name }

// Pin returns the GPIO line offset.
func (c *Channel) Pin() int { return c.pin }

// Capture records a falling edge observed at ts on the edge clock.
// It is safe to call concurrently with Poll but not with itself.
func (c *Channel) Capture(ts time.Duration) {
	now := ts.Microseconds()
	last := c.lastPulse.Load()

	if last > 0 {
		interval := now - last
		if interval >= MinValidInterval && interval <= MaxValidInterval {
			iv := uint32(interval)
			c.lastInterval.Store(iv)
			idx := c.historyIndex.Load()
			c.history[idx].Store(iv)
			c.historyIndex.Store((idx + 1) % HistorySize)
			c.pulseCount.Add(1)
			c.newData.Store(true)
		}
	}

	c.lastPulse.Store(now)
}

// Intervals returns a copy of the interval history. Empty slots are 0.
func (c *Channel) Intervals() []uint32 {
	out := make([]uint32, HistorySize)
	for i := range c.history {
		out[i] = c.history[i].Load()
	}
	return out
}

// Pulses returns the accepted-pulse count for the current episode.
func (c *Channel) Pulses() int {
	return int(c.pulseCount.Load())
}

// LastInterval returns the most recent accepted interval in microseconds.
func (c *Channel) LastInterval() uint32 {
	return c.lastInterval.Load()
}

// State returns the current detection state.
func (c *Channel) State() State {
	return c.state
}

// Result is the outcome of one poll pass.
type Result struct {
	Started bool   // Idle -> Detecting on this pass
	Trace   *Trace // periodic pulse trace, nil if none
	Event   *Event // confirmed detection, nil if none
	Pass    *Pass  // episode ended on this pass, nil if not
}

// Trace is a diagnostic sample taken every TraceEvery accepted pulses.
type Trace struct {
	Sensor    string
	Pulses    int
	Interval  uint32
	Frequency float64
}

// TraceEvery is the accepted-pulse stride between traces.
const TraceEvery = 5

// Poll advances the detection state machine by one pass.
func (c *Channel) Poll(now time.Time) Result {
	var res Result

	if c.newData.Swap(false) {
		c.lastActivity = now
		if c.state == StateIdle {
			c.state = StateDetecting
			res.Started = true
		}
		if n := c.Pulses(); n > 0 && n%TraceEvery == 0 {
			res.Trace = &Trace{
				Sensor:    c.name,
				Pulses:    n,
				Interval:  c.LastInterval(),
				Frequency: MedianFrequency(c.Intervals()),
			}
		}
	}

	if c.state == StateDetecting && c.Pulses() >= MinPulsesForID {
		freq := MedianFrequency(c.Intervals())
		c.frequency = freq

		if car := Classify(freq); car != NoCar {
			if car == c.candidate {
				c.confirmed++
			} else {
				c.candidate = car
				c.confirmed = 1
			}

			if c.confirmed >= ConfirmCount && car != c.lastReported {
				res.Event = &Event{
					Timestamp: now,
					Sensor:    c.name,
					Car:       car,
					Frequency: freq,
				}
				c.lastReported = car
			}
		}
	}

	if c.state == StateDetecting && now.Sub(c.lastActivity) > DetectionTimeout {
		intervals := c.Intervals()
		res.Pass = &Pass{
			Timestamp: now,
			Sensor:    c.name,
			Car:       c.lastReported,
			Frequency: MedianFrequency(intervals),
			Pulses:    c.Pulses(),
			Intervals: intervals,
		}
		c.reset()
	}

	return res
}

// Status returns a snapshot of the channel for status reporting.
// Must be called from the poll side.
func (c *Channel) Status() SensorStatus {
	return SensorStatus{
		Name:         c.name,
		Pin:          c.pin,
		State:        c.state,
		Pulses:       c.Pulses(),
		Candidate:    c.candidate,
		Confirmed:    c.confirmed,
		LastReported: c.lastReported,
		Frequency:    c.frequency,
	}
}

// reset clears every per-episode field and returns the channel to idle.
func (c *Channel) reset() {
	c.pulseCount.Store(0)
	c.historyIndex.Store(0)
	c.lastPulse.Store(0)
	c.lastInterval.Store(0)
	for i := range c.history {
		c.history[i].Store(0)
	}
	c.newData.Store(false)

	c.state = StateIdle
	c.candidate = NoCar
	c.confirmed = 0
	c.lastReported = NoCar
	c.frequency = 0
}
