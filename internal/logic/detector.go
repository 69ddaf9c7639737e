package logic

import (
	"fmt"
	"time"
)

// Detector runs one Channel per configured sensor and advances them together.
type Detector struct {
	channels      []*Channel
	startTime     time.Time
	counts        Counts
	lastHeartbeat time.Time
}

// Tick is everything a single poll pass produced across all channels.
type Tick struct {
	Started []string // sensors that went Idle -> Detecting
	Traces  []Trace
	Events  []Event
	Passes  []Pass
}

// NewDetector creates a detector for the given sensors.
// The startTime is used for event uptime and heartbeat uptime.
func NewDetector(sensors []SensorConfig, startTime time.Time) (*Detector, error) {
	if len(sensors) == 0 {
		return nil, fmt.Errorf("no sensors configured")
	}
	if len(sensors) > MaxSensors {
		return nil, fmt.Errorf("%d sensors configured, at most %d supported", len(sensors), MaxSensors)
	}

	d := &Detector{
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	for _, s := range sensors {
		d.channels = append(d.channels, NewChannel(s.Name, s.Pin))
	}
	return d, nil
}

// Capture is the edge handler entry point for the sensor at index.
// Out-of-range indexes are ignored.
func (d *Detector) Capture(index int, ts time.Duration) {
	if index < 0 || index >= len(d.channels) {
		return
	}
	d.channels[index].Capture(ts)
}

// Channels returns the detector's channels in configuration order.
func (d *Detector) Channels() []*Channel {
	return d.channels
}

// Process polls every channel once. Channels are independent; callers must
// not rely on the order of events from different sensors.
func (d *Detector) Process(now time.Time) Tick {
	var t Tick
	for _, ch := range d.channels {
		res := ch.Poll(now)
		if res.Started {
			t.Started = append(t.Started, ch.Name())
		}
		if res.Trace != nil {
			t.Traces = append(t.Traces, *res.Trace)
		}
		if res.Event != nil {
			ev := *res.Event
			ev.Uptime = now.Sub(d.startTime)
			d.counts.Cars[ev.Car]++
			t.Events = append(t.Events, ev)
		}
		if res.Pass != nil {
			if res.Pass.Car == NoCar {
				d.counts.Unknown++
			}
			t.Passes = append(t.Passes, *res.Pass)
		}
	}
	return t
}

// Status returns a snapshot of every channel.
func (d *Detector) Status() []SensorStatus {
	out := make([]SensorStatus, len(d.channels))
	for i, ch := range d.channels {
		out[i] = ch.Status()
	}
	return out
}

// CountsSnapshot returns a copy of the detection counts.
func (d *Detector) CountsSnapshot() Counts {
	return d.counts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.counts,
	}
}
