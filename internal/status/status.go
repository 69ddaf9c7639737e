// Package status provides a thread-safe status tracker for the detector node.
// It is read by the HTTP handlers and used to build lifecycle snapshots.
package status

import (
	"slices"
	"sync"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/logic"
)

// NetworkInfo contains network state as reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains node configuration for display.
type Config struct {
	NodeID      int
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	Format      string
	HTTPAddr    string
	SelfTest    bool
}

// Snapshot is a point-in-time view of node state.
// It is a value type and owns its slices.
type Snapshot struct {
	Sensors       []logic.SensorStatus
	LastEvents    map[string]logic.Event // most recent detection per sensor
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the node started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Sensor returns the status of the named sensor.
func (s Snapshot) Sensor(name string) (logic.SensorStatus, bool) {
	for _, st := range s.Sensors {
		if st.Name == name {
			return st, true
		}
	}
	return logic.SensorStatus{}, false
}

// Tracker holds mutable node state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime:  startTime,
			Config:     cfg,
			LastEvents: map[string]logic.Event{},
		},
		now: time.Now,
	}
}

// Update replaces the per-sensor state and detection counts.
// Called from the run loop on every tick.
func (t *Tracker) Update(sensors []logic.SensorStatus, counts logic.Counts) {
	t.mu.Lock()
	t.snap.Sensors = slices.Clone(sensors)
	t.snap.Counts = counts
	t.mu.Unlock()
}

// RecordEvent remembers ev as the latest detection on its sensor.
func (t *Tracker) RecordEvent(ev logic.Event) {
	t.mu.Lock()
	t.snap.LastEvents[ev.Sensor] = ev
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the node state.
// The Now field is set to the tracker's clock at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Sensors = slices.Clone(t.snap.Sensors)
	s.LastEvents = make(map[string]logic.Event, len(t.snap.LastEvents))
	for k, v := range t.snap.LastEvents {
		s.LastEvents[k] = v
	}
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
