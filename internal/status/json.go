package status

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Node          int          `json:"node"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Sensors       []SensorJSON `json:"sensors"`
	Counts        CountsJSON   `json:"detection_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// SensorJSON is the JSON representation of one sensor.
type SensorJSON struct {
	Name          string         `json:"name"`
	Pin           int            `json:"pin"`
	State         string         `json:"state"`
	Pulses        int            `json:"pulses"`
	Candidate     int            `json:"candidate"`
	Confirmed     int            `json:"confirmed"`
	LastReported  int            `json:"last_reported"`
	FrequencyHz   int            `json:"frequency_hz"`
	LastDetection *DetectionJSON `json:"last_detection,omitempty"`
}

// DetectionJSON is the most recent detection on a sensor.
type DetectionJSON struct {
	Car         int    `json:"car"`
	FrequencyHz int    `json:"frequency_hz"`
	Timestamp   string `json:"timestamp"`
}

// CountsJSON is the JSON representation of detection counts.
// Cars is keyed by car number.
type CountsJSON struct {
	Cars    map[string]int `json:"cars"`
	Unknown int            `json:"unknown"`
	Total   int            `json:"total"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of node config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	Format      string `json:"format"`
	HTTPAddr    string `json:"http_addr"`
	SelfTest    bool   `json:"selftest,omitempty"`
}

func buildCounts(c logic.Counts) CountsJSON {
	out := CountsJSON{Cars: map[string]int{}, Unknown: c.Unknown, Total: c.Total()}
	for _, car := range logic.Cars {
		out.Cars[strconv.Itoa(car.Number)] = c.Cars[car.Number]
	}
	return out
}

func buildSensor(st logic.SensorStatus, last map[string]logic.Event) SensorJSON {
	state := string(st.State)
	if state == "" {
		state = "UNKNOWN"
	}
	sj := SensorJSON{
		Name:         st.Name,
		Pin:          st.Pin,
		State:        state,
		Pulses:       st.Pulses,
		Candidate:    st.Candidate,
		Confirmed:    st.Confirmed,
		LastReported: st.LastReported,
		FrequencyHz:  int(math.Round(st.Frequency)),
	}
	if ev, ok := last[st.Name]; ok {
		sj.LastDetection = &DetectionJSON{
			Car:         ev.Car,
			FrequencyHz: int(math.Round(ev.Frequency)),
			Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return sj
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Node:          snap.Config.NodeID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Sensors:       make([]SensorJSON, 0, len(snap.Sensors)),
		Counts:        buildCounts(snap.Counts),
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			Format:      snap.Config.Format,
			HTTPAddr:    snap.Config.HTTPAddr,
			SelfTest:    snap.Config.SelfTest,
		},
	}
	for _, st := range snap.Sensors {
		inner.Sensors = append(inner.Sensors, buildSensor(st, snap.LastEvents))
	}
	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatSensorJSON returns the JSON for one sensor, or false if there is no
// sensor with that name.
func FormatSensorJSON(snap Snapshot, name string) ([]byte, bool) {
	st, ok := snap.Sensor(name)
	if !ok {
		return nil, false
	}
	data, _ := json.MarshalIndent(struct {
		Sensor SensorJSON `json:"sensor"`
	}{buildSensor(st, snap.LastEvents)}, "", "  ")
	return data, true
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
