// Package logic contains pure car-identification logic for the track sensors.
// This package has NO external dependencies on GPIO, MQTT or the OS.
// Time is always injectable: capture timestamps arrive as durations on the
// edge clock, poll passes receive a time.Time.
package logic

import "time"

// Build-time detection constants.
const (
	// FrequencyTolerance is the maximum distance (exclusive) in Hz between an
	// estimate and a car's nominal frequency for the car to match.
	FrequencyTolerance = 300.0

	// MinValidInterval and MaxValidInterval bound accepted pulse intervals in
	// microseconds (inclusive). Anything outside is treated as noise.
	MinValidInterval = 150
	MaxValidInterval = 450

	// MinPulsesForID is the accepted-pulse count needed before classifying.
	MinPulsesForID = 10

	// DetectionTimeout ends a detection episode once no pulse has arrived for
	// longer than this.
	DetectionTimeout = 50 * time.Millisecond

	// ConfirmCount is the number of consecutive agreeing classifications
	// required before a car is reported.
	ConfirmCount = 3

	// HistorySize is the capacity of each channel's interval ring.
	HistorySize = 10

	// MinSamples is the fewest intervals the estimator will work with.
	MinSamples = 3

	// MaxSensors is the number of sensor inputs a node supports.
	MaxSensors = 4
)

// CarModel is a car identity and its nominal IR modulation frequency.
type CarModel struct {
	Number    int
	Frequency float64 // Hz
}

// Cars is the static car table in car-number order.
var Cars = [...]CarModel{
	{Number: 1, Frequency: 5500},
	{Number: 2, Frequency: 4400},
	{Number: 3, Frequency: 3700},
	{Number: 4, Frequency: 3100},
	{Number: 5, Frequency: 2800},
	{Number: 6, Frequency: 2400},
}

// NoCar is returned when a frequency matches no car.
const NoCar = 0

// State represents the detection state of a sensor channel.
type State string

const (
	StateIdle      State = "IDLE"
	StateDetecting State = "DETECTING"
)

// Event is a confirmed car detection, emitted once per car per episode.
type Event struct {
	Timestamp time.Time
	Uptime    time.Duration // since the detector started
	Sensor    string
	Car       int
	Frequency float64 // estimated Hz at confirmation
}

// Pass summarises a detection episode when it times out.
type Pass struct {
	Timestamp time.Time
	Sensor    string
	Car       int     // last reported car, NoCar for an unknown signal
	Frequency float64 // final estimate, 0 with insufficient samples
	Pulses    int
	Intervals []uint32
}

// SensorConfig names a physical sensor input.
type SensorConfig struct {
	Name string
	Pin  int
}

// SensorStatus is a point-in-time view of one channel for status consumers.
type SensorStatus struct {
	Name         string
	Pin          int
	State        State
	Pulses       int
	Candidate    int
	Confirmed    int
	LastReported int
	Frequency    float64
}

// Counts tracks detections since startup.
type Counts struct {
	Cars    [len(Cars) + 1]int // indexed by car number, [0] unused
	Unknown int                // episodes that ended without a reported car
}

// Total returns the number of reported car detections.
func (c Counts) Total() int {
	n := 0
	for _, v := range c.Cars {
		n += v
	}
	return n
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
