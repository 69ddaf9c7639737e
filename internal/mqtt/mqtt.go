// Package mqtt relays car detections between nodes over MQTT, with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/logic"
)

// Topic layout: scalextric/node/<id>/events and scalextric/node/<id>/system.
const (
	topicPrefix = "scalextric/node/"

	// EventsWildcard matches every node's detection topic.
	EventsWildcard = topicPrefix + "+/events"

	// SystemWildcard matches every node's system topic.
	SystemWildcard = topicPrefix + "+/system"
)

// Topic returns the detection topic for a node.
func Topic(node int) string {
	return topicPrefix + strconv.Itoa(node) + "/events"
}

// TopicSystem returns the system lifecycle topic for a node.
func TopicSystem(node int) string {
	return topicPrefix + strconv.Itoa(node) + "/system"
}

// ParseTopic extracts the node id and kind ("events" or "system") from a topic.
func ParseTopic(topic string) (node int, kind string, ok bool) {
	rest, found := strings.CutPrefix(topic, topicPrefix)
	if !found {
		return 0, "", false
	}
	id, kind, found := strings.Cut(rest, "/")
	if !found || (kind != "events" && kind != "system") {
		return 0, "", false
	}
	n, err := strconv.Atoi(id)
	if err != nil || n < 1 || n > 255 {
		return 0, "", false
	}
	return n, kind, true
}

// Publisher publishes detections and lifecycle events.
type Publisher interface {
	// Publish sends a car detection to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParseSystemEvent extracts the event name and reason from a system payload.
// Both the simple form and full status snapshots carry them.
func ParseSystemEvent(payload []byte) (event, reason string, err error) {
	var envelope struct {
		System *SystemPayloadInner `json:"system"`
		Status *struct {
			Event  string `json:"event"`
			Reason string `json:"reason"`
		} `json:"status"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", "", fmt.Errorf("decode system payload: %w", err)
	}
	switch {
	case envelope.System != nil:
		return envelope.System.Event, envelope.System.Reason, nil
	case envelope.Status != nil:
		return envelope.Status.Event, envelope.Status.Reason, nil
	}
	return "", "", fmt.Errorf("decode system payload: no system or status object")
}
