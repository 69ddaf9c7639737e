// Package relay turns detections received from detector nodes into console
// lines and keeps track of which nodes are reporting.
package relay

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/logger"
	"github.com/sweeney/scalextric-sensor/internal/mqtt"
)

// Banner is written once when the collector starts.
const Banner = "Scalextric collector\n" +
	"Output format: NODE:SENSOR:CAR:FREQ:TIME\n"

// ErrOutput wraps failures writing detection lines to the output. Decode
// problems are logged by the relay itself and are not wrapped.
var ErrOutput = errors.New("write output")

// dedupeWindow is how many recent message ids are remembered.
const dedupeWindow = 256

// FormatLine renders a detection as a console line.
func FormatLine(d mqtt.Detection) string {
	return fmt.Sprintf("N%d:%s:Car%d:%dHz:%d\n", d.Node, d.Sensor, d.Car, d.FrequencyHz, d.TimestampMs)
}

// Relay writes every received detection to out and maintains the child
// registry. Handle may be called from the MQTT client goroutine.
type Relay struct {
	mu       sync.Mutex
	out      io.Writer
	registry Registry
	seen     map[string]struct{}
	order    []string
	now      func() time.Time
	log      *logger.Logger
}

// New creates a relay writing to out.
func New(out io.Writer, now func() time.Time) *Relay {
	return &Relay{
		out:  out,
		seen: make(map[string]struct{}, dedupeWindow),
		now:  now,
		log:  logger.Named("relay"),
	}
}

// Start writes the banner.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := io.WriteString(r.out, Banner)
	return err
}

// Handle processes one inbound message.
func (r *Relay) Handle(msg mqtt.Message) error {
	node, kind, ok := mqtt.ParseTopic(msg.Topic)
	if !ok {
		return fmt.Errorf("unexpected topic %q", msg.Topic)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == "system" {
		return r.handleSystem(node, msg.Payload)
	}
	return r.handleDetection(node, msg.Payload)
}

func (r *Relay) handleDetection(topicNode int, payload []byte) error {
	d, err := mqtt.Decode(payload)
	if err != nil {
		r.log.Warn().Err(err).Int("node", topicNode).Int("bytes", len(payload)).Msg("invalid packet")
		return err
	}
	if d.Node != topicNode {
		r.log.Debug().Int("topic_node", topicNode).Int("node", d.Node).Msg("node id differs from topic")
	}

	if d.MsgID != "" {
		if _, dup := r.seen[d.MsgID]; dup {
			r.log.Debug().Str("msg_id", d.MsgID).Msg("duplicate delivery dropped")
			return nil
		}
		r.remember(d.MsgID)
	}

	var writeErr error
	if _, err := io.WriteString(r.out, FormatLine(d)); err != nil {
		writeErr = fmt.Errorf("%w: node %d car %d: %w", ErrOutput, d.Node, d.Car, err)
	}

	registered, tracked := r.registry.Observe(d.Node, r.now(), d.Sensor, d.Car)
	switch {
	case registered:
		r.log.Info().Int("node", d.Node).Int("children", r.registry.Len()).Msg("new child registered")
	case !tracked:
		r.log.Debug().Int("node", d.Node).Msg("child registry full, node not tracked")
	}
	return writeErr
}

func (r *Relay) handleSystem(node int, payload []byte) error {
	event, reason, err := mqtt.ParseSystemEvent(payload)
	if err != nil {
		r.log.Warn().Err(err).Int("node", node).Msg("invalid system message")
		return err
	}

	switch event {
	case "OFFLINE", "SHUTDOWN":
		if r.registry.SetOnline(node, r.now(), false) {
			r.log.Info().Int("node", node).Str("event", event).Str("reason", reason).Msg("child offline")
		}
	case "STARTUP", "HEARTBEAT":
		if r.registry.SetOnline(node, r.now(), true) {
			r.log.Debug().Int("node", node).Str("event", event).Msg("child online")
		}
	}
	return nil
}

// remember adds id to the bounded dedupe window.
func (r *Relay) remember(id string) {
	if len(r.order) == dedupeWindow {
		delete(r.seen, r.order[0])
		r.order = r.order[1:]
	}
	r.seen[id] = struct{}{}
	r.order = append(r.order, id)
}

// Children returns the tracked nodes.
func (r *Relay) Children() []Child {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.Children()
}
