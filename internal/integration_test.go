package internal

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/scalextric-sensor/internal/gpio"
	"github.com/sweeney/scalextric-sensor/internal/logic"
	"github.com/sweeney/scalextric-sensor/internal/mqtt"
	"github.com/sweeney/scalextric-sensor/internal/relay"
	"github.com/sweeney/scalextric-sensor/internal/status"
)

var startTime = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

const pollInterval = time.Millisecond

type node struct {
	detector  *logic.Detector
	source    *gpio.FakeSource
	publisher *mqtt.FakePublisher
	tracker   *status.Tracker
	ticks     int
}

func newNode(t *testing.T, id int, format mqtt.Format, sensors ...string) *node {
	t.Helper()
	var cfgs []logic.SensorConfig
	for i, s := range sensors {
		cfgs = append(cfgs, logic.SensorConfig{Name: s, Pin: 4 + i})
	}
	d, err := logic.NewDetector(cfgs, startTime)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	src := gpio.NewFakeSource()
	if err := src.Start(d.Capture); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pub := mqtt.NewFakePublisher()
	pub.Node = id
	pub.Format = format
	return &node{
		detector:  d,
		source:    src,
		publisher: pub,
		tracker:   status.NewTracker(startTime, status.Config{NodeID: id, Format: string(format)}),
	}
}

// poll runs n poll passes, publishing events like the child run loop.
func (n *node) poll(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		now := startTime.Add(time.Duration(n.ticks) * pollInterval)
		n.ticks++
		res := n.detector.Process(now)
		for _, ev := range res.Events {
			n.tracker.RecordEvent(ev)
			if err := n.publisher.Publish(ev); err != nil {
				t.Fatalf("publish: %v", err)
			}
		}
		n.tracker.Update(n.detector.Status(), n.detector.CountsSnapshot())
	}
}

// edgeTime maps the node's poll clock onto the edge clock, offset so that
// no edge lands on zero.
func (n *node) edgeTime() time.Duration {
	return 10*time.Second + time.Duration(n.ticks)*pollInterval
}

// pass simulates a car crossing a sensor: a burst of edges arriving in
// 1 ms slices with a poll after each, then enough idle polls to time out.
func (n *node) pass(t *testing.T, sensor int, freq float64, burst time.Duration) {
	t.Helper()
	edges := gpio.ToneEdges(freq, n.edgeTime(), burst)
	for len(edges) > 0 {
		sliceEnd := n.edgeTime() + pollInterval
		for len(edges) > 0 && edges[0] < sliceEnd {
			n.source.Edge(sensor, edges[0])
			edges = edges[1:]
		}
		n.poll(t, 1)
	}
	n.poll(t, int(logic.DetectionTimeout/pollInterval)+2)
}

func relayAll(t *testing.T, r *relay.Relay, pubs ...*mqtt.FakePublisher) {
	t.Helper()
	for _, p := range pubs {
		for _, payload := range p.Payloads {
			if err := r.Handle(mqtt.Message{Topic: mqtt.Topic(p.Node), Payload: payload}); err != nil {
				t.Fatalf("relay: %v", err)
			}
		}
	}
}

func TestIntegrationEveryCarEndToEnd(t *testing.T) {
	for _, format := range []mqtt.Format{mqtt.FormatJSON, mqtt.FormatBinary} {
		t.Run(string(format), func(t *testing.T) {
			n := newNode(t, 1, format, "START1")
			for _, car := range logic.Cars {
				n.pass(t, 0, car.Frequency, 100*time.Millisecond)
			}

			if len(n.publisher.Events) != len(logic.Cars) {
				t.Fatalf("expected %d detections, got %d", len(logic.Cars), len(n.publisher.Events))
			}

			var out bytes.Buffer
			r := relay.New(&out, func() time.Time { return startTime })
			relayAll(t, r, n.publisher)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if len(lines) != len(logic.Cars) {
				t.Fatalf("expected %d lines, got %q", len(logic.Cars), out.String())
			}
			for i, car := range logic.Cars {
				prefix := "N1:START1:Car" + string(rune('0'+car.Number)) + ":"
				if !strings.HasPrefix(lines[i], prefix) {
					t.Errorf("line %d: got %q, want prefix %q", i, lines[i], prefix)
				}
			}

			counts := n.detector.CountsSnapshot()
			if counts.Total() != len(logic.Cars) || counts.Unknown != 0 {
				t.Errorf("unexpected counts: %+v", counts)
			}
		})
	}
}

func TestIntegrationShortBurstIsNotIdentified(t *testing.T) {
	n := newNode(t, 1, mqtt.FormatJSON, "START1")

	// About 5 pulses: too few to identify.
	n.pass(t, 0, 3700, 1500*time.Microsecond)

	if len(n.publisher.Events) != 0 {
		t.Errorf("expected no detections, got %+v", n.publisher.Events)
	}
	if got := n.detector.CountsSnapshot().Unknown; got != 1 {
		t.Errorf("unknown count: got %d, want 1", got)
	}
}

func TestIntegrationTwoNodesFourSensors(t *testing.T) {
	a := newNode(t, 1, mqtt.FormatJSON, "START1", "START2")
	b := newNode(t, 2, mqtt.FormatBinary, "PIT_IN", "PIT_OUT")

	a.pass(t, 0, 4400, 80*time.Millisecond)
	a.pass(t, 1, 2800, 80*time.Millisecond)
	b.pass(t, 0, 5500, 80*time.Millisecond)
	b.pass(t, 1, 2400, 80*time.Millisecond)

	var out bytes.Buffer
	r := relay.New(&out, func() time.Time { return startTime })
	relayAll(t, r, a.publisher, b.publisher)

	for _, want := range []string{"N1:START1:Car2:", "N1:START2:Car5:", "N2:PIT_IN:Car1:", "N2:PIT_OUT:Car6:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	children := r.Children()
	if len(children) != 2 || children[0].Detections != 2 || children[1].Detections != 2 {
		t.Errorf("unexpected children: %+v", children)
	}
}

func TestIntegrationStatusSnapshotThroughRelay(t *testing.T) {
	n := newNode(t, 3, mqtt.FormatJSON, "START1")
	n.pass(t, 0, 3100, 100*time.Millisecond)

	snap := n.tracker.Snapshot()
	shutdown := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "SHUTDOWN",
		Reason:     "SIGTERM",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"),
	}
	if err := n.publisher.PublishSystem(shutdown); err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(n.publisher.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Node != 3 || parsed.Status.Counts.Cars["4"] != 1 {
		t.Errorf("unexpected snapshot: %+v", parsed.Status)
	}
	if parsed.Status.Sensors[0].LastDetection == nil || parsed.Status.Sensors[0].LastDetection.Car != 4 {
		t.Errorf("unexpected last detection: %+v", parsed.Status.Sensors[0].LastDetection)
	}

	var out bytes.Buffer
	r := relay.New(&out, func() time.Time { return startTime })
	relayAll(t, r, n.publisher)
	if err := r.Handle(mqtt.Message{Topic: mqtt.TopicSystem(3), Payload: n.publisher.SystemPayloads[0]}); err != nil {
		t.Fatalf("relay system: %v", err)
	}
	if children := r.Children(); len(children) != 1 || children[0].Online {
		t.Errorf("expected node 3 offline, got %+v", children)
	}
}
