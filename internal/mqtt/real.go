package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/scalextric-sensor/internal/logger"
	"github.com/sweeney/scalextric-sensor/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
	retryInterval  = 5 * time.Second
	closeTimeout   = 2 * time.Second
)

// errPublishTimeout marks a publish the broker has not acknowledged in time.
// The client still owns the message and keeps retrying it.
var errPublishTimeout = errors.New("publish timeout")

// PublisherOptions configures a RealPublisher.
type PublisherOptions struct {
	Broker     string
	NodeID     int
	Format     Format
	BufferSize int // outbox capacity, DefaultBufferSize if <= 0
}

// RealPublisher publishes to an actual MQTT broker. Publish and
// PublishSystem only queue the message; a background drainer does the
// acknowledged QoS 1 publish. Messages queued while the broker is
// unreachable are replayed, in order, when the connection comes back.
type RealPublisher struct {
	client  paho.Client
	node    int
	format  Format
	log     *logger.Logger
	timeout time.Duration

	mu     sync.Mutex
	outbox *outbox

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewRealPublisher creates a publisher for the given node. A broker that is
// not reachable within the connect timeout is not fatal: the client keeps
// retrying in the background and messages are buffered until it connects.
func NewRealPublisher(opts PublisherOptions) (*RealPublisher, error) {
	if opts.Format == "" {
		opts.Format = FormatJSON
	}
	p := newRealPublisher(opts.NodeID, opts.Format, opts.BufferSize)

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(fmt.Sprintf("scalextric-child-%d", opts.NodeID)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetWill(TopicSystem(opts.NodeID), string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			p.log.Info().Str("broker", opts.Broker).Msg("connected")
			p.notify()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn().Err(err).Msg("connection lost")
		})

	p.client = paho.NewClient(clientOpts)
	go p.run()

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.Warn().Str("broker", opts.Broker).Msg("broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		p.shutdown(0)
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func newRealPublisher(node int, format Format, bufferSize int) *RealPublisher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &RealPublisher{
		node:    node,
		format:  format,
		log:     logger.Named("mqtt"),
		timeout: publishTimeout,
		outbox:  newOutbox(bufferSize),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Publish queues a car detection for the node's events topic. It never
// waits on the broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := Encode(NewDetection(p.node, event), p.format)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	p.enqueue(pending{topic: Topic(p.node), payload: payload, qos: 1})
	return nil
}

// PublishSystem queues a system lifecycle event for the node's system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	p.enqueue(pending{topic: TopicSystem(p.node), payload: payload, qos: 1, retained: event.Retained})
	return nil
}

func (p *RealPublisher) enqueue(m pending) {
	p.mu.Lock()
	p.outbox.push(m)
	n := p.outbox.len()
	p.mu.Unlock()
	p.log.Debug().Str("topic", m.topic).Int("queued", n).Msg("message queued")
	p.notify()
}

func (p *RealPublisher) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// run is the drainer. It publishes queued messages whenever it is woken by
// a new message or a (re)connect, and drains once more on Close.
func (p *RealPublisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.drain(time.Time{})
		case <-p.stop:
			p.drain(time.Now().Add(closeTimeout))
			return
		}
	}
}

// drain publishes queued messages oldest first until the outbox is empty,
// the connection drops, or the deadline passes. A message whose publish
// failed goes back to the head of the queue for the next connect. A message
// that timed out is not queued again: the client still holds it and will
// deliver it, and a second copy would show up twice at the parent (binary
// frames carry no message id to dedupe on).
func (p *RealPublisher) drain(deadline time.Time) {
	for p.client.IsConnectionOpen() {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return
		}
		p.mu.Lock()
		m, ok := p.outbox.pop()
		p.mu.Unlock()
		if !ok {
			return
		}

		err := p.publish(m)
		switch {
		case err == nil:
		case errors.Is(err, errPublishTimeout):
			p.log.Warn().Err(err).Str("topic", m.topic).Msg("publish not acknowledged, left to client")
		default:
			p.log.Warn().Err(err).Str("topic", m.topic).Msg("publish failed, requeued")
			p.mu.Lock()
			p.outbox.unshift(m)
			p.mu.Unlock()
			return
		}
	}
}

func (p *RealPublisher) publish(m pending) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: %w", m.topic, errPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", m.topic, err)
	}
	return nil
}

// Buffered returns the number of messages waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbox.len()
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close gives the drainer a short window to flush queued messages, then
// disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.shutdown(1000)
	return nil
}

func (p *RealPublisher) shutdown(quiesce uint) {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
		p.client.Disconnect(quiesce)
	})
}
