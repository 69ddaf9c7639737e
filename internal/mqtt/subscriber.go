package mqtt

import (
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/scalextric-sensor/internal/logger"
)

// Message is an inbound message from any node.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives inbound messages. It is called from the MQTT client's
// goroutine and should hand work off quickly.
type Handler func(Message)

// RealSubscriber listens to every node's events and system topics.
type RealSubscriber struct {
	client paho.Client
}

// NewRealSubscriber connects to the broker and subscribes to both wildcards.
// Subscriptions are renewed on every reconnect.
func NewRealSubscriber(broker, clientID string, handler Handler) (*RealSubscriber, error) {
	log := logger.Named("mqtt")
	filters := map[string]byte{EventsWildcard: 1, SystemWildcard: 1}

	onMessage := func(_ paho.Client, m paho.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload()})
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetOnConnectHandler(func(c paho.Client) {
			token := c.SubscribeMultiple(filters, onMessage)
			if !token.WaitTimeout(publishTimeout) {
				log.Error().Msg("subscribe timeout")
				return
			}
			if err := token.Error(); err != nil {
				log.Error().Err(err).Msg("subscribe failed")
				return
			}
			log.Info().Str("broker", broker).Msg("subscribed to node topics")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("connection lost")
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn().Str("broker", broker).Msg("broker not reachable yet, retrying in background")
		return &RealSubscriber{client: client}, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return &RealSubscriber{client: client}, nil
}

// IsConnected reports whether the broker connection is currently open.
func (s *RealSubscriber) IsConnected() bool {
	return s.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (s *RealSubscriber) Close() error {
	s.client.Disconnect(1000)
	return nil
}
