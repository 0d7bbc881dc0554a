package bus

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTBus implements MessageBus over an MQTT broker.
type MQTTBus struct {
	client mqtt.Client
	config MQTTConfig
}

// MQTTConfig holds MQTT connection configuration.
type MQTTConfig struct {
	Config

	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker   string
	ClientID string
	Username string
	Password string

	// QoS for publishes and subscriptions. Heartbeats tolerate loss, so 0 is
	// acceptable; handoffs prefer 1.
	QoS byte

	// ConnectTimeout bounds connect, publish and subscribe acknowledgements.
	ConnectTimeout time.Duration

	// KeepAlive is the MQTT keepalive interval.
	KeepAlive time.Duration
}

// DefaultMQTTConfig returns configuration with sensible defaults.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Config:         DefaultConfig(),
		Broker:         "tcp://localhost:1883",
		QoS:            1,
		ConnectTimeout: 5 * time.Second,
		KeepAlive:      30 * time.Second,
	}
}

// NewMQTTBus connects to the broker. The client reconnects automatically
// after the initial connection succeeds.
func NewMQTTBus(cfg MQTTConfig) (*MQTTBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultMQTTConfig().ConnectTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetKeepAlive(cfg.KeepAlive).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect: timed out after %s", cfg.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTTBus{client: client, config: cfg}, nil
}

// Publish sends data to the topic named subject and waits for the broker
// acknowledgement.
func (b *MQTTBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	if !b.client.IsConnectionOpen() {
		return ErrClosed
	}
	tok := b.client.Publish(subject, b.config.QoS, false, data)
	if !tok.WaitTimeout(b.config.ConnectTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out", subject)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription to the topic named subject. MQTT keeps
// one handler per topic per client, so a second Subscribe to the same
// subject replaces the first.
func (b *MQTTBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if !b.client.IsConnectionOpen() {
		return nil, ErrClosed
	}

	s := &mqttSubscription{
		client:  b.client,
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
	}
	tok := b.client.Subscribe(subject, b.config.QoS, func(_ mqtt.Client, m mqtt.Message) {
		s.deliver(&Message{Subject: m.Topic(), Data: m.Payload()})
	})
	if !tok.WaitTimeout(b.config.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt subscribe %s: timed out", subject)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt subscribe: %w", err)
	}
	return s, nil
}

// Close disconnects, giving in-flight work 250ms to finish.
func (b *MQTTBus) Close() error {
	b.client.Disconnect(250)
	return nil
}

type mqttSubscription struct {
	client  mqtt.Client
	subject string

	mu     sync.Mutex
	ch     chan *Message
	closed bool
}

func (s *mqttSubscription) deliver(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *mqttSubscription) Messages() <-chan *Message {
	return s.ch
}

func (s *mqttSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	if !s.client.IsConnectionOpen() {
		return nil
	}
	tok := s.client.Unsubscribe(s.subject)
	tok.Wait()
	return tok.Error()
}
