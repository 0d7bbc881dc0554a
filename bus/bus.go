package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrInvalidSubject = errors.New("invalid subject")
	ErrUnknownKind    = errors.New("unknown bus kind")
)

// Message is a payload received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// MessageBus is a fan-out publish/subscribe channel. Every subscriber of a
// subject receives every message published to it, including its own.
type MessageBus interface {
	// Publish sends data to all subscribers of subject.
	Publish(subject string, data []byte) error

	// Subscribe starts receiving messages published to subject.
	Subscribe(subject string) (Subscription, error)

	// Close shuts down the connection. Subscriptions stop receiving; whether
	// their channels are closed depends on the backend.
	Close() error
}

// Subscription is an active subscription.
type Subscription interface {
	// Messages returns the delivery channel. It is closed when the
	// subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription. Safe to call more than once.
	Unsubscribe() error
}

// Config holds settings common to all backends.
type Config struct {
	// BufferSize of each subscription channel. When a subscriber falls
	// this far behind, new messages are dropped. Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject rejects empty subjects and subjects containing wildcard
// tokens of any supported broker, so one subject string works on all of them.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	if strings.ContainsAny(subject, " \t\r\n*>#+") {
		return ErrInvalidSubject
	}
	return nil
}

// Topics names the subjects a deployment uses, derived from one prefix.
type Topics struct {
	Heartbeat string
	Failover  string
}

// DefaultPrefix is the topic namespace used when none is configured.
const DefaultPrefix = "conference/"

// NewTopics builds the topic set under prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Heartbeat: prefix + "heartbeat",
		Failover:  prefix + "failover",
	}
}
