package bus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindNATS   = "nats"
	KindRedis  = "redis"
	KindMQTT   = "mqtt"
)

// BrokerConfig selects and configures a backend.
type BrokerConfig struct {
	Kind     string
	Host     string
	Port     int
	Username string
	Password string

	// ClientID names this connection at the broker.
	ClientID string

	ConnectTimeout time.Duration
	BufferSize     int
}

// Addr returns host:port.
func (c BrokerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Open connects to the configured backend. A memory bus is private to the
// returned value, which only makes sense for a single-device run.
func Open(ctx context.Context, cfg BrokerConfig) (MessageBus, error) {
	base := Config{BufferSize: cfg.BufferSize}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	switch cfg.Kind {
	case KindMemory:
		return NewMemoryBus(base), nil

	case KindNATS:
		nc := DefaultNATSConfig()
		nc.Config = base
		nc.URL = "nats://" + cfg.Addr()
		nc.Name = cfg.ClientID
		nc.User = cfg.Username
		nc.Password = cfg.Password
		nc.ConnectTimeout = timeout
		return NewNATSBus(nc)

	case KindRedis:
		rc := DefaultRedisConfig()
		rc.Config = base
		rc.Addr = cfg.Addr()
		rc.Password = cfg.Password
		rc.DialTimeout = timeout
		return NewRedisBus(ctx, rc)

	case KindMQTT:
		mc := DefaultMQTTConfig()
		mc.Config = base
		mc.Broker = "tcp://" + cfg.Addr()
		mc.ClientID = cfg.ClientID
		mc.Username = cfg.Username
		mc.Password = cfg.Password
		mc.ConnectTimeout = timeout
		return NewMQTTBus(mc)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
	}
}
