package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisBus implements MessageBus with Redis PUBLISH/SUBSCRIBE.
type RedisBus struct {
	client *redis.Client
	config RedisConfig
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Config

	// Addr is host:port of the Redis server.
	Addr     string
	Password string
	DB       int

	// DialTimeout for new connections.
	DialTimeout time.Duration
}

// DefaultRedisConfig returns configuration with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Config:      DefaultConfig(),
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
	}
}

// NewRedisBus connects to Redis and verifies the connection with PING.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{client: client, config: cfg}, nil
}

// Publish sends data to the channel named subject.
func (b *RedisBus) Publish(subject string, data []byte) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.config.DialTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, subject, data).Err(); err != nil {
		if err == redis.ErrClosed {
			return ErrClosed
		}
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe creates a subscription to the channel named subject. It returns
// once Redis has confirmed the subscription.
func (b *RedisBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.config.DialTimeout)
	defer cancel()

	ps := b.client.Subscribe(ctx, subject)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		if err == redis.ErrClosed {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	s := &redisSubscription{
		ps:   ps,
		ch:   make(chan *Message, b.config.BufferSize),
		done: make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

// Close closes the client and all its pub/sub connections.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	ps   *redis.PubSub
	ch   chan *Message
	done chan struct{}
	once sync.Once
}

// pump forwards messages until the PubSub is closed, then closes ch.
func (s *redisSubscription) pump() {
	defer close(s.done)
	defer close(s.ch)
	for m := range s.ps.Channel() {
		select {
		case s.ch <- &Message{Subject: m.Channel, Data: []byte(m.Payload)}:
		default:
		}
	}
}

func (s *redisSubscription) Messages() <-chan *Message {
	return s.ch
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	if err != nil {
		return fmt.Errorf("redis unsubscribe: %w", err)
	}
	return nil
}
