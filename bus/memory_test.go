package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"conference/heartbeat", false},
		{"heartbeat.main", false},
		{"", true},
		{"conference/#", true},
		{"conference/+/x", true},
		{"foo.*", true},
		{"foo.>", true},
		{"has space", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
	}
}

func TestNewTopics(t *testing.T) {
	got := NewTopics("")
	if got.Heartbeat != "conference/heartbeat" || got.Failover != "conference/failover" {
		t.Errorf("NewTopics(\"\") = %+v", got)
	}
	got = NewTopics("room2/")
	if got.Heartbeat != "room2/heartbeat" {
		t.Errorf("Heartbeat = %q", got.Heartbeat)
	}
}

func TestMemoryBus_PublishInvalidSubject(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if err := bus.Publish("", []byte("hello")); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestMemoryBus_FanOut(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub1, _ := bus.Subscribe("test")
	sub2, _ := bus.Subscribe("test")
	other, _ := bus.Subscribe("other")
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()
	defer other.Unsubscribe()

	bus.Publish("test", []byte("hello"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case msg := <-sub.Messages():
			if string(msg.Data) != "hello" || msg.Subject != "test" {
				t.Errorf("sub%d: got %q on %q", i+1, msg.Data, msg.Subject)
			}
		case <-time.After(time.Second):
			t.Errorf("sub%d: timeout", i+1)
		}
	}

	select {
	case msg := <-other.Messages():
		t.Errorf("other subject received %q", msg.Data)
	default:
	}
}

func TestMemoryBus_PayloadCopied(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("test")
	data := []byte("abc")
	bus.Publish("test", data)
	data[0] = 'X'

	msg := <-sub.Messages()
	if string(msg.Data) != "abc" {
		t.Errorf("data = %q, publisher mutation leaked", msg.Data)
	}
}

func TestMemoryBus_DropsWhenFull(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 2})
	defer bus.Close()

	sub, _ := bus.Subscribe("test")
	for i := 0; i < 5; i++ {
		if err := bus.Publish("test", []byte{byte(i)}); err != nil {
			t.Fatalf("Publish blocked or failed: %v", err)
		}
	}
	if n := len(sub.Messages()); n != 2 {
		t.Errorf("buffered = %d, want 2", n)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("test")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed")
	}
	if err := bus.Publish("test", []byte("x")); err != nil {
		t.Errorf("Publish after unsubscribe: %v", err)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	sub, _ := bus.Subscribe("test")

	bus.Close()
	bus.Close()

	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed after bus Close")
	}
	if err := bus.Publish("test", nil); err != ErrClosed {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := bus.Subscribe("test"); err != ErrClosed {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe after close: %v", err)
	}
}

func TestMemoryBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1})
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, _ := bus.Subscribe("race")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish("race", []byte("x"))
			}
		}()
		go func(s Subscription) {
			defer wg.Done()
			s.Unsubscribe()
		}(sub)
	}
	wg.Wait()
}

func TestOpen(t *testing.T) {
	b, err := Open(context.Background(), BrokerConfig{Kind: KindMemory})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	b.Close()

	_, err = Open(context.Background(), BrokerConfig{Kind: "carrier-pigeon"})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Open(unknown) = %v, want ErrUnknownKind", err)
	}
}

func TestBrokerConfig_Addr(t *testing.T) {
	c := BrokerConfig{Host: "broker.local", Port: 1883}
	if c.Addr() != "broker.local:1883" {
		t.Errorf("Addr() = %q", c.Addr())
	}
}
