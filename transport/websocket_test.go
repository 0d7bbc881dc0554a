package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeQueue struct {
	msgs chan []byte
	done chan struct{}
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{msgs: make(chan []byte, 8), done: make(chan struct{})}
}

func (q *fakeQueue) Messages() <-chan []byte { return q.msgs }
func (q *fakeQueue) Done() <-chan struct{}   { return q.done }

func TestDefaultConnConfig(t *testing.T) {
	cfg := DefaultConnConfig()
	if cfg.MaxMessageSize != 64*1024 {
		t.Errorf("MaxMessageSize = %d, want 64KiB", cfg.MaxMessageSize)
	}
	if cfg.PingInterval >= cfg.ReadTimeout {
		t.Errorf("PingInterval %v should be below ReadTimeout %v", cfg.PingInterval, cfg.ReadTimeout)
	}
}

// startServer runs a Conn behind an httptest server and dials it.
func startServer(t *testing.T, q *fakeQueue, inbound chan<- string) (*websocket.Conn, <-chan error) {
	t.Helper()
	upgrader := NewUpgrader(nil)
	errc := make(chan error, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		conn := NewConn(ws, q, DefaultConnConfig())
		errc <- conn.Run(context.Background(), func(_ context.Context, raw []byte) {
			inbound <- string(raw)
		})
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, errc
}

func TestConn_RoundTrip(t *testing.T) {
	q := newFakeQueue()
	inbound := make(chan string, 4)
	client, _ := startServer(t, q, inbound)

	q.msgs <- []byte(`{"type":"state","data":{"sequence":1}}`)
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !strings.Contains(string(data), `"sequence":1`) {
		t.Errorf("client received %s", data)
	}

	client.WriteMessage(websocket.TextMessage, []byte(`{"type":"slide_control","data":{"command":"next"}}`))
	select {
	case got := <-inbound:
		if !strings.Contains(got, "slide_control") {
			t.Errorf("handler got %s", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestConn_ClosesWhenQueueDone(t *testing.T) {
	q := newFakeQueue()
	client, errc := startServer(t, q, make(chan string, 1))

	q.msgs <- []byte(`{"type":"state"}`)
	close(q.done)

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := client.ReadMessage(); err != nil {
		t.Fatalf("queued frame not drained: %v", err)
	}
	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestConn_PeerClose(t *testing.T) {
	q := newFakeQueue()
	client, errc := startServer(t, q, make(chan string, 1))

	client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after peer close")
	}
}
