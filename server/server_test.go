package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/broadcast"
	"github.com/vinayprograms/podium/command"
	"github.com/vinayprograms/podium/errors"
	"github.com/vinayprograms/podium/failover"
	"github.com/vinayprograms/podium/journal"
	"github.com/vinayprograms/podium/registry"
	"github.com/vinayprograms/podium/session"
)

type fakeDevice struct {
	hub *broadcast.Hub

	mu           sync.Mutex
	submitted    []command.Request
	disconnected []string
	entries      []journal.Entry
	journalErr   error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{hub: broadcast.NewHub(8, nil)}
}

func (f *fakeDevice) view() broadcast.View {
	return broadcast.View{
		State:  session.New(30, 600),
		Device: broadcast.DeviceInfo{ID: "main-1", Role: "MAIN", Active: true, FailoverState: "ACTIVE"},
	}
}

func (f *fakeDevice) Connect(_ context.Context, id string, grant auth.Grant, remote string) (*broadcast.Client, error) {
	c, err := f.hub.Add(id, grant, remote)
	if err != nil {
		return nil, err
	}
	f.hub.SendTo(id, broadcast.FrameState, f.view())
	return c, nil
}

func (f *fakeDevice) Disconnect(id string) {
	f.hub.Remove(id)
	f.mu.Lock()
	f.disconnected = append(f.disconnected, id)
	f.mu.Unlock()
}

func (f *fakeDevice) Submit(_ context.Context, req command.Request) command.Result {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	f.mu.Unlock()
	return command.Result{OK: true, Type: "next_slide", Sequence: 1}
}

func (f *fakeDevice) View() broadcast.View { return f.view() }

func (f *fakeDevice) Devices() []registry.DeviceRecord {
	return []registry.DeviceRecord{{DeviceID: "main-1", Role: failover.RoleMain, IsActive: true}}
}

func (f *fakeDevice) Journal(_ context.Context, limit int) ([]journal.Entry, error) {
	if f.journalErr != nil {
		return nil, f.journalErr
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type denyAll struct{}

func (denyAll) Authorize(*http.Request) (auth.Grant, error) {
	return auth.Grant{}, errors.Unauthorized("no")
}

type noView struct{}

func (noView) Authorize(*http.Request) (auth.Grant, error) {
	return auth.Grant{Subject: "x", Capabilities: []auth.Capability{auth.CapControlTimer}}, nil
}

func TestServer_HTTPRoutes(t *testing.T) {
	dev := newFakeDevice()
	dev.entries = []journal.Entry{
		{ID: "1", Kind: journal.KindTransition, To: "ACTIVE"},
		{ID: "2", Kind: journal.KindTransition, To: "PROMOTING"},
	}
	s := New(Dependencies{Device: dev})

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"healthz", "/healthz", http.StatusOK, `"status":"ok"`},
		{"state", "/api/state", http.StatusOK, `"total_slides":30`},
		{"devices", "/api/devices", http.StatusOK, `"device_id":"main-1"`},
		{"journal", "/api/journal?limit=1", http.StatusOK, `"to":"ACTIVE"`},
		{"journal bad limit", "/api/journal?limit=abc", http.StatusBadRequest, `"INVALID_INPUT"`},
		{"journal zero limit", "/api/journal?limit=0", http.StatusBadRequest, `"INVALID_INPUT"`},
		{"unknown", "/api/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestServer_JournalLimit(t *testing.T) {
	dev := newFakeDevice()
	dev.entries = []journal.Entry{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	s := New(Dependencies{Device: dev})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal?limit=2", nil))
	var got []journal.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestServer_JournalError(t *testing.T) {
	dev := newFakeDevice()
	dev.journalErr = journal.ErrClosed
	s := New(Dependencies{Device: dev})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/journal", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServer_Authorization(t *testing.T) {
	tests := []struct {
		name       string
		authz      auth.Authorizer
		path       string
		wantStatus int
	}{
		{"denied state", denyAll{}, "/api/state", http.StatusUnauthorized},
		{"denied ws", denyAll{}, "/ws", http.StatusUnauthorized},
		{"no view", noView{}, "/api/devices", http.StatusForbidden},
		{"healthz is public", denyAll{}, "/healthz", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Dependencies{Device: newFakeDevice(), Authorizer: tt.authz})
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_JWTAuthorization(t *testing.T) {
	authz, err := auth.NewJWTAuthorizer(auth.JWTConfig{Secret: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("NewJWTAuthorizer: %v", err)
	}
	token, err := authz.Issue("alice", []string{auth.RoleViewer}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	s := New(Dependencies{Device: newFakeDevice(), Authorizer: authz})

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", rec.Code)
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

func TestServer_WebSocket(t *testing.T) {
	dev := newFakeDevice()
	s := New(Dependencies{Device: dev})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	defer s.Shutdown(context.Background())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	frame := readFrame(t, ws)
	if string(frame["type"]) != `"state"` {
		t.Errorf("first frame type = %s, want state", frame["type"])
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"next_slide"}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	frame = readFrame(t, ws)
	if string(frame["type"]) != `"result"` {
		t.Errorf("reply type = %s, want result", frame["type"])
	}
	var res command.Result
	if err := json.Unmarshal(frame["data"], &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.OK || res.Sequence != 1 {
		t.Errorf("result = %+v", res)
	}

	dev.mu.Lock()
	if len(dev.submitted) != 1 || string(dev.submitted[0].Raw) != `{"type":"next_slide"}` {
		t.Errorf("submitted = %+v", dev.submitted)
	}
	dev.mu.Unlock()

	ws.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dev.mu.Lock()
		n := len(dev.disconnected)
		dev.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("client was not disconnected after the socket closed")
}
