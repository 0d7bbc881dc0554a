package broadcast

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vinayprograms/podium/auth"
	"github.com/vinayprograms/podium/health"
	"github.com/vinayprograms/podium/registry"
	"github.com/vinayprograms/podium/session"
)

var viewer = auth.Grant{Subject: "v", Capabilities: []auth.Capability{auth.CapView}}

func testView(seq uint64) View {
	st := session.New(30, 600)
	st.Sequence = seq
	return View{
		State:        st,
		DeviceStatus: map[string]registry.Status{"main": registry.StatusOnline, "backup": registry.StatusUnknown},
		SystemHealth: map[string]health.Level{"cpu": health.LevelOK},
		Device:       DeviceInfo{ID: "main-1", Role: "MAIN", Active: true, FailoverState: "ACTIVE"},
	}
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case f := <-c.Messages():
		return f
	default:
		t.Fatalf("client %s has no queued frame", c.ID)
		return nil
	}
}

func TestHub_BroadcastIdenticalBytes(t *testing.T) {
	h := NewHub(4, nil)
	a, _ := h.Add("a", viewer, "10.0.0.1")
	b, _ := h.Add("b", viewer, "10.0.0.2")

	n, err := h.Broadcast(testView(3))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	fa, fb := recv(t, a), recv(t, b)
	if !bytes.Equal(fa, fb) {
		t.Errorf("clients received different frames:\n%s\n%s", fa, fb)
	}

	var frame struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(fa, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != FrameState {
		t.Errorf("type = %q, want state", frame.Type)
	}
	for _, key := range []string{"timer_seconds", "current_slide", "sequence", "device_status", "system_health", "device", "connected_clients"} {
		if _, ok := frame.Data[key]; !ok {
			t.Errorf("state frame missing %q", key)
		}
	}
}

func TestHub_DropOldest(t *testing.T) {
	h := NewHub(2, nil)
	c, _ := h.Add("slow", viewer, "")

	for seq := uint64(1); seq <= 5; seq++ {
		h.Broadcast(testView(seq))
	}
	if c.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", c.Dropped())
	}

	var got []uint64
	for i := 0; i < 2; i++ {
		var f struct {
			Data struct {
				Sequence uint64 `json:"sequence"`
			} `json:"data"`
		}
		json.Unmarshal(recv(t, c), &f)
		got = append(got, f.Data.Sequence)
	}
	if got[0] != 4 || got[1] != 5 {
		t.Errorf("kept sequences = %v, want [4 5]", got)
	}
}

func TestHub_RemoveIdempotent(t *testing.T) {
	h := NewHub(2, nil)
	c, _ := h.Add("a", viewer, "")

	if !h.Remove("a") {
		t.Error("first Remove should report true")
	}
	if h.Remove("a") {
		t.Error("second Remove should report false")
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after Remove")
	}
	if c.Send([]byte("x")) {
		t.Error("Send after Remove should fail")
	}
	if h.Count() != 0 {
		t.Errorf("Count() = %d, want 0", h.Count())
	}
}

func TestHub_AddDuplicate(t *testing.T) {
	h := NewHub(2, nil)
	h.Add("a", viewer, "")
	if _, err := h.Add("a", viewer, ""); !errors.Is(err, ErrDuplicateClient) {
		t.Errorf("Add duplicate = %v, want ErrDuplicateClient", err)
	}
}

func TestHub_SendTo(t *testing.T) {
	h := NewHub(2, nil)
	a, _ := h.Add("a", viewer, "")
	b, _ := h.Add("b", viewer, "")

	if err := h.SendTo("a", FrameResult, map[string]interface{}{"ok": true}); err != nil {
		t.Fatalf("SendTo: %v", err)
	}
	if f := recv(t, a); !bytes.Contains(f, []byte(`"type":"result"`)) {
		t.Errorf("frame = %s", f)
	}
	select {
	case <-b.Messages():
		t.Error("result leaked to another client")
	default:
	}
	if err := h.SendTo("nobody", FrameResult, nil); !errors.Is(err, ErrUnknownClient) {
		t.Errorf("SendTo unknown = %v", err)
	}
}

func TestHub_Close(t *testing.T) {
	h := NewHub(2, nil)
	c, _ := h.Add("a", viewer, "")
	h.Close()

	select {
	case <-c.Done():
	default:
		t.Error("client not closed")
	}
	if _, err := h.Add("b", viewer, ""); !errors.Is(err, ErrHubClosed) {
		t.Errorf("Add after Close = %v", err)
	}
	if ids := h.IDs(); len(ids) != 0 {
		t.Errorf("IDs() = %v", ids)
	}
}
