package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(debug bool) (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerFrom(tp, "test", debug), rec
}

func attrMap(s sdktrace.ReadOnlySpan) map[string]string {
	out := make(map[string]string)
	for _, kv := range s.Attributes() {
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func TestGetTracer_DefaultsToNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	if tr == nil {
		t.Fatal("GetTracer() returned nil")
	}
	// Should not panic
	_, span := tr.StartCommandSpan(context.Background())
	tr.EndCommandSpan(span, CommandSpanOptions{Type: "slide_control"}, nil)
}

func TestCommandSpan(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	_, span := tr.StartCommandSpan(context.Background())
	tr.EndCommandSpan(span, CommandSpanOptions{
		Type:     "slide_control",
		ClientID: "c1",
		DeviceID: "main-1",
		Changed:  true,
		Sequence: 7,
		Payload:  `{"command":"next"}`,
	}, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	s := spans[0]
	if s.Name() != "command.apply" {
		t.Errorf("Name() = %q, want command.apply", s.Name())
	}
	attrs := attrMap(s)
	if attrs["command.type"] != "slide_control" || attrs["session.sequence"] != "7" {
		t.Errorf("attributes = %v", attrs)
	}
	if _, ok := attrs["command.payload"]; ok {
		t.Error("payload recorded without debug")
	}
	if s.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", s.Status().Code)
	}
}

func TestCommandSpan_ErrorAndDebug(t *testing.T) {
	tr, rec := newRecordingTracer(true)

	_, span := tr.StartCommandSpan(context.Background())
	tr.EndCommandSpan(span, CommandSpanOptions{Type: "timer_control", Code: "NOT_ACTIVE", Payload: "{}"}, errors.New("not active"))

	s := rec.Ended()[0]
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", s.Status().Code)
	}
	attrs := attrMap(s)
	if attrs["command.error_code"] != "NOT_ACTIVE" {
		t.Errorf("error code attr = %q", attrs["command.error_code"])
	}
	if attrs["command.payload"] != "{}" {
		t.Errorf("payload attr = %q", attrs["command.payload"])
	}
}

func TestRecordTransition(t *testing.T) {
	tr, rec := newRecordingTracer(false)
	tr.RecordTransition(context.Background(), TransitionSpanOptions{
		DeviceID: "backup-1", Role: "BACKUP", From: "STANDBY", To: "PROMOTING",
		Reason: "peer_timeout", Effects: []string{"adopt_latest"},
	})

	spans := rec.Ended()
	if len(spans) != 1 || spans[0].Name() != "failover.transition" {
		t.Fatalf("spans = %v", spans)
	}
	if got := attrMap(spans[0])["failover.to"]; got != "PROMOTING" {
		t.Errorf("failover.to = %q, want PROMOTING", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is longer", 4, "this..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if _, err := InitProvider(context.Background(), ProviderConfig{}); err == nil {
		t.Error("expected error without endpoint")
	}
}

func TestInitProvider_UnknownProtocol(t *testing.T) {
	if _, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4318", Protocol: "carrier-pigeon"}); err == nil {
		t.Error("expected error for unknown protocol")
	}
}
