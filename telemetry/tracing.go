// OpenTelemetry tracing for command handling and failover transitions.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with podium-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include command payloads in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NewNoopTracer()
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewNoopTracer returns a tracer that records nothing.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// NewTracerFrom wraps an existing provider, mostly for tests with an
// in-memory exporter.
func NewTracerFrom(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// SetDebug enables or disables debug mode.
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Command Spans ---

// CommandSpanOptions describes one handled client command.
type CommandSpanOptions struct {
	Type     string
	ClientID string
	DeviceID string
	Code     string // error code when rejected
	Changed  bool
	Sequence uint64
	Payload  string // Only included if debug=true
}

// StartCommandSpan starts a span for a client command.
func (t *Tracer) StartCommandSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "command.apply", trace.WithSpanKind(trace.SpanKindServer))
}

// EndCommandSpan ends a command span with attributes.
func (t *Tracer) EndCommandSpan(span trace.Span, opts CommandSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("command.type", opts.Type),
		attribute.String("command.client", opts.ClientID),
		attribute.String("device.id", opts.DeviceID),
		attribute.Bool("session.changed", opts.Changed),
		attribute.Int64("session.sequence", int64(opts.Sequence)),
	}
	if opts.Code != "" {
		attrs = append(attrs, attribute.String("command.error_code", opts.Code))
	}
	if t.debug && opts.Payload != "" {
		attrs = append(attrs, attribute.String("command.payload", truncate(opts.Payload, 2000)))
	}
	span.SetAttributes(attrs...)
	endWithStatus(span, err)
}

// --- Failover Spans ---

// TransitionSpanOptions describes one failover state change.
type TransitionSpanOptions struct {
	DeviceID string
	Role     string
	From     string
	To       string
	Reason   string
	Effects  []string
}

// RecordTransition emits a zero-length span for a state change. Transitions
// are instantaneous from the loop's point of view.
func (t *Tracer) RecordTransition(ctx context.Context, opts TransitionSpanOptions) {
	_, span := t.tracer.Start(ctx, "failover.transition", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("device.id", opts.DeviceID),
		attribute.String("device.role", opts.Role),
		attribute.String("failover.from", opts.From),
		attribute.String("failover.to", opts.To),
		attribute.String("failover.reason", opts.Reason),
		attribute.StringSlice("failover.effects", opts.Effects),
	)
	span.SetStatus(codes.Ok, "")
	span.End()
}

func endWithStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
