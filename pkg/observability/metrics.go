package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type instruments struct {
	messagesInserted otelmetric.Int64Counter
	responderCalls   otelmetric.Int64Counter
	responderLatency otelmetric.Float64Histogram
	activeSessions   otelmetric.Int64UpDownCounter
}

var (
	instMu sync.Mutex
	inst   *instruments
)

func resetInstruments() {
	instMu.Lock()
	inst = nil
	instMu.Unlock()
}

// Instrument creation errors leave a nil instrument, which the record helpers skip.
func get() *instruments {
	instMu.Lock()
	defer instMu.Unlock()
	if inst != nil {
		return inst
	}

	meter := otel.Meter(instrumentationName)
	i := &instruments{}
	i.messagesInserted, _ = meter.Int64Counter("chat_messages_inserted_total",
		otelmetric.WithDescription("Messages written to the chat log"))
	i.responderCalls, _ = meter.Int64Counter("chat_responder_calls_total",
		otelmetric.WithDescription("Calls made to inference responders"))
	i.responderLatency, _ = meter.Float64Histogram("chat_responder_duration_seconds",
		otelmetric.WithDescription("Latency of inference responder calls"),
		otelmetric.WithUnit("s"))
	i.activeSessions, _ = meter.Int64UpDownCounter("chat_active_sessions",
		otelmetric.WithDescription("Open chat sessions"))
	inst = i
	return inst
}

// RecordMessageInserted counts a successful insert
func RecordMessageInserted(ctx context.Context, source string) {
	if c := get().messagesInserted; c != nil {
		c.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("source", source)))
	}
}

// RecordResponderCall records outcome and latency of one responder call
func RecordResponderCall(ctx context.Context, responder string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("responder", responder),
		attribute.String("outcome", outcome),
	)
	i := get()
	if i.responderCalls != nil {
		i.responderCalls.Add(ctx, 1, attrs)
	}
	if i.responderLatency != nil {
		i.responderLatency.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// SessionOpened and SessionClosed track open sessions
func SessionOpened(ctx context.Context) {
	if c := get().activeSessions; c != nil {
		c.Add(ctx, 1)
	}
}

func SessionClosed(ctx context.Context) {
	if c := get().activeSessions; c != nil {
		c.Add(ctx, -1)
	}
}
