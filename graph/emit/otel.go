package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g., "node completed", "interrupted")
//   - Attributes: run id, session, step, node id and all event.Meta fields
//   - Status: error if event.Meta["error"] exists
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	emitter := emit.NewOTelEmitter(tp)
type OTelEmitter struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
}

// NewOTelEmitter creates a new OTelEmitter whose spans come from the
// "lexgraph" tracer of provider.
func NewOTelEmitter(provider trace.TracerProvider) *OTelEmitter {
	return &OTelEmitter{provider: provider, tracer: provider.Tracer("lexgraph")}
}

// Emit creates an OpenTelemetry span for the event.
//
// Events represent points in time, so the span is ended immediately. When
// the event carries "duration_ms" the span start is back-dated by that
// amount so trace viewers show the node's real extent.
func (o *OTelEmitter) Emit(event Event) {
	end := event.Time
	if end.IsZero() {
		end = time.Now()
	}
	start := end
	if ms, ok := durationMillis(event.Meta["duration_ms"]); ok {
		start = end.Add(-time.Duration(ms) * time.Millisecond)
	}

	_, span := o.tracer.Start(context.Background(), event.Msg, trace.WithTimestamp(start))
	defer span.End(trace.WithTimestamp(end))

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if err, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, err)
		span.RecordError(fmt.Errorf("%s", err))
	}
}

// Flush forces the tracer provider to export buffered spans, when the
// provider supports it (the SDK provider does, the noop provider does not).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := o.provider.(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("lexgraph.run_id", event.RunID),
		attribute.String("lexgraph.session", event.Session),
		attribute.Int("lexgraph.step", event.Step),
		attribute.String("lexgraph.node_id", event.NodeID),
	)
}

// addMetadataAttributes converts event metadata to span attributes.
//
// Handles string, int, int64, float64, bool and time.Duration directly;
// anything else is rendered with %v.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	for key, value := range meta {
		attrKey := "lexgraph." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}

func durationMillis(v interface{}) (int64, bool) {
	switch d := v.(type) {
	case int:
		return int64(d), true
	case int64:
		return d, true
	case float64:
		return int64(d), true
	}
	return 0, false
}
