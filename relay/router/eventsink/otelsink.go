// Package eventsink provides relay/external.EventSink implementations for
// production use: an OpenTelemetry-instrumented sink recording spans and
// counters against the global providers internal/telemetry.Init installs,
// and a Mongo-backed append-only sink (see mongosink) for durable event
// logs. Both are pure observers — neither feeds back into routing.
package eventsink

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaycore/relay/relay/external"
)

// OTelSink records each router event as a short-lived span plus an
// attempt counter, grounded on the teacher's internal/telemetry.Init
// global-provider setup — this sink only ever calls otel.Tracer/
// otel.Meter, so it behaves identically whether telemetry is enabled or
// the noop providers are installed.
type OTelSink struct {
	tracer  trace.Tracer
	events  metric.Int64Counter
	latency metric.Float64Histogram
}

// NewOTelSink builds a sink against the current global TracerProvider and
// MeterProvider. Call after internal/telemetry.Init so instruments bind to
// the real providers rather than the default noop ones.
func NewOTelSink() (*OTelSink, error) {
	tracer := otel.Tracer("relay/router")
	meter := otel.Meter("relay/router")

	events, err := meter.Int64Counter(
		"relay.router.events",
		metric.WithDescription("Count of router events by kind and provider."),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram(
		"relay.router.attempt_latency_ms",
		metric.WithDescription("Observed attempt latency in milliseconds."),
	)
	if err != nil {
		return nil, err
	}

	return &OTelSink{tracer: tracer, events: events, latency: latency}, nil
}

// Log implements relay/external.EventSink.
func (s *OTelSink) Log(ctx context.Context, event external.RouterEvent) {
	attrs := []attribute.KeyValue{
		attribute.String("conversation_id", event.ConversationID),
		attribute.String("message_id", event.MessageID),
		attribute.String("kind", string(event.Kind)),
		attribute.String("provider_id", event.ProviderID),
		attribute.Int("attempt_number", event.AttemptNumber),
	}
	if event.ErrorKind != nil {
		attrs = append(attrs, attribute.String("error_kind", *event.ErrorKind))
	}

	s.events.Add(ctx, 1, metric.WithAttributes(attrs...))

	_, span := s.tracer.Start(ctx, "router."+string(event.Kind), trace.WithAttributes(attrs...))
	defer span.End()

	if event.LatencyMs != nil {
		s.latency.Record(ctx, float64(*event.LatencyMs), metric.WithAttributes(
			attribute.String("provider_id", event.ProviderID),
		))
	}

	if event.Kind == external.EventFailure || event.Kind == external.EventExhaust {
		span.SetStatus(codes.Error, event.ErrorMessage)
	}
}
