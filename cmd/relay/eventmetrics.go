package main

import (
	"context"
	"time"

	"github.com/relaycore/relay/internal/metrics"
	"github.com/relaycore/relay/relay/external"
)

// metricsEventSink forwards router events into a Collector and chains to
// an inner external.EventSink (memstub's recorder, for tests/inspection,
// or any other sink). RouterEvent carries latency and outcome but not
// token counts or cost, so RecordLLMRequest is called with zero usage —
// the provider adapters that have those numbers feed them back through
// RouteResult, not through the event stream.
type metricsEventSink struct {
	collector *metrics.Collector
	inner     external.EventSink
}

func newMetricsEventSink(collector *metrics.Collector, inner external.EventSink) *metricsEventSink {
	return &metricsEventSink{collector: collector, inner: inner}
}

func (s *metricsEventSink) Log(ctx context.Context, event external.RouterEvent) {
	if s.inner != nil {
		s.inner.Log(ctx, event)
	}

	switch event.Kind {
	case external.EventSuccess, external.EventFailure:
		status := "success"
		if event.Kind == external.EventFailure {
			status = "failure"
		}
		latency := time.Duration(0)
		if event.LatencyMs != nil {
			latency = time.Duration(*event.LatencyMs) * time.Millisecond
		}
		s.collector.RecordLLMRequest(event.ProviderID, "", status, latency, 0, 0, 0)
	}
}

var _ external.EventSink = (*metricsEventSink)(nil)

// fanoutEventSink logs to every sink in order; used to chain the in-memory
// recorder with the OTel-instrumented sink when telemetry is enabled.
type fanoutEventSink struct {
	sinks []external.EventSink
}

func newFanoutEventSink(sinks ...external.EventSink) *fanoutEventSink {
	return &fanoutEventSink{sinks: sinks}
}

func (s *fanoutEventSink) Log(ctx context.Context, event external.RouterEvent) {
	for _, sink := range s.sinks {
		if sink != nil {
			sink.Log(ctx, event)
		}
	}
}

var _ external.EventSink = (*fanoutEventSink)(nil)
