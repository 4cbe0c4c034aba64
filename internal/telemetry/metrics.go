package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PipelineMetrics holds the counters emitted by the reconciliation pipeline.
// With no OTEL endpoint configured the global meter is a no-op, so recording
// is always safe.
type PipelineMetrics struct {
	decoded      metric.Int64Counter
	decodeErrors metric.Int64Counter
	duplicates   metric.Int64Counter
	anomalies    metric.Int64Counter
	reconnects   metric.Int64Counter
	commands     metric.Int64Counter
}

// NewPipelineMetrics registers the pipeline counters on the global meter.
func NewPipelineMetrics() (*PipelineMetrics, error) {
	meter := Meter("nagare")
	m := &PipelineMetrics{}

	var err error
	if m.decoded, err = meter.Int64Counter("nagare.events.decoded",
		metric.WithDescription("Event envelopes successfully decoded")); err != nil {
		return nil, err
	}
	if m.decodeErrors, err = meter.Int64Counter("nagare.events.decode_errors",
		metric.WithDescription("Raw events dropped due to decode failure")); err != nil {
		return nil, err
	}
	if m.duplicates, err = meter.Int64Counter("nagare.events.duplicates",
		metric.WithDescription("Envelopes discarded as duplicates")); err != nil {
		return nil, err
	}
	if m.anomalies, err = meter.Int64Counter("nagare.transitions.anomalies",
		metric.WithDescription("Rejected status transitions")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("nagare.transport.reconnects",
		metric.WithDescription("Live transport reconnect attempts")); err != nil {
		return nil, err
	}
	if m.commands, err = meter.Int64Counter("nagare.commands.sent",
		metric.WithDescription("Outbound commands sent")); err != nil {
		return nil, err
	}
	return m, nil
}

// Nil-receiver safe recording helpers so components can run without metrics
// in tests.

func (m *PipelineMetrics) Decoded(ctx context.Context, n int64) {
	if m != nil {
		m.decoded.Add(ctx, n)
	}
}

func (m *PipelineMetrics) DecodeError(ctx context.Context, n int64) {
	if m != nil {
		m.decodeErrors.Add(ctx, n)
	}
}

func (m *PipelineMetrics) Duplicate(ctx context.Context, n int64) {
	if m != nil {
		m.duplicates.Add(ctx, n)
	}
}

func (m *PipelineMetrics) Anomaly(ctx context.Context, n int64) {
	if m != nil {
		m.anomalies.Add(ctx, n)
	}
}

func (m *PipelineMetrics) Reconnect(ctx context.Context) {
	if m != nil {
		m.reconnects.Add(ctx, 1)
	}
}

func (m *PipelineMetrics) Command(ctx context.Context, verb string) {
	if m != nil {
		m.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("verb", verb)))
	}
}
