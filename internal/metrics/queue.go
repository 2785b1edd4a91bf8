package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueueMetrics records the per-status depth of the outbox queue. The dispatcher
// refreshes the gauge after every cycle so operators can alert on growing
// retry or dead backlogs.
type QueueMetrics interface {
	// RecordQueueDepth sets the current number of outbox events in the given status.
	RecordQueueDepth(ctx context.Context, status string, depth int64)
}

// queueMetrics implements QueueMetrics using OpenTelemetry metrics.
type queueMetrics struct {
	depthGauge metric.Int64Gauge
}

// NewQueueMetrics creates a QueueMetrics implementation using the provided meter provider.
func NewQueueMetrics(meterProvider metric.MeterProvider, namespace string) (QueueMetrics, error) {
	meter := meterProvider.Meter(namespace)

	depthGauge, err := meter.Int64Gauge(
		fmt.Sprintf("%s_outbox_queue_depth", namespace),
		metric.WithDescription("Number of outbox events per status"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	return &queueMetrics{depthGauge: depthGauge}, nil
}

// RecordQueueDepth sets the gauge for one outbox status.
func (q *queueMetrics) RecordQueueDepth(ctx context.Context, status string, depth int64) {
	q.depthGauge.Record(ctx, depth,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// NoOpQueueMetrics is a no-op implementation of QueueMetrics for when metrics are disabled.
type NoOpQueueMetrics struct{}

// NewNoOpQueueMetrics creates a no-op QueueMetrics implementation.
func NewNoOpQueueMetrics() QueueMetrics {
	return &NoOpQueueMetrics{}
}

// RecordQueueDepth does nothing when metrics are disabled.
func (n *NoOpQueueMetrics) RecordQueueDepth(ctx context.Context, status string, depth int64) {
	// No-op
}
