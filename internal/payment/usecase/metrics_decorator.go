package usecase

import (
	"context"
	"time"

	"github.com/tidywork/tidywork/internal/metrics"
)

// MetricsDecorator wraps a reconciliation UseCase with business metrics recording.
type MetricsDecorator struct {
	next            UseCase
	businessMetrics metrics.BusinessMetrics
}

// NewMetricsDecorator creates a new MetricsDecorator.
func NewMetricsDecorator(next UseCase, businessMetrics metrics.BusinessMetrics) *MetricsDecorator {
	return &MetricsDecorator{
		next:            next,
		businessMetrics: businessMetrics,
	}
}

// ProcessWebhook delegates and records the outcome.
func (d *MetricsDecorator) ProcessWebhook(
	ctx context.Context,
	payload []byte,
	signature string,
) (bool, error) {
	start := time.Now()
	processed, err := d.next.ProcessWebhook(ctx, payload, signature)

	status := "success"
	if err != nil {
		status = "error"
	}
	d.businessMetrics.RecordOperation(ctx, "payment", "reconcile", status)
	d.businessMetrics.RecordDuration(ctx, "payment", "reconcile", time.Since(start), status)

	return processed, err
}
