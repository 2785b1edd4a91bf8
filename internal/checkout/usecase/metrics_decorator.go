package usecase

import (
	"context"
	"time"

	"github.com/tidywork/tidywork/internal/checkout/domain"
	"github.com/tidywork/tidywork/internal/metrics"
)

// MetricsDecorator wraps a checkout UseCase with business metrics recording.
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

// StartCheckout delegates and records the outcome.
func (d *MetricsDecorator) StartCheckout(
	ctx context.Context,
	input StartCheckoutInput,
) (*domain.ExternalCallAttempt, error) {
	start := time.Now()
	attempt, err := d.next.StartCheckout(ctx, input)

	status := "success"
	if err != nil {
		status = "error"
	}
	d.businessMetrics.RecordOperation(ctx, "checkout", "start_checkout", status)
	d.businessMetrics.RecordDuration(ctx, "checkout", "start_checkout", time.Since(start), status)

	return attempt, err
}
