// Package service provides the HTTP client for the payment provider.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	checkoutdomain "github.com/tidywork/tidywork/internal/checkout/domain"
	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// Session is a checkout session created at the provider.
type Session struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
}

// CreateSessionRequest describes one checkout session to create.
type CreateSessionRequest struct {
	IdempotencyKey string
	TenantID       uuid.UUID
	SubjectID      uuid.UUID
	Purpose        string
	Amount         decimal.Decimal
	Currency       string
}

// ProviderError is a classified failure from the payment provider. Category
// is one of the checkout error categories; the wrapped error keeps detail for
// logs without persisting it.
type ProviderError struct {
	Category string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider: %s: %v", e.Category, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PaymentProvider creates checkout sessions at the external payment service.
type PaymentProvider interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)
}

// HTTPPaymentProvider implements PaymentProvider over the provider's REST API.
type HTTPPaymentProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPPaymentProvider creates a new HTTPPaymentProvider. The timeout bounds
// the whole call, so a hung provider cannot hold a request forever.
func NewHTTPPaymentProvider(baseURL, apiKey string, timeout time.Duration) *HTTPPaymentProvider {
	return &HTTPPaymentProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateSession creates a checkout session. The deterministic idempotency key
// travels in the Idempotency-Key header so provider-side deduplication works
// across our retries.
func (p *HTTPPaymentProvider) CreateSession(
	ctx context.Context,
	req CreateSessionRequest,
) (*Session, error) {
	payload, err := json.Marshal(map[string]any{
		"tenant_id":  req.TenantID,
		"subject_id": req.SubjectID,
		"purpose":    req.Purpose,
		"amount":     req.Amount,
		"currency":   req.Currency,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal session request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/checkout/sessions", bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build session request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var session Session
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			return nil, &ProviderError{Category: checkoutdomain.ErrorUnavailable,
				Err: fmt.Errorf("malformed session response: %w", err)}
		}
		if session.ID == "" || session.RedirectURL == "" {
			return nil, &ProviderError{Category: checkoutdomain.ErrorUnavailable,
				Err: errors.New("incomplete session response")}
		}
		return &session, nil

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &ProviderError{Category: checkoutdomain.ErrorUnavailable,
			Err: fmt.Errorf("provider returned %d", resp.StatusCode)}

	default:
		return nil, &ProviderError{Category: checkoutdomain.ErrorRejected,
			Err: fmt.Errorf("provider returned %d", resp.StatusCode)}
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Category: checkoutdomain.ErrorTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Category: checkoutdomain.ErrorTimeout, Err: err}
	}
	return &ProviderError{Category: checkoutdomain.ErrorUnavailable, Err: err}
}
