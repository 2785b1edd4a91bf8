// Package mailer provides the transactional email client used by the outbox
// email deliverer.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// Message is a single transactional email.
type Message struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Mailer sends transactional email through an external provider.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds HTTP mailer configuration.
type Config struct {
	// Endpoint is the provider's send API URL.
	Endpoint string
	// APIKey authenticates requests to the provider.
	APIKey string
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// HTTPMailer sends email through an HTTP API provider.
type HTTPMailer struct {
	config Config
	client *http.Client
}

// NewHTTPMailer creates an HTTPMailer with a bounded-timeout HTTP client.
func NewHTTPMailer(config Config) *HTTPMailer {
	return &HTTPMailer{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Send posts the message to the provider's send endpoint. A non-2xx provider
// response is returned as ErrUnavailable so the caller retries with backoff.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal email message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(err, "failed to build mailer request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		// Transport errors embed the full endpoint URL; keep it out of
		// stored error text.
		return apperrors.Wrap(apperrors.ErrUnavailable, "mailer request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.Wrap(apperrors.ErrUnavailable, fmt.Sprintf("mailer returned status %d", resp.StatusCode))
	}

	return nil
}
