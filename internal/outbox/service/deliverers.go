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

	"github.com/tidywork/tidywork/internal/mailer"
	"github.com/tidywork/tidywork/internal/outbox/domain"
)

// CircuitBreaker guards outbound delivery calls. While open it fails fast
// without attempting the network call.
type CircuitBreaker interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// EmailDeliverer sends email events through the mail gateway.
type EmailDeliverer struct {
	mailer  mailer.Mailer
	breaker CircuitBreaker
}

// NewEmailDeliverer creates a new EmailDeliverer.
func NewEmailDeliverer(m mailer.Mailer, cb CircuitBreaker) *EmailDeliverer {
	return &EmailDeliverer{mailer: m, breaker: cb}
}

// Deliver sends the email described by the event payload.
func (d *EmailDeliverer) Deliver(ctx context.Context, event *domain.OutboxEvent) domain.Outcome {
	var payload struct {
		Recipient string `json:"recipient"`
		Subject   string `json:"subject"`
		Body      string `json:"body"`
	}
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return domain.PermanentFailure("malformed_payload")
	}
	if payload.Recipient == "" || payload.Subject == "" || payload.Body == "" {
		return domain.PermanentFailure("missing_payload")
	}

	err := d.breaker.Do(ctx, func(ctx context.Context) error {
		return d.mailer.Send(ctx, mailer.Message{
			Recipient: payload.Recipient,
			Subject:   payload.Subject,
			Body:      payload.Body,
		})
	})
	if err != nil {
		return domain.RetryableFailure(fmt.Sprintf("mail gateway: %v", err))
	}

	return domain.Delivered()
}

// WebhookDeliverer posts webhook events to tenant-configured endpoints.
type WebhookDeliverer struct {
	policy  *DestinationPolicy
	breaker CircuitBreaker
	client  *http.Client
}

// NewWebhookDeliverer creates a new WebhookDeliverer.
func NewWebhookDeliverer(policy *DestinationPolicy, cb CircuitBreaker, timeout time.Duration) *WebhookDeliverer {
	return &WebhookDeliverer{
		policy:  policy,
		breaker: cb,
		client:  &http.Client{Timeout: timeout},
	}
}

// Deliver posts the event payload to its destination URL. The destination is
// re-validated on every attempt.
func (d *WebhookDeliverer) Deliver(ctx context.Context, event *domain.OutboxEvent) domain.Outcome {
	var payload struct {
		URL  string          `json:"url"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return domain.PermanentFailure("malformed_payload")
	}
	if payload.URL == "" {
		return domain.PermanentFailure("missing_payload")
	}

	return post(ctx, d.policy, d.breaker, d.client, payload.URL, payload.Body)
}

// ExportDeliverer uploads export events to tenant-configured endpoints.
type ExportDeliverer struct {
	policy  *DestinationPolicy
	breaker CircuitBreaker
	client  *http.Client
}

// NewExportDeliverer creates a new ExportDeliverer.
func NewExportDeliverer(policy *DestinationPolicy, cb CircuitBreaker, timeout time.Duration) *ExportDeliverer {
	return &ExportDeliverer{
		policy:  policy,
		breaker: cb,
		client:  &http.Client{Timeout: timeout},
	}
}

// Deliver uploads the export document to its destination URL.
func (d *ExportDeliverer) Deliver(ctx context.Context, event *domain.OutboxEvent) domain.Outcome {
	var payload struct {
		URL      string          `json:"url"`
		Document json.RawMessage `json:"document"`
	}
	if err := json.Unmarshal([]byte(event.Payload), &payload); err != nil {
		return domain.PermanentFailure("malformed_payload")
	}
	if payload.URL == "" || len(payload.Document) == 0 {
		return domain.PermanentFailure("missing_payload")
	}

	return post(ctx, d.policy, d.breaker, d.client, payload.URL, payload.Document)
}

// post applies the destination policy and performs the HTTP delivery through
// the circuit breaker, mapping the result onto a delivery outcome. Transport
// errors, 5xx, and 429 count as breaker failures; other statuses do not.
func post(
	ctx context.Context,
	policy *DestinationPolicy,
	cb CircuitBreaker,
	client *http.Client,
	destination string,
	body json.RawMessage,
) domain.Outcome {
	if err := policy.Check(ctx, destination); err != nil {
		var blocked *ErrDestinationBlocked
		if errors.As(err, &blocked) {
			return domain.PermanentFailure(blocked.Reason)
		}
		// Resolution failures may be transient.
		return domain.RetryableFailure(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return domain.PermanentFailure("invalid url")
	}
	req.Header.Set("Content-Type", "application/json")

	var status int
	callErr := cb.Do(ctx, func(ctx context.Context) error {
		resp, err := client.Do(req)
		if err != nil {
			// url.Error embeds the full destination URL, whose path and query
			// may carry signed tokens. Stored error text keeps only the host.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("request to %s timed out", req.URL.Host)
			}
			return fmt.Errorf("request to %s failed", req.URL.Host)
		}
		defer func() { _ = resp.Body.Close() }()

		status = resp.StatusCode
		if status >= 500 || status == http.StatusTooManyRequests {
			return fmt.Errorf("destination returned %d", status)
		}
		return nil
	})
	if callErr != nil {
		return domain.RetryableFailure(callErr.Error())
	}

	if status >= 200 && status < 300 {
		return domain.Delivered()
	}
	return domain.PermanentFailure(fmt.Sprintf("destination returned %d", status))
}
