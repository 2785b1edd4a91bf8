package domain

// OutcomeCode classifies the result of a delivery attempt.
type OutcomeCode int

const (
	// OutcomeDelivered means the side effect was performed.
	OutcomeDelivered OutcomeCode = iota
	// OutcomeRetryable means delivery failed for a transient reason and should
	// be retried with backoff.
	OutcomeRetryable
	// OutcomePermanent means delivery can never succeed with this payload or
	// destination; the event goes dead without further retries.
	OutcomePermanent
)

// Outcome is the explicit result returned by delivery functions. The
// dispatcher switches on the code instead of inspecting error types.
type Outcome struct {
	Code OutcomeCode
	// Reason is a short machine-readable diagnostic code (never payload data).
	Reason string
}

// Delivered returns a successful outcome.
func Delivered() Outcome {
	return Outcome{Code: OutcomeDelivered}
}

// RetryableFailure returns a transient-failure outcome with a diagnostic reason.
func RetryableFailure(reason string) Outcome {
	return Outcome{Code: OutcomeRetryable, Reason: reason}
}

// PermanentFailure returns a non-retryable-failure outcome with a diagnostic reason.
func PermanentFailure(reason string) Outcome {
	return Outcome{Code: OutcomePermanent, Reason: reason}
}
