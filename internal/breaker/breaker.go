// Package breaker implements a circuit breaker guarding calls to external
// dependencies. After a configured number of consecutive failures the breaker
// opens and calls fail fast; after a recovery window one trial call is allowed
// through, closing the breaker on success and re-opening it on failure.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/tidywork/tidywork/internal/clock"
	apperrors "github.com/tidywork/tidywork/internal/errors"
)

// ErrOpen is returned without attempting the call while the breaker is open.
// It wraps ErrUnavailable so callers can map it to a retryable failure.
var ErrOpen = apperrors.Wrap(apperrors.ErrUnavailable, "circuit breaker open")

// State represents the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int
	// RecoveryTime is how long the breaker stays open before allowing a trial call.
	RecoveryTime time.Duration
}

// Breaker is a circuit breaker for a single external dependency. Safe for
// concurrent use.
type Breaker struct {
	name   string
	config Config
	clock  clock.Clock

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// New creates a closed Breaker for the named dependency.
func New(name string, config Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{
		name:   name,
		config: config,
		clock:  clk,
		state:  StateClosed,
	}
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state, moving open to half-open when the
// recovery window has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Do runs fn through the breaker. While open it returns ErrOpen without
// invoking fn. In half-open state a single trial call is permitted; concurrent
// callers during the trial window fail fast.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// acquire decides whether a call may proceed in the current state.
func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.trialInFlight {
			return ErrOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return nil
	}
}

// record applies the call outcome to the breaker state.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	b.trialInFlight = false

	if err == nil {
		// Any success closes the breaker and resets the failure run.
		b.state = StateClosed
		b.failures = 0
		return
	}

	if state == StateHalfOpen {
		// Failed trial call: back to open for another recovery window.
		b.open()
		return
	}

	b.failures++
	if b.failures >= b.config.FailureThreshold {
		b.open()
	}
}

// currentState resolves open → half-open once the recovery window elapsed.
// Callers must hold b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && b.clock.Now().Sub(b.openedAt) >= b.config.RecoveryTime {
		b.state = StateHalfOpen
	}
	return b.state
}

// open transitions to the open state. Callers must hold b.mu.
func (b *Breaker) open() {
	b.state = StateOpen
	b.failures = 0
	b.openedAt = b.clock.Now()
}
