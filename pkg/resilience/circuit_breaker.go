package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/driveline/driveline/pkg/errors"
	"github.com/driveline/driveline/pkg/logging"
)

// BreakerConfig holds configuration for the circuit breaker
type BreakerConfig struct {
	// Name of the protected provider, for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit
	FailureThreshold int
	// ResetAfter is the cooldown after which an open circuit accepts the
	// next call again
	ResetAfter time.Duration
	// CallTimeout is the hard per-call timeout wrapped around every attempt
	CallTimeout time.Duration
	// OnStateChange is called whenever the circuit opens or closes
	OnStateChange func(name string, open bool)
}

// BreakerSnapshot is a point-in-time copy of the breaker state
type BreakerSnapshot struct {
	FailureCount int
	Open         bool
	OpenedAt     time.Time
}

// Breaker is a per-provider circuit breaker. After FailureThreshold
// consecutive failures it rejects calls immediately until ResetAfter has
// elapsed; the elapse clears the state entirely, so the next call is a
// normal attempt and one success keeps the circuit closed.
type Breaker struct {
	name             string
	failureThreshold int
	resetAfter       time.Duration
	callTimeout      time.Duration
	onStateChange    func(name string, open bool)

	mu           sync.Mutex
	failureCount int
	open         bool
	openedAt     time.Time

	logger *logging.Logger
}

// NewBreaker creates a new circuit breaker with the given configuration
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = time.Minute
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 25 * time.Second
	}

	return &Breaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetAfter:       config.ResetAfter,
		callTimeout:      config.CallTimeout,
		onStateChange:    config.OnStateChange,
		logger:           logging.GetLogger(),
	}
}

// Call runs fn if the circuit accepts it, bounded by the per-call timeout.
// When the circuit is open and inside the cooldown, fn is never invoked and
// a *CircuitOpenError is returned without consuming any timeout.
func (b *Breaker) Call(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := b.beforeCall(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	type callResult struct {
		value interface{}
		err   error
	}

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: apperrors.NewInternalError(fmt.Sprintf("panic in call to %s: %v", b.name, r))}
			}
		}()
		value, err := fn(callCtx)
		done <- callResult{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(callCtx.Err(), context.Canceled) {
			// The caller abandoned the attempt; not a provider failure.
			return nil, res.err
		}
		b.afterCall(res.err == nil)
		return res.value, res.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			b.afterCall(false)
			return nil, apperrors.NewTimeoutError(fmt.Sprintf("call to %s", b.name))
		}
		// The caller abandoned the attempt (e.g. a lost hedge race); this
		// says nothing about the provider, so it is not counted.
		return nil, callCtx.Err()
	}
}

// Snapshot returns a copy of the current breaker state
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerSnapshot{
		FailureCount: b.failureCount,
		Open:         b.open,
		OpenedAt:     b.openedAt,
	}
}

// Available reports whether the next call would be accepted
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return !b.open || time.Since(b.openedAt) >= b.resetAfter
}

// Name returns the name of the protected provider
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		elapsed := time.Since(b.openedAt)
		if elapsed < b.resetAfter {
			return &CircuitOpenError{
				Name:       b.name,
				RetryAfter: b.resetAfter - elapsed,
			}
		}
		// Cooldown elapsed: clear the state and let the call through.
		b.setOpen(false)
		b.failureCount = 0
	}

	return nil
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failureCount = 0
		return
	}

	b.failureCount++
	if b.failureCount >= b.failureThreshold && !b.open {
		b.setOpen(true)
	}
}

// setOpen mutates the open flag; callers must hold b.mu.
func (b *Breaker) setOpen(open bool) {
	b.open = open
	if open {
		b.openedAt = time.Now()
	} else {
		b.openedAt = time.Time{}
	}

	if b.onStateChange != nil {
		b.onStateChange(b.name, open)
	}

	b.logger.Info("Circuit state changed",
		"name", b.name,
		"open", open,
		"failure_count", b.failureCount,
	)
}

// CircuitOpenError is returned when a call is rejected without an attempt
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit for '%s' is open (retry in %s)", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// IsCircuitOpen checks if an error is a circuit-open rejection
func IsCircuitOpen(err error) bool {
	var coErr *CircuitOpenError
	return errors.As(err, &coErr)
}
