package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/driveline/driveline/pkg/errors"
	"github.com/driveline/driveline/pkg/logging"
)

// AttemptConfig describes one attempt in a retry sequence. Successive
// attempts typically shrink MaxOutputTokens to dodge truncation.
type AttemptConfig struct {
	// MaxOutputTokens is the output-size ceiling passed to the task
	MaxOutputTokens int
	// Timeout bounds this attempt; zero means the parent context rules
	Timeout time.Duration
}

// FailureKind classifies a task failure
type FailureKind int

const (
	// KindRetriable - the failure may be fixed by a smaller budget
	KindRetriable FailureKind = iota
	// KindTerminal - the failure will not be fixed by retrying
	KindTerminal
)

// Classifier decides which kind a task failure is
type Classifier func(error) FailureKind

// DefaultClassifier treats truncation as retriable and everything else as
// terminal
func DefaultClassifier(err error) FailureKind {
	if apperrors.IsType(err, apperrors.ErrorTypeTruncation) {
		return KindRetriable
	}
	return KindTerminal
}

// TaskFunc is one unit of retriable work parameterized by an AttemptConfig
type TaskFunc func(ctx context.Context, attempt AttemptConfig) (string, error)

// Options configures an Executor
type Options struct {
	// Classify splits failures into retriable and terminal; nil means
	// DefaultClassifier
	Classify Classifier
	// Delay, when set, is slept between attempts (attempt is 1-based and
	// names the attempt that just failed)
	Delay func(attempt int) time.Duration
}

// Executor runs an ordered attempt sequence strictly sequentially
type Executor struct {
	classify Classifier
	delay    func(attempt int) time.Duration
	logger   *logging.Logger
}

// NewExecutor creates a retry executor with the given options
func NewExecutor(opts Options) *Executor {
	classify := opts.Classify
	if classify == nil {
		classify = DefaultClassifier
	}

	return &Executor{
		classify: classify,
		delay:    opts.Delay,
		logger:   logging.GetLogger(),
	}
}

// Execute runs task once per AttemptConfig, in order, until it succeeds.
// A terminal failure stops the loop immediately and is surfaced as-is.
// When every attempt fails retriably, an *ExhaustedError is returned so the
// caller can tell truncation exhaustion apart from a hard failure.
func (e *Executor) Execute(ctx context.Context, attempts []AttemptConfig, task TaskFunc) (string, error) {
	if len(attempts) == 0 {
		return "", apperrors.NewValidationError("at least one attempt config is required")
	}

	var lastErr error

	for i, attempt := range attempts {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if attempt.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, attempt.Timeout)
		}

		result, err := task(attemptCtx, attempt)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if i > 0 {
				e.logger.Info("Task succeeded after retry",
					"attempt", i+1,
					"max_output_tokens", attempt.MaxOutputTokens,
				)
			}
			return result, nil
		}

		lastErr = err

		if e.classify(err) == KindTerminal {
			e.logger.Debug("Task failure is terminal, stopping",
				"error", err.Error(),
				"attempt", i+1,
			)
			return "", err
		}

		e.logger.Debug("Task failed retriably",
			"error", err.Error(),
			"attempt", i+1,
			"remaining", len(attempts)-i-1,
		)

		if i < len(attempts)-1 && e.delay != nil {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(e.delay(i + 1)):
			}
		}
	}

	e.logger.Error("Task failed after all attempts",
		"error", lastErr.Error(),
		"attempts", len(attempts),
	)

	return "", &ExhaustedError{
		Attempts:  len(attempts),
		Retriable: true,
		LastErr:   lastErr,
	}
}

// UniformAttempts builds n identical attempt configs; useful for callers
// that retry without shrinking any budget, like the background job queue.
func UniformAttempts(n int, timeout time.Duration) []AttemptConfig {
	attempts := make([]AttemptConfig, n)
	for i := range attempts {
		attempts[i] = AttemptConfig{Timeout: timeout}
	}
	return attempts
}

// ExponentialDelay returns a Delay function computing base * 2^(attempt-1)
func ExponentialDelay(base time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(1<<uint(attempt-1))
	}
}

// ExhaustedError reports that every configured attempt failed retriably
type ExhaustedError struct {
	Attempts  int
	Retriable bool
	LastErr   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the last attempt's error
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsExhausted checks if an error reports attempt exhaustion
func IsExhausted(err error) bool {
	var exErr *ExhaustedError
	return errors.As(err, &exErr)
}
