// Package resilience provides the failure-isolation primitives used by the
// Driveline inference orchestration layer: a per-provider circuit breaker
// and a budget-shrinking retry executor.
//
// # Circuit Breaker Pattern
//
// The circuit breaker counts consecutive failures against one provider and,
// once a threshold is crossed, fails fast without attempting the provider
// until a cooldown elapses. When the cooldown elapses the state is cleared
// and the next call is attempted; a single success fully closes the circuit,
// a failure re-opens it.
//
//	br := resilience.NewBreaker(resilience.BreakerConfig{
//		Name:             "anthropic",
//		FailureThreshold: 3,
//		ResetAfter:       time.Minute,
//		CallTimeout:      25 * time.Second,
//	})
//
//	result, err := br.Call(ctx, func(ctx context.Context) (interface{}, error) {
//		return client.Invoke(ctx, system, user, maxTokens)
//	})
//
// # Budget-Shrinking Retry
//
// The retry executor runs an ordered list of attempt configurations strictly
// in sequence. A classifier splits failures into retriable-with-smaller-budget
// (truncation) and terminal; terminal failures stop the loop immediately,
// retriable ones move on to the next, smaller, attempt configuration.
//
//	exec := resilience.NewExecutor(resilience.Options{})
//	text, err := exec.Execute(ctx, []resilience.AttemptConfig{
//		{MaxOutputTokens: 4096},
//		{MaxOutputTokens: 2048},
//		{MaxOutputTokens: 1024},
//	}, task)
//
// When every attempt is exhausted the caller receives an *ExhaustedError
// distinguishing the two failure kinds so a fallback policy can react.
//
// All primitives are safe for concurrent use.
package resilience
