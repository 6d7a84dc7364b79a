// Package router implements hedged multi-provider dispatch. A fast primary
// answer is returned untouched; a slow primary gets raced against every
// eligible fallback, and whatever is left is tried sequentially until the
// total budget runs out. Routing never returns an error: a failed route is a
// Result with empty text, provider "none" and the per-attempt reasons.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/driveline/driveline/internal/provider"
	"github.com/driveline/driveline/pkg/config"
	"github.com/driveline/driveline/pkg/logging"
	"github.com/driveline/driveline/pkg/metrics"
	"github.com/driveline/driveline/pkg/resilience"
)

// Result is the outcome of a routed generation. Failure is data, not an
// error: Text == "" and Provider == "none" with Errors explaining every
// attempt.
type Result struct {
	Text      string   `json:"text"`
	Provider  string   `json:"provider"`
	ElapsedMs int64    `json:"elapsed_ms"`
	Errors    []string `json:"errors,omitempty"`
}

// Failed reports whether no provider produced text
func (r *Result) Failed() bool {
	return r.Text == ""
}

// Router dispatches generation requests across the provider registry
type Router struct {
	registry *provider.Registry
	cfg      config.RouterConfig
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// New creates a router over the given provider registry
func New(registry *provider.Registry, cfg config.RouterConfig, m *metrics.Metrics) *Router {
	return &Router{
		registry: registry,
		cfg:      cfg,
		metrics:  m,
		logger:   logging.GetLogger().Component("router"),
	}
}

type attemptResult struct {
	provider string
	text     string
	err      error
}

// RouteText asks the primary provider for text and hedges with the fallbacks
// when the primary is slow, skipped or failing. See the package doc for the
// full policy.
func (r *Router) RouteText(ctx context.Context, req provider.Request) *Result {
	start := time.Now()

	budgetCtx, cancelBudget := context.WithTimeout(ctx, r.cfg.TotalBudget)
	defer cancelBudget()

	var errs []string
	attempted := make(map[string]bool)

	// buffered for every branch we could ever dispatch so losers never block
	results := make(chan attemptResult, 1+len(r.cfg.Fallbacks))
	var cancels []context.CancelFunc
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	inFlight := 0

	dispatch := func(name string, state *provider.State) {
		attemptCtx, cancel := context.WithCancel(budgetCtx)
		cancels = append(cancels, cancel)
		attempted[name] = true
		inFlight++
		go func() {
			text, err := r.attempt(attemptCtx, name, state, req)
			results <- attemptResult{provider: name, text: text, err: err}
		}()
	}

	finish := func(winner attemptResult) *Result {
		r.logger.Info("Route resolved",
			"provider", winner.provider,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"hedged_errors", len(errs),
		)
		if r.metrics != nil {
			r.metrics.RecordRouteResolution(winner.provider)
		}
		return &Result{
			Text:      winner.text,
			Provider:  winner.provider,
			ElapsedMs: time.Since(start).Milliseconds(),
			Errors:    errs,
		}
	}

	// phase 1: primary raced against the hedge timer
	if state := r.registry.Get(r.cfg.Primary); state == nil {
		errs = append(errs, fmt.Sprintf("%s: not configured", r.cfg.Primary))
	} else if reason := r.eligible(state); reason != "" {
		errs = append(errs, fmt.Sprintf("%s: %s", r.cfg.Primary, reason))
	} else {
		dispatch(r.cfg.Primary, state)

		hedge := time.NewTimer(r.cfg.HedgeTimeout)
		select {
		case res := <-results:
			hedge.Stop()
			inFlight--
			if res.err == nil {
				return finish(res)
			}
			errs = append(errs, fmt.Sprintf("%s: %v", res.provider, res.err))
		case <-hedge.C:
			r.logger.Info("Hedge timer fired, racing fallbacks",
				"primary", r.cfg.Primary,
				"hedge_timeout", r.cfg.HedgeTimeout.String(),
			)
			if r.metrics != nil {
				r.metrics.RecordHedgeFire()
			}
		case <-budgetCtx.Done():
			hedge.Stop()
			errs = append(errs, fmt.Sprintf("%s: %v", r.cfg.Primary, budgetCtx.Err()))
			return r.exhausted(start, errs)
		}
	}

	// phase 2: every eligible fallback joins the race, alongside the primary
	// if it is still in flight
	for _, name := range r.cfg.Fallbacks {
		state := r.registry.Get(name)
		if state == nil {
			errs = append(errs, fmt.Sprintf("%s: not configured", name))
			attempted[name] = true
			continue
		}
		if reason := r.eligible(state); reason != "" {
			errs = append(errs, fmt.Sprintf("%s: %s (hedge)", name, reason))
			continue
		}
		dispatch(name, state)
	}

	for inFlight > 0 {
		select {
		case res := <-results:
			inFlight--
			if res.err == nil {
				return finish(res)
			}
			errs = append(errs, fmt.Sprintf("%s: %v", res.provider, res.err))
		case <-budgetCtx.Done():
			errs = append(errs, fmt.Sprintf("router: %v with %d attempts in flight", budgetCtx.Err(), inFlight))
			return r.exhausted(start, errs)
		}
	}

	// phase 3: sequential pass over fallbacks that never got a shot, while
	// the budget holds
	for _, name := range r.cfg.Fallbacks {
		if attempted[name] {
			continue
		}
		if time.Since(start) >= r.cfg.TotalBudget {
			errs = append(errs, "router: total budget exceeded before sequential attempts finished")
			break
		}

		state := r.registry.Get(name)
		if reason := r.eligible(state); reason != "" {
			errs = append(errs, fmt.Sprintf("%s: %s (sequential)", name, reason))
			continue
		}

		text, err := r.attempt(budgetCtx, name, state, req)
		if err == nil {
			return finish(attemptResult{provider: name, text: text})
		}
		errs = append(errs, fmt.Sprintf("%s: %v", name, err))
	}

	return r.exhausted(start, errs)
}

// attempt runs one provider call through its circuit breaker and releases
// the concurrency slot acquired by eligibility checking
func (r *Router) attempt(ctx context.Context, name string, state *provider.State, req provider.Request) (string, error) {
	defer state.Release()
	if r.metrics != nil {
		r.metrics.SetProviderInFlight(name, state.InFlight())
		defer func() {
			r.metrics.SetProviderInFlight(name, state.InFlight())
		}()
	}

	callStart := time.Now()
	out, err := state.Breaker.Call(ctx, func(callCtx context.Context) (interface{}, error) {
		text, err := state.Client.Invoke(callCtx, req)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("blank response")
		}
		return text, nil
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if resilience.IsCircuitOpen(err) {
			outcome = "circuit_open"
		}
	}
	if r.metrics != nil {
		r.metrics.RecordProviderRequest(name, outcome, time.Since(callStart))
	}

	if err != nil {
		return "", err
	}

	text, _ := out.(string)
	return text, nil
}

// eligible reserves a concurrency slot when the provider can be tried.
// It returns a non-empty skip reason otherwise.
func (r *Router) eligible(state *provider.State) string {
	if !state.Breaker.Available() {
		return "circuit open"
	}
	if !state.TryAcquire() {
		return "concurrency cap reached"
	}
	return ""
}

func (r *Router) exhausted(start time.Time, errs []string) *Result {
	r.logger.Warn("Route exhausted all providers",
		"elapsed_ms", time.Since(start).Milliseconds(),
		"errors", strings.Join(errs, "; "),
	)
	if r.metrics != nil {
		r.metrics.RecordRouteResolution("none")
	}
	return &Result{
		Provider:  "none",
		ElapsedMs: time.Since(start).Milliseconds(),
		Errors:    errs,
	}
}
