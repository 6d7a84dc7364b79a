// Package pipeline orchestrates one strategy generation per driver snapshot:
// a mandatory analysis stage and an optional feeds stage fanned out
// concurrently, consolidated through the retry executor with shrinking
// output budgets, and a deterministic synthesis fallback when consolidation
// is exhausted. Every transition is persisted keyed by snapshot id.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/driveline/driveline/internal/feeds"
	"github.com/driveline/driveline/internal/provider"
	"github.com/driveline/driveline/internal/router"
	"github.com/driveline/driveline/internal/store"
	"github.com/driveline/driveline/pkg/config"
	apperrors "github.com/driveline/driveline/pkg/errors"
	"github.com/driveline/driveline/pkg/logging"
	"github.com/driveline/driveline/pkg/metrics"
	"github.com/driveline/driveline/pkg/resilience"
	"github.com/driveline/driveline/pkg/tracing"
)

// TextRouter is the slice of the provider router the pipeline needs
type TextRouter interface {
	RouteText(ctx context.Context, req provider.Request) *router.Result
}

// FeedSource resolves contextual feeds for a coordinate
type FeedSource interface {
	Fetch(ctx context.Context, lat, lng float64) (*feeds.Report, error)
}

// Orchestrator runs the strategy pipeline
type Orchestrator struct {
	router   TextRouter
	feeds    FeedSource
	store    store.Store
	executor *resilience.Executor
	cfg      config.PipelineConfig
	metrics  *metrics.Metrics
	tracing  *tracing.TracingService
	logger   *logging.Logger
}

// New creates a pipeline orchestrator. feeds may be nil to disable the
// optional stage entirely; ts may be nil to disable tracing.
func New(r TextRouter, f FeedSource, s store.Store, cfg config.PipelineConfig, m *metrics.Metrics, ts *tracing.TracingService) *Orchestrator {
	return &Orchestrator{
		router:   r,
		feeds:    f,
		store:    s,
		executor: resilience.NewExecutor(resilience.Options{}),
		cfg:      cfg,
		metrics:  m,
		tracing:  ts,
		logger:   logging.GetLogger().Component("pipeline"),
	}
}

// Run executes the pipeline for a snapshot and returns the terminal run
// record. The record is upserted on every transition; re-running the same
// snapshot id overwrites the prior record. Run never panics: an unexpected
// panic in a stage terminates the record as error.
func (o *Orchestrator) Run(ctx context.Context, snap Snapshot) (out *store.PipelineRun, err error) {
	if snap.ID == "" {
		return nil, apperrors.NewValidationError("snapshot id is required")
	}

	start := time.Now()
	run := &store.PipelineRun{
		SnapshotID: snap.ID,
		Status:     store.RunPending,
	}

	defer func() {
		if r := recover(); r != nil {
			run.Status = store.RunError
			run.ErrorDetail = fmt.Sprintf("panic: %v", r)
			run.ElapsedMs = time.Since(start).Milliseconds()
			out, err = o.finish(ctx, run, start)
		}
	}()

	if err := o.store.Upsert(ctx, run); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	run.Status = store.RunRunning
	if err := o.store.Upsert(ctx, run); err != nil {
		return nil, err
	}
	o.logger.LogPipelineEvent(ctx, "run_started", snap.ID, "fan_out", nil)

	analysis, report, meta, err := o.fanOut(runCtx, snap)
	if err != nil {
		run.Status = store.RunFailed
		var panicErr *stagePanicError
		if errors.As(err, &panicErr) {
			run.Status = store.RunError
		}
		run.ErrorDetail = err.Error()
		run.ElapsedMs = time.Since(start).Milliseconds()
		return o.finish(ctx, run, start)
	}
	run.Analysis = analysis
	run.Provider = meta.provider
	if report != nil {
		if raw, err := json.Marshal(report); err == nil {
			run.Feeds = raw
		}
	}
	if err := o.store.Upsert(ctx, run); err != nil {
		return nil, err
	}

	strategy, consolidationErr := o.consolidate(runCtx, snap, analysis, report)
	run.ElapsedMs = time.Since(start).Milliseconds()

	if consolidationErr == nil {
		run.Status = store.RunOK
		run.Strategy = strategy
		return o.finish(ctx, run, start)
	}

	// every consolidation attempt is spent; degrade to deterministic
	// synthesis rather than returning nothing
	o.logger.Warn("Consolidation exhausted, synthesizing fallback",
		"snapshot_id", snap.ID,
		"error", consolidationErr.Error(),
	)
	run.Status = store.RunOKPartial
	run.Strategy = Synthesize(snap, analysis, report)
	run.Synthetic = true
	run.ErrorDetail = consolidationErr.Error()
	return o.finish(ctx, run, start)
}

type routeMeta struct {
	provider string
}

// stagePanicError marks a panic recovered inside a pipeline stage. It ends
// the run as error rather than failed, since it signals a bug, not a
// provider outage.
type stagePanicError struct {
	stage  string
	reason string
}

func (e *stagePanicError) Error() string {
	return fmt.Sprintf("panic in %s stage: %s", e.stage, e.reason)
}

// fanOut runs the mandatory analysis stage and the optional feeds stage
// concurrently. Only the mandatory stage can fail the run.
func (o *Orchestrator) fanOut(ctx context.Context, snap Snapshot) (string, *feeds.Report, routeMeta, error) {
	var (
		analysis string
		meta     routeMeta
		report   *feeds.Report
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &stagePanicError{stage: "analysis", reason: fmt.Sprint(r)}
			}
		}()
		span := o.span(gctx, "analysis", snap.ID)
		defer span.end()

		res := o.router.RouteText(gctx, provider.Request{
			System:          analysisSystemPrompt,
			User:            buildAnalysisPrompt(snap),
			MaxOutputTokens: o.analysisBudget(),
		})
		if res.Failed() {
			return apperrors.NewPipelineError(snap.ID,
				fmt.Sprintf("analysis stage failed: %s", strings.Join(res.Errors, "; ")))
		}
		analysis = res.Text
		meta.provider = res.Provider
		return nil
	})

	g.Go(func() error {
		if o.feeds == nil {
			return nil
		}
		// optional stage: even a panic here must not take the run down
		defer func() {
			if r := recover(); r != nil {
				o.logger.Warn("Feeds stage panicked, continuing without context",
					"snapshot_id", snap.ID,
					"panic", fmt.Sprint(r),
				)
			}
		}()
		span := o.span(gctx, "feeds", snap.ID)
		defer span.end()

		r, err := o.feeds.Fetch(gctx, snap.Latitude, snap.Longitude)
		if err != nil {
			// optional stage: absorb and default
			o.logger.Warn("Feeds stage failed, continuing without context",
				"snapshot_id", snap.ID,
				"error", err.Error(),
			)
			return nil
		}
		report = r
		return nil
	})

	if err := g.Wait(); err != nil {
		return "", nil, meta, err
	}
	return analysis, report, meta, nil
}

// consolidate runs the fan-in call through the retry executor with the
// configured shrinking output budgets. Truncation shrinks and retries;
// anything else is terminal.
func (o *Orchestrator) consolidate(ctx context.Context, snap Snapshot, analysis string, report *feeds.Report) (string, error) {
	span := o.span(ctx, "consolidation", snap.ID)
	defer span.end()

	attempts := make([]resilience.AttemptConfig, 0, len(o.cfg.ConsolidationBudgets))
	for _, budget := range o.cfg.ConsolidationBudgets {
		attempts = append(attempts, resilience.AttemptConfig{MaxOutputTokens: budget})
	}

	prompt := buildConsolidationPrompt(snap, analysis, report)

	return o.executor.Execute(ctx, attempts, func(taskCtx context.Context, attempt resilience.AttemptConfig) (string, error) {
		res := o.router.RouteText(taskCtx, provider.Request{
			System:          consolidationSystemPrompt,
			User:            prompt,
			MaxOutputTokens: attempt.MaxOutputTokens,
		})
		if res.Failed() {
			if truncated(res.Errors) {
				return "", apperrors.NewTruncationError(res.Provider, attempt.MaxOutputTokens)
			}
			return "", apperrors.NewPipelineError(snap.ID,
				fmt.Sprintf("consolidation failed: %s", strings.Join(res.Errors, "; ")))
		}
		return res.Text, nil
	})
}

// truncated reports whether a failed route looks like output truncation
// rather than provider unavailability
func truncated(errs []string) bool {
	for _, e := range errs {
		if strings.Contains(e, "truncated") || strings.Contains(e, "blank response") {
			return true
		}
	}
	return false
}

// finish persists the terminal record and emits run metrics
func (o *Orchestrator) finish(ctx context.Context, run *store.PipelineRun, start time.Time) (*store.PipelineRun, error) {
	if err := o.store.Upsert(ctx, run); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.RecordPipelineRun(string(run.Status), elapsed)
	}
	o.logger.LogPipelineEvent(ctx, "run_finished", run.SnapshotID, string(run.Status), logrus.Fields{
		"elapsed_ms": elapsed.Milliseconds(),
		"provider":   run.Provider,
		"synthetic":  run.Synthetic,
	})
	return run, nil
}

// analysisBudget is the output ceiling for the analysis stage; the first
// consolidation budget doubles as a sensible default
func (o *Orchestrator) analysisBudget() int {
	if len(o.cfg.ConsolidationBudgets) > 0 {
		return o.cfg.ConsolidationBudgets[0]
	}
	return 2048
}

type spanHandle struct {
	end func()
}

// span starts a pipeline stage span when tracing is wired, and a no-op
// handle otherwise
func (o *Orchestrator) span(ctx context.Context, stage, snapshotID string) spanHandle {
	if o.tracing == nil {
		return spanHandle{end: func() {}}
	}
	_, s := o.tracing.StartPipelineSpan(ctx, stage, snapshotID)
	return spanHandle{end: func() { s.End() }}
}
