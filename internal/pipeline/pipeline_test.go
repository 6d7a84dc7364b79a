package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driveline/driveline/internal/feeds"
	"github.com/driveline/driveline/internal/provider"
	"github.com/driveline/driveline/internal/router"
	"github.com/driveline/driveline/internal/store"
	"github.com/driveline/driveline/pkg/config"
)

// scriptedRouter answers the analysis call then each consolidation call in
// order, so tests can separate stage behavior
type scriptedRouter struct {
	analysis      *router.Result
	consolidation []*router.Result
	calls         int64
}

func okResult(text, prov string) *router.Result {
	return &router.Result{Text: text, Provider: prov}
}

func failedResult(errs ...string) *router.Result {
	return &router.Result{Provider: "none", Errors: errs}
}

func (s *scriptedRouter) RouteText(ctx context.Context, req provider.Request) *router.Result {
	n := atomic.AddInt64(&s.calls, 1)
	if n == 1 {
		return s.analysis
	}
	idx := int(n) - 2
	if idx >= len(s.consolidation) {
		idx = len(s.consolidation) - 1
	}
	return s.consolidation[idx]
}

type fakeFeeds struct {
	report *feeds.Report
	err    error
	calls  int64
}

func (f *fakeFeeds) Fetch(ctx context.Context, lat, lng float64) (*feeds.Report, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.report, f.err
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ConsolidationBudgets: []int{4096, 2048, 1024},
		StageTimeout:         5 * time.Second,
	}
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		ID:        "snap-1",
		Latitude:  37.7749,
		Longitude: -122.4194,
		Address:   "Mission District, San Francisco",
		LocalTime: "17:30",
		DayOfWeek: "Friday",
	}
}

func sampleReport() *feeds.Report {
	return &feeds.Report{
		Weather:    &feeds.Weather{TemperatureC: 18.5, Precipitation: 0.4, WindSpeedKmh: 12},
		AirQuality: &feeds.AirQuality{AQI: 55, PM25: 11.2},
	}
}

func TestFullSuccessIsOK(t *testing.T) {
	r := &scriptedRouter{
		analysis:      okResult("downtown demand rising", "anthropic"),
		consolidation: []*router.Result{okResult("head downtown now", "anthropic")},
	}
	s := store.NewMemoryStore()
	o := New(r, &fakeFeeds{report: sampleReport()}, s, testPipelineConfig(), nil, nil)

	run, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	assert.Equal(t, store.RunOK, run.Status)
	assert.Equal(t, "head downtown now", run.Strategy)
	assert.Equal(t, "downtown demand rising", run.Analysis)
	assert.Equal(t, "anthropic", run.Provider)
	assert.False(t, run.Synthetic)

	stored, err := s.Get(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunOK, stored.Status)
	assert.NotEmpty(t, stored.Feeds)
}

func TestOptionalStageFailureIsSoft(t *testing.T) {
	r := &scriptedRouter{
		analysis:      okResult("analysis text", "openai"),
		consolidation: []*router.Result{okResult("strategy text", "openai")},
	}
	s := store.NewMemoryStore()
	broken := &fakeFeeds{err: context.DeadlineExceeded}
	o := New(r, broken, s, testPipelineConfig(), nil, nil)

	run, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	assert.NotEqual(t, store.RunFailed, run.Status)
	assert.NotEqual(t, store.RunError, run.Status)
	assert.Equal(t, store.RunOK, run.Status)
	assert.Empty(t, run.Feeds)
}

func TestMandatoryFailureFailsRunWithoutConsolidation(t *testing.T) {
	r := &scriptedRouter{
		analysis: failedResult("anthropic: circuit open", "openai: timeout"),
	}
	s := store.NewMemoryStore()
	o := New(r, &fakeFeeds{report: sampleReport()}, s, testPipelineConfig(), nil, nil)

	run, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	assert.Equal(t, store.RunFailed, run.Status)
	assert.Contains(t, run.ErrorDetail, "circuit open")
	assert.Contains(t, run.ErrorDetail, "timeout")
	assert.Empty(t, run.Strategy)
	assert.Equal(t, int64(1), atomic.LoadInt64(&r.calls), "consolidation must never run after a mandatory failure")
}

func TestTruncationShrinksBudgets(t *testing.T) {
	var budgets []int
	r := &recordingRouter{
		analysis: okResult("analysis", "anthropic"),
		consolidate: func(maxTokens int) *router.Result {
			budgets = append(budgets, maxTokens)
			if len(budgets) < 3 {
				return failedResult("anthropic: response truncated at limit")
			}
			return okResult("fits now", "anthropic")
		},
	}
	s := store.NewMemoryStore()
	o := New(r, nil, s, testPipelineConfig(), nil, nil)

	run, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	assert.Equal(t, store.RunOK, run.Status)
	assert.Equal(t, []int{4096, 2048, 1024}, budgets)
}

func TestConsolidationExhaustionSynthesizesFallback(t *testing.T) {
	r := &scriptedRouter{
		analysis: okResult("north beach surge building", "google"),
		consolidation: []*router.Result{
			failedResult("google: blank response"),
			failedResult("google: blank response"),
			failedResult("google: blank response"),
		},
	}
	s := store.NewMemoryStore()
	o := New(r, &fakeFeeds{report: sampleReport()}, s, testPipelineConfig(), nil, nil)

	run, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	assert.Equal(t, store.RunOKPartial, run.Status)
	assert.True(t, run.Synthetic)
	assert.NotEmpty(t, run.Strategy)
	assert.Contains(t, run.Strategy, "north beach surge building")
	assert.NotEmpty(t, run.ErrorDetail)
}

func TestTerminalConsolidationErrorAlsoSynthesizes(t *testing.T) {
	r := &scriptedRouter{
		analysis: okResult("useful analysis", "anthropic"),
		consolidation: []*router.Result{
			failedResult("anthropic: rate limited", "openai: 500"),
		},
	}
	s := store.NewMemoryStore()
	o := New(r, nil, s, testPipelineConfig(), nil, nil)

	run, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	assert.Equal(t, store.RunOKPartial, run.Status)
	assert.True(t, run.Synthetic)
	assert.Contains(t, run.Strategy, "useful analysis")
}

func TestRerunOverwritesTerminalRecord(t *testing.T) {
	s := store.NewMemoryStore()

	first := &scriptedRouter{
		analysis:      okResult("first analysis", "anthropic"),
		consolidation: []*router.Result{okResult("first strategy", "anthropic")},
	}
	o := New(first, nil, s, testPipelineConfig(), nil, nil)
	_, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	second := &scriptedRouter{
		analysis:      okResult("second analysis", "openai"),
		consolidation: []*router.Result{okResult("second strategy", "openai")},
	}
	o2 := New(second, nil, s, testPipelineConfig(), nil, nil)
	_, err = o2.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	stored, err := s.Get(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "second strategy", stored.Strategy)
	assert.Equal(t, "openai", stored.Provider)
}

type panickingRouter struct{}

func (panickingRouter) RouteText(ctx context.Context, req provider.Request) *router.Result {
	panic("unexpected provider state")
}

func TestStagePanicTerminatesRunAsError(t *testing.T) {
	s := store.NewMemoryStore()
	o := New(panickingRouter{}, nil, s, testPipelineConfig(), nil, nil)

	run, err := o.Run(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	assert.Equal(t, store.RunError, run.Status)
	assert.Contains(t, run.ErrorDetail, "panic")

	stored, err := s.Get(context.Background(), "snap-1")
	require.NoError(t, err)
	assert.Equal(t, store.RunError, stored.Status)
}

func TestMissingSnapshotIDIsRejected(t *testing.T) {
	o := New(&scriptedRouter{}, nil, store.NewMemoryStore(), testPipelineConfig(), nil, nil)
	_, err := o.Run(context.Background(), Snapshot{})
	require.Error(t, err)
}

func TestSynthesizeIsDeterministicAndNonEmpty(t *testing.T) {
	snap := sampleSnapshot()
	report := sampleReport()

	a := Synthesize(snap, "stay near the ballpark", report)
	b := Synthesize(snap, "stay near the ballpark", report)

	assert.Equal(t, a, b)
	assert.Contains(t, a, "stay near the ballpark")
	assert.Contains(t, a, "Mission District")
	assert.True(t, strings.Contains(a, "AQI"))
}

func TestSynthesizeWithoutFeeds(t *testing.T) {
	out := Synthesize(sampleSnapshot(), "analysis only", nil)
	assert.Contains(t, out, "analysis only")
	assert.Contains(t, out, "No live weather")
}

// recordingRouter exposes the consolidation budget per call
type recordingRouter struct {
	analysis    *router.Result
	consolidate func(maxTokens int) *router.Result
	calls       int64
}

func (r *recordingRouter) RouteText(ctx context.Context, req provider.Request) *router.Result {
	if atomic.AddInt64(&r.calls, 1) == 1 {
		return r.analysis
	}
	return r.consolidate(req.MaxOutputTokens)
}
