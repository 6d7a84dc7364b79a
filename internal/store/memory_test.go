package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/driveline/driveline/pkg/errors"
)

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	run := &PipelineRun{
		SnapshotID: "snap-1",
		Status:     RunRunning,
	}
	require.NoError(t, s.Upsert(ctx, run))
	assert.False(t, run.CreatedAt.IsZero())

	got, err := s.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, got.Status)
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &PipelineRun{
		SnapshotID: "snap-1",
		Status:     RunOK,
		Strategy:   "first strategy",
		Provider:   "anthropic",
	}))
	require.NoError(t, s.Upsert(ctx, &PipelineRun{
		SnapshotID: "snap-1",
		Status:     RunOKPartial,
		Strategy:   "second strategy",
		Provider:   "openai",
		Feeds:      json.RawMessage(`{"weather":"rain"}`),
	}))

	got, err := s.Get(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, RunOKPartial, got.Status)
	assert.Equal(t, "second strategy", got.Strategy)
	assert.Equal(t, "openai", got.Provider)
}

func TestMemoryStoreMissingRun(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestMemoryStoreRequiresSnapshotID(t *testing.T) {
	s := NewMemoryStore()

	err := s.Upsert(context.Background(), &PipelineRun{})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunOK.Terminal())
	assert.True(t, RunOKPartial.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.True(t, RunError.Terminal())
}
