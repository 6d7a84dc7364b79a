package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/driveline/driveline/pkg/errors"
)

// PostgresStore persists pipeline runs in the pipeline_runs table
type PostgresStore struct {
	db *DB
}

// NewPostgresStore creates a Postgres-backed run store
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const upsertRunQuery = `
	INSERT INTO pipeline_runs (
		snapshot_id, status, strategy, analysis, feeds, provider,
		synthetic, error_detail, elapsed_ms, created_at, updated_at
	) VALUES (
		:snapshot_id, :status, :strategy, :analysis, :feeds, :provider,
		:synthetic, :error_detail, :elapsed_ms, :created_at, :updated_at
	)
	ON CONFLICT (snapshot_id) DO UPDATE SET
		status       = EXCLUDED.status,
		strategy     = EXCLUDED.strategy,
		analysis     = EXCLUDED.analysis,
		feeds        = EXCLUDED.feeds,
		provider     = EXCLUDED.provider,
		synthetic    = EXCLUDED.synthetic,
		error_detail = EXCLUDED.error_detail,
		elapsed_ms   = EXCLUDED.elapsed_ms,
		updated_at   = EXCLUDED.updated_at`

// Upsert writes the run, overwriting any previous record for the snapshot
func (s *PostgresStore) Upsert(ctx context.Context, run *PipelineRun) error {
	if run.SnapshotID == "" {
		return errors.NewValidationError("snapshot id is required")
	}

	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	if _, err := s.db.NamedExecContext(ctx, upsertRunQuery, run); err != nil {
		return errors.NewInternalError("failed to upsert pipeline run").WithCause(err)
	}
	return nil
}

// Get returns the run for a snapshot id
func (s *PostgresStore) Get(ctx context.Context, snapshotID string) (*PipelineRun, error) {
	var run PipelineRun
	err := s.db.GetContext(ctx, &run,
		`SELECT snapshot_id, status, strategy, analysis, feeds, provider,
		        synthetic, error_detail, elapsed_ms, created_at, updated_at
		 FROM pipeline_runs WHERE snapshot_id = $1`, snapshotID)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("pipeline run")
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to load pipeline run").WithCause(err)
	}
	return &run, nil
}
