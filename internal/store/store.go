// Package store persists pipeline run records keyed by snapshot id.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a pipeline run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunOK        RunStatus = "ok"
	RunOKPartial RunStatus = "ok_partial"
	RunFailed    RunStatus = "failed"
	RunError     RunStatus = "error"
)

// Terminal reports whether the run has finished
func (s RunStatus) Terminal() bool {
	switch s {
	case RunOK, RunOKPartial, RunFailed, RunError:
		return true
	}
	return false
}

// PipelineRun is one orchestrated strategy generation for a snapshot.
// Re-running the same snapshot id overwrites the record, last writer wins.
type PipelineRun struct {
	SnapshotID  string          `db:"snapshot_id" json:"snapshot_id"`
	Status      RunStatus       `db:"status" json:"status"`
	Strategy    string          `db:"strategy" json:"strategy,omitempty"`
	Analysis    string          `db:"analysis" json:"analysis,omitempty"`
	Feeds       json.RawMessage `db:"feeds" json:"feeds,omitempty"`
	Provider    string          `db:"provider" json:"provider,omitempty"`
	Synthetic   bool            `db:"synthetic" json:"synthetic"`
	ErrorDetail string          `db:"error_detail" json:"error_detail,omitempty"`
	ElapsedMs   int64           `db:"elapsed_ms" json:"elapsed_ms"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Store reads and writes pipeline runs
type Store interface {
	// Upsert writes the run keyed by SnapshotID, overwriting any prior record
	Upsert(ctx context.Context, run *PipelineRun) error
	// Get returns the run for a snapshot id
	Get(ctx context.Context, snapshotID string) (*PipelineRun, error)
}
