package store

import (
	"context"
	"sync"
	"time"

	"github.com/driveline/driveline/pkg/errors"
)

// MemoryStore is an in-memory Store used in tests and database-less setups
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]PipelineRun
}

// NewMemoryStore creates an empty in-memory run store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]PipelineRun)}
}

// Upsert writes the run, overwriting any previous record for the snapshot
func (s *MemoryStore) Upsert(ctx context.Context, run *PipelineRun) error {
	if run.SnapshotID == "" {
		return errors.NewValidationError("snapshot id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	s.runs[run.SnapshotID] = *run
	return nil
}

// Get returns the run for a snapshot id
func (s *MemoryStore) Get(ctx context.Context, snapshotID string) (*PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[snapshotID]
	if !ok {
		return nil, errors.NewNotFoundError("pipeline run")
	}
	return &run, nil
}
