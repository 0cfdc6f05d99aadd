// Package store declares interfaces for persisting observed run progress.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the observed_runs status column.
type RunStatus string

// Run statuses persisted in observed_runs.status.
const (
	RunWatching RunStatus = "watching"
	RunComplete RunStatus = "complete"
)

// RunRecord models the observed_runs table for API responses.
type RunRecord struct {
	// SessionID identifies the monitor session that observed the run.
	SessionID uuid.UUID
	// Name is the run directory name.
	Name string
	// FirstSeenAt captures when the monitor first observed the run.
	FirstSeenAt time.Time
	// CompletedAt is nil until the iteration target was reached.
	CompletedAt *time.Time
	// Status is watching/complete.
	Status RunStatus
	// Iterations is the highest observed trace row count.
	Iterations int
	// Rollbacks is the last observed cumulative rollback count.
	Rollbacks int
}

// IterationRecord is one observed trace row, keyed by run name and row index.
type IterationRecord struct {
	RunName      string
	Iteration    int
	MaxTemp      float64
	MinClearance float64
	Violations   int
	Penalty      float64
	StateID      string
	ObservedAt   time.Time
}

// TraceRepository persists the monitor's observations.
type TraceRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the first-seen timestamp.
	UpsertRunStart(ctx context.Context, sessionID uuid.UUID, runName string, firstSeenAt time.Time) error
	// RecordIteration inserts one observed trace row.
	RecordIteration(ctx context.Context, rec IterationRecord) error
	// UpdateRollbacks stores the cumulative rollback count for the run.
	UpdateRollbacks(ctx context.Context, runName string, count int, at time.Time) error
	// CompleteRun marks the run finished with its final iteration count.
	CompleteRun(ctx context.Context, runName string, completedAt time.Time, iterations int) error

	// GetRun loads a single observed run or returns ErrNotFound.
	GetRun(ctx context.Context, runName string) (RunRecord, error)
	// ListRuns returns observed runs ordered by first-seen descending.
	ListRuns(ctx context.Context, limit, offset int) ([]RunRecord, error)
}
