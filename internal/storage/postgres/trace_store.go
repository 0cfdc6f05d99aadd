// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evolab/evomon/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TraceStoreConfig controls the Postgres connection pool used for run observations.
type TraceStoreConfig struct {
	DSN             string
	RunsTable       string
	IterationsTable string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type poolIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// TraceStore implements store.TraceRepository on top of Postgres.
type TraceStore struct {
	pool       poolIface
	runs       string
	iterations string
}

// NewTraceStore creates a Postgres-backed TraceStore using the provided config.
func NewTraceStore(ctx context.Context, cfg TraceStoreConfig) (*TraceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	runs, iterations, err := tableNames(cfg.RunsTable, cfg.IterationsTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TraceStore{pool: pool, runs: runs, iterations: iterations}, nil
}

// NewTraceStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTraceStoreWithPool(pool poolIface, runsTable, iterationsTable string) (*TraceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	runs, iterations, err := tableNames(runsTable, iterationsTable)
	if err != nil {
		return nil, err
	}
	return &TraceStore{pool: pool, runs: runs, iterations: iterations}, nil
}

func tableNames(runs, iterations string) (string, string, error) {
	if runs == "" {
		runs = "observed_runs"
	}
	if iterations == "" {
		iterations = "run_iterations"
	}
	for _, name := range []string{runs, iterations} {
		if !validTableName.MatchString(name) {
			return "", "", fmt.Errorf("invalid table name %q", name)
		}
	}
	return runs, iterations, nil
}

// Close releases the underlying pool resources.
func (s *TraceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the observation tables if they do not exist yet.
func (s *TraceStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_name      TEXT PRIMARY KEY,
	session_id    UUID NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	status        TEXT NOT NULL,
	iterations    INTEGER NOT NULL DEFAULT 0,
	rollbacks     INTEGER NOT NULL DEFAULT 0,
	updated_at    TIMESTAMPTZ
)`, s.runs),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_name      TEXT NOT NULL,
	iteration     INTEGER NOT NULL,
	max_temp      DOUBLE PRECISION NOT NULL,
	min_clearance DOUBLE PRECISION NOT NULL,
	violations    INTEGER NOT NULL,
	penalty       DOUBLE PRECISION NOT NULL,
	state_id      TEXT NOT NULL,
	observed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_name, iteration)
)`, s.iterations),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertRunStart records the first observation of a run. Repeat calls for the
// same run are no-ops so the first-seen timestamp is preserved.
func (s *TraceStore) UpsertRunStart(
	ctx context.Context,
	sessionID uuid.UUID,
	runName string,
	firstSeenAt time.Time,
) error {
	if runName == "" {
		return fmt.Errorf("run name is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (run_name, session_id, first_seen_at, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (run_name) DO NOTHING;
`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runName, sessionID, firstSeenAt, store.RunWatching); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// RecordIteration stores one observed trace row and advances the run's
// iteration high-water mark.
func (s *TraceStore) RecordIteration(ctx context.Context, rec store.IterationRecord) error {
	if rec.RunName == "" {
		return fmt.Errorf("run name is required")
	}
	insert := fmt.Sprintf(`
INSERT INTO %s (run_name, iteration, max_temp, min_clearance, violations, penalty, state_id, observed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_name, iteration) DO NOTHING;
`, s.iterations)
	args := []any{
		rec.RunName,
		rec.Iteration,
		rec.MaxTemp,
		rec.MinClearance,
		rec.Violations,
		rec.Penalty,
		rec.StateID,
		rec.ObservedAt,
	}
	if _, err := s.pool.Exec(ctx, insert, args...); err != nil {
		return fmt.Errorf("insert iteration: %w", err)
	}
	update := fmt.Sprintf(`
UPDATE %s SET iterations = GREATEST(iterations, $2), updated_at = $3 WHERE run_name = $1;
`, s.runs)
	if _, err := s.pool.Exec(ctx, update, rec.RunName, rec.Iteration, rec.ObservedAt); err != nil {
		return fmt.Errorf("update iteration count: %w", err)
	}
	return nil
}

// UpdateRollbacks stores the cumulative rollback count for the run.
func (s *TraceStore) UpdateRollbacks(ctx context.Context, runName string, count int, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET rollbacks = $2, updated_at = $3 WHERE run_name = $1 AND rollbacks <> $2;
`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runName, count, at); err != nil {
		return fmt.Errorf("update rollbacks: %w", err)
	}
	return nil
}

// CompleteRun marks the run finished with the final iteration count.
func (s *TraceStore) CompleteRun(
	ctx context.Context,
	runName string,
	completedAt time.Time,
	iterations int,
) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = $2, completed_at = $3, iterations = GREATEST(iterations, $4)
WHERE run_name = $1;
`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runName, store.RunComplete, completedAt, iterations); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// GetRun loads a single observed run by name.
func (s *TraceStore) GetRun(ctx context.Context, runName string) (store.RunRecord, error) {
	query := fmt.Sprintf(`
SELECT session_id, run_name, first_seen_at, completed_at, status, iterations, rollbacks
FROM %s
WHERE run_name = $1;
`, s.runs)
	var rec store.RunRecord
	err := s.pool.QueryRow(ctx, query, runName).Scan(
		&rec.SessionID,
		&rec.Name,
		&rec.FirstSeenAt,
		&rec.CompletedAt,
		&rec.Status,
		&rec.Iterations,
		&rec.Rollbacks,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRecord{}, store.ErrNotFound
		}
		return store.RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	return rec, nil
}

// ListRuns returns observed runs ordered by first-seen descending.
func (s *TraceStore) ListRuns(ctx context.Context, limit, offset int) ([]store.RunRecord, error) {
	query := fmt.Sprintf(`
SELECT session_id, run_name, first_seen_at, completed_at, status, iterations, rollbacks
FROM %s
ORDER BY first_seen_at DESC
LIMIT $1 OFFSET $2;
`, s.runs)
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var recs []store.RunRecord
	for rows.Next() {
		var rec store.RunRecord
		err := rows.Scan(
			&rec.SessionID,
			&rec.Name,
			&rec.FirstSeenAt,
			&rec.CompletedAt,
			&rec.Status,
			&rec.Iterations,
			&rec.Rollbacks,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}
