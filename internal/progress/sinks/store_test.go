package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evolab/evomon/internal/progress"
	"github.com/evolab/evomon/internal/store"
)

// TestStoreSinkPersistsEvents ensures each event kind reaches the repository.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeTraceRepo{}
	sink := NewStoreSink(repo, nil)
	sessionUUID := uuid.New()
	session := progress.UUIDToBytes(sessionUUID)
	run := "run_20250131_090000"
	now := time.Now()

	batch := []progress.Event{
		{SessionID: session, Stage: progress.StageRunStart, Run: run, TS: now},
		{
			SessionID:    session,
			Stage:        progress.StageIteration,
			Run:          run,
			Iteration:    1,
			MaxTemp:      82.4,
			MinClearance: 3.2,
			Violations:   1,
			Penalty:      150.0,
			StateID:      "s_0001",
			TS:           now.Add(time.Second),
		},
		{SessionID: session, Stage: progress.StageRollback, Run: run, Rollbacks: 2, TS: now.Add(2 * time.Second)},
		{SessionID: session, Stage: progress.StageRunDone, Run: run, Iteration: 10, TS: now.Add(3 * time.Second)},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Equal(t, sessionUUID, repo.starts[0])
	require.Len(t, repo.iterations, 1)
	require.Equal(t, "s_0001", repo.iterations[0].StateID)
	require.Equal(t, []int{2}, repo.rollbacks)
	require.Equal(t, []int{10}, repo.completions)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeTraceRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	session := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{SessionID: session, Stage: progress.StageRunStart, Run: "run_x", TS: time.Now()},
	})
	require.Error(t, err)
}

// TestStoreSinkNilRepo: a sink without a repository is a no-op, not a panic.
func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{Stage: progress.StageRunStart, Run: "run_x", TS: time.Now()},
	})
	require.NoError(t, err)
}

type fakeTraceRepo struct {
	fail        bool
	starts      []uuid.UUID
	iterations  []store.IterationRecord
	rollbacks   []int
	completions []int
}

func (f *fakeTraceRepo) UpsertRunStart(_ context.Context, sessionID uuid.UUID, _ string, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, sessionID)
	return nil
}

func (f *fakeTraceRepo) RecordIteration(_ context.Context, rec store.IterationRecord) error {
	if f.fail {
		return assertErr("iteration")
	}
	f.iterations = append(f.iterations, rec)
	return nil
}

func (f *fakeTraceRepo) UpdateRollbacks(_ context.Context, _ string, count int, _ time.Time) error {
	if f.fail {
		return assertErr("rollbacks")
	}
	f.rollbacks = append(f.rollbacks, count)
	return nil
}

func (f *fakeTraceRepo) CompleteRun(_ context.Context, _ string, _ time.Time, iterations int) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completions = append(f.completions, iterations)
	return nil
}

func (f *fakeTraceRepo) GetRun(context.Context, string) (store.RunRecord, error) {
	return store.RunRecord{}, assertErr("read")
}

func (f *fakeTraceRepo) ListRuns(context.Context, int, int) ([]store.RunRecord, error) {
	return nil, assertErr("list")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
