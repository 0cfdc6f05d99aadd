package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/evolab/evomon/internal/progress"
	"github.com/evolab/evomon/internal/store"
)

// StoreSink persists monitor observations via a store.TraceRepository so runs
// survive monitor restarts and feed the status API.
type StoreSink struct {
	repo   store.TraceRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.TraceRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards each event to the repository in order. It respects ctx
// deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, evt.SessionUUID(), evt.Run, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageIteration:
		rec := store.IterationRecord{
			RunName:      evt.Run,
			Iteration:    evt.Iteration,
			MaxTemp:      evt.MaxTemp,
			MinClearance: evt.MinClearance,
			Violations:   evt.Violations,
			Penalty:      evt.Penalty,
			StateID:      evt.StateID,
			ObservedAt:   evt.TS,
		}
		if err := s.repo.RecordIteration(ctx, rec); err != nil {
			return fmt.Errorf("record iteration: %w", err)
		}
	case progress.StageRollback:
		if err := s.repo.UpdateRollbacks(ctx, evt.Run, evt.Rollbacks, evt.TS); err != nil {
			return fmt.Errorf("update rollbacks: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, evt.Run, evt.TS, evt.Iteration); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
