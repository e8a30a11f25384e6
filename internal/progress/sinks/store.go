package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arkivist/mediavault/internal/progress"
	"github.com/arkivist/mediavault/internal/store"
)

// StoreSink persists per-platform aggregates via a store.StatsRepository.
// Only item completions touch the repository; task lifecycle events are
// bookkeeping for other sinks.
type StoreSink struct {
	repo   store.StatsRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.StatsRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards item completions to the repository in arrival order. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Stage != progress.StageItemDone {
			continue
		}
		outcome, ok := outcomeFor(evt.Outcome)
		if !ok {
			s.logger.Debug("skipping event with unknown outcome",
				zap.String("task_id", evt.TaskUUID().String()),
				zap.String("outcome", string(evt.Outcome)),
			)
			continue
		}
		if err := s.repo.RecordOutcome(ctx, evt.Platform, outcome, evt.Bytes, evt.TS); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
	}
	return nil
}

func outcomeFor(o progress.Outcome) (store.Outcome, bool) {
	switch o {
	case progress.OutcomeCompleted:
		return store.OutcomeCompleted, true
	case progress.OutcomeSkipped:
		return store.OutcomeSkipped, true
	case progress.OutcomeFailed:
		return store.OutcomeFailed, true
	default:
		return "", false
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
