package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arkivist/mediavault/internal/store"
)

// StatsRepo keeps per-platform aggregates in memory. It mirrors the
// postgres store's semantics: one call is one counted outcome.
type StatsRepo struct {
	mu    sync.RWMutex
	stats map[string]store.PlatformStats
}

// NewStatsRepo constructs an empty StatsRepo.
func NewStatsRepo() *StatsRepo {
	return &StatsRepo{
		stats: make(map[string]store.PlatformStats),
	}
}

// RecordOutcome applies one task outcome to the platform's counters.
func (r *StatsRepo) RecordOutcome(
	_ context.Context,
	platform string,
	outcome store.Outcome,
	deltaBytes int64,
	at time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stat := r.stats[platform]
	stat.Platform = platform
	switch outcome {
	case store.OutcomeCompleted:
		stat.Completed++
	case store.OutcomeFailed:
		stat.Failed++
	case store.OutcomeSkipped:
		stat.Skipped++
	default:
		return fmt.Errorf("unknown outcome: %s", outcome)
	}
	stat.BytesTotal += deltaBytes
	if at.After(stat.LastUpdate) {
		stat.LastUpdate = at
	}
	r.stats[platform] = stat
	return nil
}

// ListPlatforms returns aggregates ordered by most recent activity.
func (r *StatsRepo) ListPlatforms(_ context.Context, limit, offset int) ([]store.PlatformStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]store.PlatformStats, 0, len(r.stats))
	for _, stat := range r.stats {
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdate.Equal(out[j].LastUpdate) {
			return out[i].Platform < out[j].Platform
		}
		return out[i].LastUpdate.After(out[j].LastUpdate)
	})

	if offset >= len(out) {
		return []store.PlatformStats{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
