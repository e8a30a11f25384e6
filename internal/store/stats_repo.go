// Package store declares interfaces for persisting download statistics.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("stats record not found")

// Outcome labels how a task ended, for aggregation purposes.
type Outcome string

// Outcomes persisted in platform_stats counters.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// PlatformStats captures per-platform download aggregation.
type PlatformStats struct {
	// Platform is the normalized platform tag (e.g., youtube).
	Platform string `json:"platform"`
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time `json:"last_update"`
	// Completed counts tasks that produced and stored an artifact.
	Completed int64 `json:"completed"`
	// Failed counts tasks that ended in failure.
	Failed int64 `json:"failed"`
	// Skipped counts tasks short-circuited by the dedup ledger.
	Skipped int64 `json:"skipped"`
	// BytesTotal accumulates stored artifact bytes.
	BytesTotal int64 `json:"bytes_total"`
}

// StatsRepository persists per-platform download aggregates.
type StatsRepository interface {
	// RecordOutcome applies one task outcome to the platform's counters.
	RecordOutcome(ctx context.Context, platform string, outcome Outcome, deltaBytes int64, at time.Time) error
	// ListPlatforms returns aggregates ordered by most recent activity.
	ListPlatforms(ctx context.Context, limit, offset int) ([]PlatformStats, error)
}
