package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkivist/mediavault/internal/store"
)

// StatsStore implements store.StatsRepository using Postgres.
type StatsStore struct {
	pool querier
}

// NewStatsStore creates a new StatsStore.
func NewStatsStore(ctx context.Context, dsn string) (*StatsStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &StatsStore{pool: pool}, nil
}

// NewStatsStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStatsStoreWithPool(pool querier) (*StatsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &StatsStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *StatsStore) Close() {
	s.pool.Close()
}

// RecordOutcome applies one task outcome to the platform's counters. The
// row is updated in place when it exists; a missed update falls through to
// an insert guarded by ON CONFLICT so two first-writers cannot both land.
func (s *StatsStore) RecordOutcome(
	ctx context.Context,
	platform string,
	outcome store.Outcome,
	deltaBytes int64,
	at time.Time,
) error {
	var query string
	switch outcome {
	case store.OutcomeCompleted:
		query = `UPDATE platform_stats SET completed = completed + 1,
			bytes_total = bytes_total + $1,
			last_update = $2
			WHERE platform = $3;`
	case store.OutcomeFailed:
		query = `UPDATE platform_stats SET failed = failed + 1,
			bytes_total = bytes_total + $1,
			last_update = $2
			WHERE platform = $3;`
	case store.OutcomeSkipped:
		query = `UPDATE platform_stats SET skipped = skipped + 1,
			bytes_total = bytes_total + $1,
			last_update = $2
			WHERE platform = $3;`
	default:
		return fmt.Errorf("unknown outcome: %s", outcome)
	}

	res, err := s.pool.Exec(ctx, query, deltaBytes, at, platform)
	if err != nil {
		return fmt.Errorf("failed to update platform stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		var completed, failed, skipped int64
		switch outcome {
		case store.OutcomeCompleted:
			completed = 1
		case store.OutcomeFailed:
			failed = 1
		case store.OutcomeSkipped:
			skipped = 1
		}

		query = `
			INSERT INTO platform_stats (platform, last_update, completed, failed, skipped, bytes_total)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (platform) DO NOTHING;
		`
		_, err = s.pool.Exec(ctx, query, platform, at, completed, failed, skipped, deltaBytes)
		if err != nil {
			return fmt.Errorf("failed to insert platform stats: %w", err)
		}
	}
	return nil
}

// ListPlatforms retrieves per-platform aggregates, most recently active first.
func (s *StatsStore) ListPlatforms(ctx context.Context, limit, offset int) ([]store.PlatformStats, error) {
	query := `
		SELECT platform, last_update, completed, failed, skipped, bytes_total
		FROM platform_stats
		ORDER BY last_update DESC
		LIMIT $1 OFFSET $2;
	`
	rows, err := s.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform stats: %w", err)
	}
	defer rows.Close()

	var stats []store.PlatformStats
	for rows.Next() {
		var stat store.PlatformStats
		err := rows.Scan(
			&stat.Platform,
			&stat.LastUpdate,
			&stat.Completed,
			&stat.Failed,
			&stat.Skipped,
			&stat.BytesTotal,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan platform stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
