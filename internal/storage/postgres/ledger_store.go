// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arkivist/mediavault/internal/vault"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// LedgerConfig controls the Postgres connection pool behind the dedup ledger.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the slice of pgxpool.Pool the stores rely on; pgxmock
// implements it too, which keeps the stores testable without a database.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// LedgerStore is the durable dedup ledger. Record relies on a unique key
// plus ON CONFLICT DO NOTHING, so concurrent writers race safely: exactly
// one insert lands and everyone else observes a conflict.
type LedgerStore struct {
	pool  querier
	table string
}

// NewLedgerStore creates a Postgres-backed LedgerStore using the provided config.
func NewLedgerStore(ctx context.Context, cfg LedgerConfig) (*LedgerStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "dedup_ledger"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &LedgerStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewLedgerStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewLedgerStoreWithPool(pool querier, table string) (*LedgerStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "dedup_ledger"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &LedgerStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *LedgerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Record inserts the dedup row if its identity key is absent. A zero
// RowsAffected means another writer got there first; that surfaces as
// vault.ErrConflict so the caller can skip the download.
func (s *LedgerStore) Record(ctx context.Context, rec vault.DedupRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("ledger store is not configured")
	}
	if rec.Identity.Zero() {
		return fmt.Errorf("record identity is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	identity_key,
	platform,
	kind,
	content_id,
	title,
	remote_uri,
	remote_path,
	checksum,
	bytes,
	task_id,
	stored_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (identity_key) DO NOTHING`, s.table)

	args := []any{
		rec.Identity.Key(),
		rec.Identity.Platform,
		string(rec.Identity.Kind),
		rec.Identity.ContentID,
		rec.Title,
		rec.RemoteURI,
		rec.RemotePath,
		rec.Checksum,
		rec.Bytes,
		rec.TaskID,
		rec.StoredAt,
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert ledger row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger %s: %w", rec.Identity.Key(), vault.ErrConflict)
	}
	return nil
}

// Lookup fetches the dedup row for an identity.
func (s *LedgerStore) Lookup(ctx context.Context, id vault.Identity) (vault.DedupRecord, error) {
	if s == nil || s.pool == nil {
		return vault.DedupRecord{}, fmt.Errorf("ledger store is not configured")
	}
	query := fmt.Sprintf(`
SELECT platform, kind, content_id, title, remote_uri, remote_path, checksum, bytes, task_id, stored_at
FROM %s
WHERE identity_key = $1`, s.table)

	var rec vault.DedupRecord
	var kind string
	err := s.pool.QueryRow(ctx, query, id.Key()).Scan(
		&rec.Identity.Platform,
		&kind,
		&rec.Identity.ContentID,
		&rec.Title,
		&rec.RemoteURI,
		&rec.RemotePath,
		&rec.Checksum,
		&rec.Bytes,
		&rec.TaskID,
		&rec.StoredAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.DedupRecord{}, fmt.Errorf("ledger %s: %w", id.Key(), vault.ErrNotFound)
	}
	if err != nil {
		return vault.DedupRecord{}, fmt.Errorf("query ledger row: %w", err)
	}
	rec.Identity.Kind = vault.LocatorKind(kind)
	return rec, nil
}
