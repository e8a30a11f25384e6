package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/arkivist/mediavault/internal/vault"
)

func TestLedgerRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock, "dedup_ledger")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := vault.DedupRecord{
		Identity:   vault.Identity{Platform: "youtube", Kind: vault.KindItem, ContentID: "abc"},
		Title:      "A Video",
		RemoteURI:  "gs://bucket/Creator/A Video/video.mp4",
		RemotePath: "Creator/A Video/video.mp4",
		Checksum:   "deadbeef",
		Bytes:      1024,
		TaskID:     "task-1",
		StoredAt:   now,
	}

	mock.ExpectExec("INSERT INTO dedup_ledger").
		WithArgs(
			"youtube:abc",
			"youtube",
			"item",
			"abc",
			rec.Title,
			rec.RemoteURI,
			rec.RemotePath,
			rec.Checksum,
			rec.Bytes,
			rec.TaskID,
			rec.StoredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Record(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRecordConflictWhenRowExists(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock, "dedup_ledger")
	require.NoError(t, err)

	rec := vault.DedupRecord{
		Identity: vault.Identity{Platform: "youtube", Kind: vault.KindItem, ContentID: "abc"},
		StoredAt: time.Unix(1700000000, 0).UTC(),
	}

	// ON CONFLICT DO NOTHING reports zero rows when the key already exists.
	mock.ExpectExec("INSERT INTO dedup_ledger").
		WithArgs(
			"youtube:abc", "youtube", "item", "abc",
			"", "", "", "", int64(0), "", rec.StoredAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err = store.Record(context.Background(), rec)
	require.ErrorIs(t, err, vault.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerLookup(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock, "dedup_ledger")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"platform", "kind", "content_id", "title", "remote_uri",
		"remote_path", "checksum", "bytes", "task_id", "stored_at",
	}).AddRow("youtube", "item", "abc", "A Video", "gs://b/p", "p", "deadbeef", int64(1024), "task-1", now)

	mock.ExpectQuery("SELECT platform, kind, content_id").
		WithArgs("youtube:abc").
		WillReturnRows(rows)

	got, err := store.Lookup(context.Background(), vault.Identity{Platform: "youtube", Kind: vault.KindItem, ContentID: "abc"})
	require.NoError(t, err)
	require.Equal(t, "A Video", got.Title)
	require.Equal(t, int64(1024), got.Bytes)
	require.Equal(t, vault.KindItem, got.Identity.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerLookupNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock, "dedup_ledger")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT platform, kind, content_id").
		WithArgs("youtube:missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.Lookup(context.Background(), vault.Identity{Platform: "youtube", ContentID: "missing"})
	require.ErrorIs(t, err, vault.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLedgerStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewLedgerStoreWithPool(mock, "bad-table;drop")
	require.Error(t, err)

	_, err = NewLedgerStoreWithPool(nil, "dedup_ledger")
	require.Error(t, err)
}

func TestLedgerRecordRequiresIdentity(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewLedgerStoreWithPool(mock, "dedup_ledger")
	require.NoError(t, err)

	err = store.Record(context.Background(), vault.DedupRecord{})
	require.Error(t, err)
	require.NotErrorIs(t, err, vault.ErrConflict)
}
