package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arkivist/mediavault/internal/vault"
)

func TestLedgerRecordIsInsertIfAbsent(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	ctx := context.Background()
	id := vault.Identity{Platform: "youtube", Kind: vault.KindItem, ContentID: "abc"}

	if _, err := ledger.Lookup(ctx, id); !errors.Is(err, vault.ErrNotFound) {
		t.Fatalf("empty ledger lookup: got %v, want ErrNotFound", err)
	}

	first := vault.DedupRecord{Identity: id, RemoteURI: "memory://a/b.mp4", TaskID: "t1"}
	if err := ledger.Record(ctx, first); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	second := vault.DedupRecord{Identity: id, RemoteURI: "memory://other.mp4", TaskID: "t2"}
	if err := ledger.Record(ctx, second); !errors.Is(err, vault.ErrConflict) {
		t.Fatalf("second Record(): got %v, want ErrConflict", err)
	}

	got, err := ledger.Lookup(ctx, id)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got.TaskID != "t1" || got.RemoteURI != "memory://a/b.mp4" {
		t.Fatalf("first writer should win, got %+v", got)
	}
}

func TestLedgerConcurrentWritersExactlyOneWins(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	ctx := context.Background()
	id := vault.Identity{Platform: "youtube", Kind: vault.KindItem, ContentID: "race"}

	const writers = 16
	var wg sync.WaitGroup
	wins := make(chan string, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := vault.DedupRecord{Identity: id, TaskID: string(rune('a' + n))}
			if err := ledger.Record(ctx, rec); err == nil {
				wins <- rec.TaskID
			} else if !errors.Is(err, vault.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	if ledger.Len() != 1 {
		t.Fatalf("expected one record, got %d", ledger.Len())
	}
}

func TestLedgerKeysDistinguishPlatforms(t *testing.T) {
	t.Parallel()

	ledger := NewLedger()
	ctx := context.Background()

	a := vault.Identity{Platform: "youtube", ContentID: "same"}
	b := vault.Identity{Platform: "vimeo", ContentID: "same"}
	if err := ledger.Record(ctx, vault.DedupRecord{Identity: a}); err != nil {
		t.Fatalf("Record(a) error = %v", err)
	}
	if err := ledger.Record(ctx, vault.DedupRecord{Identity: b}); err != nil {
		t.Fatalf("Record(b) error = %v", err)
	}
	if ledger.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", ledger.Len())
	}
}
