package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/arkivist/mediavault/internal/vault"
)

// Ledger is the in-memory dedup ledger. Record is first-writer-wins under
// one lock, which gives the same atomicity the postgres ledger gets from
// ON CONFLICT DO NOTHING.
type Ledger struct {
	mu      sync.RWMutex
	records map[string]vault.DedupRecord
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		records: make(map[string]vault.DedupRecord),
	}
}

// Lookup fetches the record for an identity.
func (l *Ledger) Lookup(_ context.Context, id vault.Identity) (vault.DedupRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id.Key()]
	if !ok {
		return vault.DedupRecord{}, fmt.Errorf("ledger %s: %w", id.Key(), vault.ErrNotFound)
	}
	return rec, nil
}

// Record inserts the record if its identity is absent. The second and
// every later writer for the same identity gets ErrConflict.
func (l *Ledger) Record(_ context.Context, rec vault.DedupRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := rec.Identity.Key()
	if _, exists := l.records[key]; exists {
		return fmt.Errorf("ledger %s: %w", key, vault.ErrConflict)
	}
	l.records[key] = rec
	return nil
}

// Len reports how many identities are recorded.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
