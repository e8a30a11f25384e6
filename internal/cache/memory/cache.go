// Package memory implements the listing cache on a process-local map.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/arkivist/mediavault/internal/cache"
	"github.com/arkivist/mediavault/internal/vault"
)

const defaultTTL = 5 * time.Minute

type entry struct {
	listing   vault.Listing
	expiresAt time.Time
}

// Cache keeps per-scope listings with a TTL. Entries vanish on expiry, on
// Invalidate, and on process restart.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Cache with the given TTL. Non-positive TTLs fall back to
// five minutes.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NewWithClock creates a Cache against an injected clock, for tests.
func NewWithClock(ttl time.Duration, now func() time.Time) *Cache {
	c := New(ttl)
	if now != nil {
		c.now = now
	}
	return c
}

// Get returns the cached listing for the scope, expiring it lazily.
func (c *Cache) Get(_ context.Context, scope string) (vault.Listing, bool, error) {
	key := scopeKey(scope)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return vault.Listing{}, false, nil
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return vault.Listing{}, false, nil
	}
	return e.listing, true, nil
}

// Put stores a listing for the scope with a fresh TTL.
func (c *Cache) Put(_ context.Context, scope string, listing vault.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[scopeKey(scope)] = entry{
		listing:   listing,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Insert applies a single-object delta to every cached covering scope.
// Scopes without a live entry are left alone; they will be re-listed on
// the next read.
func (c *Cache) Insert(_ context.Context, scope string, obj vault.ObjectInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, covering := range vault.CoveringScopes(scope) {
		key := scopeKey(covering)
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			continue
		}
		cache.ApplyInsert(&e.listing, covering, scope, obj)
		c.entries[key] = e
	}
	return nil
}

// Invalidate drops the scope and every ancestor scope.
func (c *Cache) Invalidate(_ context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, covering := range vault.CoveringScopes(scope) {
		delete(c.entries, scopeKey(covering))
	}
	return nil
}

func scopeKey(scope string) string {
	return "listing:" + scope
}
