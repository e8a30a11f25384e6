package worker

import "sync"

// IdentityLocks serializes task execution per identity key so two workers
// holding tasks for the same content cannot interleave their ledger
// check-then-record windows. Unrelated identities proceed independently.
type IdentityLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewIdentityLocks constructs the shared lock set for a worker pool.
func NewIdentityLocks() *IdentityLocks {
	return &IdentityLocks{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the key's lock is held and returns its release
// function. Entries are refcounted and dropped once the last holder leaves,
// so the map does not grow with the history of identities.
func (l *IdentityLocks) Acquire(key string) (release func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
