// Package memory stores tasks, ledger rows and blob content in-memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arkivist/mediavault/internal/vault"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	updated map[string]time.Time
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:    make(map[string][]byte),
		updated: make(map[string]time.Time),
	}
}

// Put persists the content and returns a URI.
func (s *BlobStore) Put(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	byteData, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), byteData...)
	s.updated[path] = time.Now().UTC()
	return fmt.Sprintf("memory://%s", path), nil
}

// List enumerates one scope with "/" as delimiter: objects directly under
// the scope plus the immediate child folders.
func (s *BlobStore) List(_ context.Context, scope string) (vault.Listing, error) {
	prefix := normalizePrefix(scope)

	s.mu.RLock()
	defer s.mu.RUnlock()

	listing := vault.Listing{
		Scope:     strings.Trim(scope, "/"),
		Folders:   []string{},
		Objects:   []vault.ObjectInfo{},
		FetchedAt: time.Now().UTC(),
	}
	folders := make(map[string]bool)
	for path, content := range s.data {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(path, prefix)
		if idx := strings.Index(rest, "/"); idx >= 0 {
			folders[rest[:idx]] = true
			continue
		}
		listing.Objects = append(listing.Objects, vault.ObjectInfo{
			Name:    rest,
			Size:    int64(len(content)),
			Updated: s.updated[path],
		})
	}
	for name := range folders {
		listing.Folders = append(listing.Folders, name)
	}
	sort.Strings(listing.Folders)
	sort.Slice(listing.Objects, func(i, j int) bool {
		return listing.Objects[i].Name < listing.Objects[j].Name
	})
	return listing, nil
}

// Delete removes one object.
func (s *BlobStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[path]; !ok {
		return fmt.Errorf("object %s: %w", path, vault.ErrNotFound)
	}
	delete(s.data, path)
	delete(s.updated, path)
	return nil
}

// DeletePrefix removes every object under the scope.
func (s *BlobStore) DeletePrefix(_ context.Context, scope string) (int, error) {
	prefix := normalizePrefix(scope)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for path := range s.data {
		if strings.HasPrefix(path, prefix) {
			delete(s.data, path)
			delete(s.updated, path)
			removed++
		}
	}
	return removed, nil
}

// SignedURL returns a pseudo URL; in-memory objects have nothing to sign.
func (s *BlobStore) SignedURL(path string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[path]; !ok {
		return "", fmt.Errorf("object %s: %w", path, vault.ErrNotFound)
	}
	expires := time.Now().UTC().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s?expires=%d", path, expires), nil
}

// Object returns a stored object's bytes, for tests.
func (s *BlobStore) Object(path string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.data[path]
	return content, ok
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func normalizePrefix(scope string) string {
	prefix := strings.Trim(scope, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}
