// Package prefixed nests a BlobStore under a fixed key prefix, so one
// bucket can host the media vault next to unrelated data.
package prefixed

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/arkivist/mediavault/internal/vault"
)

// BlobStore rewrites every path through the prefix on the way in and
// strips it from listings on the way out. Callers never see the prefix.
type BlobStore struct {
	inner  vault.BlobStore
	prefix string
}

// Wrap nests inner under prefix. An empty prefix returns inner unchanged.
func Wrap(inner vault.BlobStore, prefix string) vault.BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return inner
	}
	return &BlobStore{inner: inner, prefix: prefix}
}

// Put streams one object under the prefix.
func (s *BlobStore) Put(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	return s.inner.Put(ctx, s.join(path), contentType, r)
}

// List enumerates one scope. The returned listing carries the caller's
// scope, not the prefixed one.
func (s *BlobStore) List(ctx context.Context, scope string) (vault.Listing, error) {
	listing, err := s.inner.List(ctx, s.join(scope))
	if err != nil {
		return vault.Listing{}, err
	}
	listing.Scope = strings.Trim(scope, "/")
	return listing, nil
}

// Delete removes one object under the prefix.
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	return s.inner.Delete(ctx, s.join(path))
}

// DeletePrefix removes every object under the scope. The root scope maps
// to the prefix itself, so it clears the vault without touching neighbors.
func (s *BlobStore) DeletePrefix(ctx context.Context, scope string) (int, error) {
	return s.inner.DeletePrefix(ctx, s.join(scope))
}

// SignedURL mints a link for one object under the prefix.
func (s *BlobStore) SignedURL(path string, ttl time.Duration) (string, error) {
	return s.inner.SignedURL(s.join(path), ttl)
}

func (s *BlobStore) join(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return s.prefix
	}
	return s.prefix + "/" + p
}
