// Package library serves the remote media library: cached listings,
// object housekeeping and presigned download links.
package library

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arkivist/mediavault/internal/metrics"
	"github.com/arkivist/mediavault/internal/vault"
)

// Service answers library reads from the listing cache and keeps the cache
// coherent across deletes. Writes reach the cache through the upload path,
// so a listing served here is never older than the last acknowledged write.
type Service struct {
	blobs  vault.BlobStore
	cache  vault.ListingCache
	logger *zap.Logger
}

// New constructs a Service.
func New(blobs vault.BlobStore, cache vault.ListingCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		blobs:  blobs,
		cache:  cache,
		logger: logger,
	}
}

// Browse returns the listing for one scope. Fresh cache entries are served
// directly; misses and refresh=true fall through to storage and repopulate
// the cache.
func (s *Service) Browse(ctx context.Context, scope string, refresh bool) (vault.Listing, error) {
	scope = strings.Trim(scope, "/")

	if !refresh {
		listing, ok, err := s.cache.Get(ctx, scope)
		if err != nil {
			s.logger.Warn("cache read failed", zap.String("scope", scope), zap.Error(err))
		}
		metrics.ObserveCacheLookup(ok)
		if ok {
			return listing, nil
		}
	}

	listing, err := s.blobs.List(ctx, scope)
	if err != nil {
		return vault.Listing{}, fmt.Errorf("list %q: %w: %w", scope, vault.ErrStorageFailure, err)
	}
	if err := s.cache.Put(ctx, scope, listing); err != nil {
		s.logger.Warn("cache write failed", zap.String("scope", scope), zap.Error(err))
	}
	return listing, nil
}

// DeleteObject removes one object and invalidates every covering scope.
func (s *Service) DeleteObject(ctx context.Context, path string) error {
	path = strings.Trim(path, "/")
	if path == "" {
		return errors.New("object path is required")
	}
	if err := s.blobs.Delete(ctx, path); err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete %s: %w: %w", path, vault.ErrStorageFailure, err)
	}
	s.invalidate(ctx, vault.ScopeOf(path))
	s.logger.Info("object deleted", zap.String("path", path))
	return nil
}

// DeleteFolder removes every object under the scope and reports the count.
// The root scope is refused: emptying the whole store must not be one
// querystring typo away.
func (s *Service) DeleteFolder(ctx context.Context, scope string) (int, error) {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		return 0, errors.New("refusing to delete the root scope")
	}
	removed, err := s.blobs.DeletePrefix(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("delete prefix %s: %w: %w", scope, vault.ErrStorageFailure, err)
	}
	s.invalidate(ctx, scope)
	s.logger.Info("folder deleted", zap.String("scope", scope), zap.Int("objects", removed))
	return removed, nil
}

// SignedURL mints a time-limited download link for one object.
func (s *Service) SignedURL(path string, ttl time.Duration) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", errors.New("object path is required")
	}
	url, err := s.blobs.SignedURL(path, ttl)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("sign %s: %w: %w", path, vault.ErrStorageFailure, err)
	}
	return url, nil
}

// invalidate drops the scope from the cache; the cache walks the covering
// chain itself.
func (s *Service) invalidate(ctx context.Context, scope string) {
	if err := s.cache.Invalidate(ctx, scope); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("scope", scope), zap.Error(err))
	}
}
