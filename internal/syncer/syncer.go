// Package syncer uploads fetched artifacts to durable storage and keeps the
// listing cache coherent with every write. Workers call it between the fetch
// and the terminal status transition, so a task is never reported completed
// before its artifacts are visible in listings.
package syncer

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arkivist/mediavault/internal/metrics"
	"github.com/arkivist/mediavault/internal/vault"
)

// maxParallelSidecars bounds the sidecar upload fan-out per artifact.
const maxParallelSidecars = 4

// Syncer copies local artifacts into the blob store under
// <uploader>/<title>/ and applies the matching listing cache delta.
type Syncer struct {
	blobs   vault.BlobStore
	cache   vault.ListingCache
	hasher  vault.Hasher
	clock   vault.Clock
	logger  *zap.Logger
	backend string
}

// New constructs a Syncer. backend is the storage backend label used for
// metrics (memory, local, gcs).
func New(
	blobs vault.BlobStore,
	cache vault.ListingCache,
	hasher vault.Hasher,
	clock vault.Clock,
	logger *zap.Logger,
	backend string,
) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backend == "" {
		backend = "unknown"
	}
	return &Syncer{
		blobs:   blobs,
		cache:   cache,
		hasher:  hasher,
		clock:   clock,
		logger:  logger,
		backend: backend,
	}
}

// StoredArtifact describes one uploaded artifact set.
type StoredArtifact struct {
	Identity    vault.Identity
	Title       string
	Scope       string
	RemoteURI   string
	RemotePath  string
	Checksum    string
	MediaBytes  int64
	TotalBytes  int64
	SidecarURIs []string
}

// Store uploads one artifact's media file and sidecars, then updates the
// listing cache for the artifact's scope before returning. Storage errors
// carry vault.ErrStorageFailure so callers can classify them.
func (s *Syncer) Store(ctx context.Context, art vault.ItemArtifact) (StoredArtifact, error) {
	if !art.OK() {
		return StoredArtifact{}, fmt.Errorf("artifact for %s has no media file", art.Identity.Key())
	}

	start := time.Now()
	scope := vault.ArtifactScope(art.Uploader, art.Title)

	checksum, mediaBytes, err := s.digest(art.MediaPath)
	if err != nil {
		return StoredArtifact{}, err
	}

	mediaName := filepath.Base(art.MediaPath)
	mediaURI, err := s.putFile(ctx, vault.ObjectPath(scope, mediaName), art.MediaPath)
	if err != nil {
		return StoredArtifact{}, err
	}

	stored := StoredArtifact{
		Identity:   art.Identity,
		Title:      art.Title,
		Scope:      scope,
		RemoteURI:  mediaURI,
		RemotePath: vault.ObjectPath(scope, mediaName),
		Checksum:   checksum,
		MediaBytes: mediaBytes,
		TotalBytes: mediaBytes,
	}

	sidecarSizes, sidecarURIs, err := s.putSidecars(ctx, scope, art.Sidecars)
	if err != nil {
		return StoredArtifact{}, err
	}
	stored.SidecarURIs = sidecarURIs
	for _, size := range sidecarSizes {
		stored.TotalBytes += size
	}

	s.refreshCache(ctx, scope, mediaName, mediaBytes, art.Sidecars, sidecarSizes)

	metrics.ObserveUpload(s.backend, time.Since(start))
	s.logger.Debug("artifact stored",
		zap.String("identity", art.Identity.Key()),
		zap.String("scope", scope),
		zap.String("uri", mediaURI),
		zap.Int64("bytes", stored.TotalBytes),
		zap.Int("sidecars", len(sidecarURIs)),
	)
	return stored, nil
}

// digest hashes the media file in one streaming pass.
func (s *Syncer) digest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open media %s: %w", path, err)
	}
	defer f.Close()

	checksum, n, err := s.hasher.HashReader(f)
	if err != nil {
		return "", 0, fmt.Errorf("hash media %s: %w", path, err)
	}
	return checksum, n, nil
}

// putFile streams one local file into the blob store.
func (s *Syncer) putFile(ctx context.Context, objectPath, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	uri, err := s.blobs.Put(ctx, objectPath, contentTypeFor(objectPath), f)
	if err != nil {
		return "", fmt.Errorf("put %s: %w: %w", objectPath, vault.ErrStorageFailure, err)
	}
	return uri, nil
}

// putSidecars uploads the sidecar files concurrently. A failed sidecar fails
// the whole store: a half-synced artifact set would defeat the dedup ledger's
// promise that a recorded identity is fully archived.
func (s *Syncer) putSidecars(ctx context.Context, scope string, sidecars []string) ([]int64, []string, error) {
	if len(sidecars) == 0 {
		return nil, nil, nil
	}

	sizes := make([]int64, len(sidecars))
	uris := make([]string, len(sidecars))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSidecars)
	for i, sidecar := range sidecars {
		g.Go(func() error {
			info, err := os.Stat(sidecar)
			if err != nil {
				return fmt.Errorf("stat sidecar %s: %w", sidecar, err)
			}
			uri, err := s.putFile(gctx, vault.ObjectPath(scope, filepath.Base(sidecar)), sidecar)
			if err != nil {
				return err
			}
			sizes[i] = info.Size()
			uris[i] = uri
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sizes, uris, nil
}

// refreshCache applies the new objects to every cached covering scope. If a
// delta cannot be applied the scope chain is invalidated instead; a stale
// listing must never outlive the write that staled it.
func (s *Syncer) refreshCache(
	ctx context.Context,
	scope, mediaName string,
	mediaBytes int64,
	sidecars []string,
	sidecarSizes []int64,
) {
	if s.cache == nil {
		return
	}
	now := s.clock.Now()
	objects := []vault.ObjectInfo{{Name: mediaName, Size: mediaBytes, Updated: now}}
	for i, sidecar := range sidecars {
		var size int64
		if i < len(sidecarSizes) {
			size = sidecarSizes[i]
		}
		objects = append(objects, vault.ObjectInfo{Name: filepath.Base(sidecar), Size: size, Updated: now})
	}

	for _, obj := range objects {
		if err := s.cache.Insert(ctx, scope, obj); err != nil {
			s.logger.Warn("cache insert failed, invalidating scope",
				zap.String("scope", scope), zap.Error(err))
			if invErr := s.cache.Invalidate(ctx, scope); invErr != nil {
				s.logger.Error("cache invalidate failed", zap.String("scope", scope), zap.Error(invErr))
			}
			return
		}
	}
}

func contentTypeFor(path string) string {
	if ctype := mime.TypeByExtension(filepath.Ext(path)); ctype != "" {
		return ctype
	}
	return "application/octet-stream"
}
