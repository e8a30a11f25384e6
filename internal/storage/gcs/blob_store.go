// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/arkivist/mediavault/internal/vault"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Put uploads data to the configured bucket and returns a gs:// URI.
func (s *BlobStore) Put(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// List enumerates one scope using "/" as delimiter, so immediate child
// prefixes come back as folders instead of being flattened away.
func (s *BlobStore) List(ctx context.Context, scope string) (vault.Listing, error) {
	prefix := strings.Trim(scope, "/")
	if prefix != "" {
		prefix += "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	listing := vault.Listing{
		Scope:     strings.Trim(scope, "/"),
		Folders:   []string{},
		Objects:   []vault.ObjectInfo{},
		FetchedAt: time.Now().UTC(),
	}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return vault.Listing{}, fmt.Errorf("iterate objects: %w", err)
		}
		if attrs.Prefix != "" {
			folder := strings.TrimSuffix(strings.TrimPrefix(attrs.Prefix, prefix), "/")
			listing.Folders = append(listing.Folders, folder)
			continue
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if name == "" {
			continue
		}
		listing.Objects = append(listing.Objects, vault.ObjectInfo{
			Name:    name,
			Size:    attrs.Size,
			Updated: attrs.Updated.UTC(),
		})
	}
	return listing, nil
}

// Delete removes one object from the bucket.
func (s *BlobStore) Delete(ctx context.Context, path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path is required")
	}
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("object %s: %w", path, vault.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// DeletePrefix removes every object under the scope and reports the count.
func (s *BlobStore) DeletePrefix(ctx context.Context, scope string) (int, error) {
	prefix := strings.Trim(scope, "/")
	if prefix == "" {
		return 0, fmt.Errorf("refusing to delete the whole bucket")
	}
	prefix += "/"

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	removed := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("iterate objects: %w", err)
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil {
			return removed, fmt.Errorf("delete %s: %w", attrs.Name, err)
		}
		removed++
	}
	return removed, nil
}

// SignedURL mints a V4 signed GET URL for one object.
func (s *BlobStore) SignedURL(path string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	url, err := s.client.Bucket(s.bucket).SignedURL(path, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return url, nil
}
