// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/arkivist/mediavault/internal/vault"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where artifacts will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir: cfg.BaseDir,
	}, nil
}

// Put streams data to a file under the base directory and returns a
// file:// URI. Parent directories are created as needed.
func (s *BlobStore) Put(_ context.Context, path string, _ string, r io.Reader) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	return fmt.Sprintf("file://%s", fullPath), nil
}

// List enumerates one directory level under the scope.
func (s *BlobStore) List(_ context.Context, scope string) (vault.Listing, error) {
	dir, err := s.resolveDir(scope)
	if err != nil {
		return vault.Listing{}, err
	}

	listing := vault.Listing{
		Scope:     strings.Trim(scope, "/"),
		Folders:   []string{},
		Objects:   []vault.ObjectInfo{},
		FetchedAt: time.Now().UTC(),
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return listing, nil
		}
		return vault.Listing{}, fmt.Errorf("failed to read directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			listing.Folders = append(listing.Folders, name)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		listing.Objects = append(listing.Objects, vault.ObjectInfo{
			Name:    name,
			Size:    info.Size(),
			Updated: info.ModTime().UTC(),
		})
	}
	sort.Strings(listing.Folders)
	sort.Slice(listing.Objects, func(i, j int) bool {
		return listing.Objects[i].Name < listing.Objects[j].Name
	})
	return listing, nil
}

// Delete removes one stored object.
func (s *BlobStore) Delete(_ context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("object %s: %w", path, vault.ErrNotFound)
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// DeletePrefix removes the whole directory tree under the scope.
func (s *BlobStore) DeletePrefix(_ context.Context, scope string) (int, error) {
	dir, err := s.resolveDir(scope)
	if err != nil {
		return 0, err
	}
	if dir == filepath.Clean(s.baseDir) {
		return 0, fmt.Errorf("refusing to delete the base directory")
	}

	count := 0
	walkErr := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to walk directory: %w", walkErr)
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("failed to delete directory: %w", err)
	}
	return count, nil
}

// SignedURL returns a plain file URI; local files need no signature.
func (s *BlobStore) SignedURL(path string, _ time.Duration) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("object %s: %w", path, vault.ErrNotFound)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

// resolve joins the path onto the base directory and rejects traversal
// out of it.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(s.baseDir, path)
	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(fullPath)
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFullPath, nil
}

func (s *BlobStore) resolveDir(scope string) (string, error) {
	scope = strings.Trim(scope, "/")
	if scope == "" {
		return filepath.Clean(s.baseDir), nil
	}
	return s.resolve(scope)
}
