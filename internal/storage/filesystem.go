// Package storage holds the sinks generated videos are written into. Writes go
// to a temporary artifact that only becomes visible under its final key on
// Commit, so an interrupted transfer never leaves a truncated file behind.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned for empty keys or keys escaping the store root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Artifact is an in-progress write. Exactly one of Commit or Abort must be
// called.
type Artifact interface {
	io.Writer
	// Commit publishes the artifact and returns its location.
	Commit() (string, error)
	// Abort discards everything written so far.
	Abort() error
}

// Store creates artifacts under keys.
type Store interface {
	Create(ctx context.Context, key string) (Artifact, error)
	// Location returns where key would be published.
	Location(key string) string
	// Ping reports whether the store can currently be written to.
	Ping(ctx context.Context) error
}

// FileStore persists artifacts onto the local filesystem.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Location returns the final path for key.
func (s *FileStore) Location(key string) string {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return ""
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
}

// Ping checks that the base directory still exists.
func (s *FileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: %s is not a directory", s.basePath)
	}
	return nil
}

// Create opens a hidden temp file next to the final path.
func (s *FileStore) Create(ctx context.Context, key string) (Artifact, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("storage: create temp file: %w", err)
	}
	return &fileArtifact{file: f, finalPath: fullPath}, nil
}

type fileArtifact struct {
	file      *os.File
	finalPath string
	done      bool
}

func (a *fileArtifact) Write(p []byte) (int, error) {
	return a.file.Write(p)
}

func (a *fileArtifact) Commit() (string, error) {
	if a.done {
		return "", errors.New("storage: artifact already finished")
	}
	a.done = true
	tmp := a.file.Name()
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("storage: sync: %w", err)
	}
	if err := a.file.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("storage: chmod: %w", err)
	}
	if err := os.Rename(tmp, a.finalPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return a.finalPath, nil
}

func (a *fileArtifact) Abort() error {
	if a.done {
		return nil
	}
	a.done = true
	a.file.Close()
	if err := os.Remove(a.file.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove temp file: %w", err)
	}
	return nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is required", ErrInvalidKey)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

var _ Store = (*FileStore)(nil)
