// Package storage implements the blob store behind runbook documents and
// postmortem reports.
//
// The storage layer provides a pluggable backend interface. The default
// implementation uses the local filesystem; S3Storage keeps postmortems in
// an S3 (or S3-compatible) bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned by Read when no object exists at the path.
var ErrNotFound = errors.New("storage: not found")

// Backend defines the interface for blob storage operations.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write replaces the object at path. Readers see either the old or the
	// new content, never a partial object.
	Write(ctx context.Context, path string, data []byte) error

	// Read returns the object at path, or an error wrapping ErrNotFound.
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns object paths under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	Exists(ctx context.Context, path string) (bool, error)

	// Location returns a human-usable handle for the object at path.
	Location(path string) string
}

// tempPrefix marks in-progress writes. List never reports them.
const tempPrefix = ".pitcrew-tmp-"

// LocalStorage keeps objects as files below a root directory.
type LocalStorage struct {
	rootDir string
	mu      sync.RWMutex
}

// NewLocalStorage opens (and if needed creates) root as a storage root.
func NewLocalStorage(root string) (*LocalStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", abs, err)
	}
	return &LocalStorage{rootDir: abs}, nil
}

// file maps an object path to a file below the root. Absolute paths and
// paths climbing out of the root are rejected.
func (s *LocalStorage) file(p string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: path %q escapes the storage root", p)
	}
	full := filepath.Join(s.rootDir, rel)
	if full != s.rootDir && !strings.HasPrefix(full, s.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: path %q escapes the storage root", p)
	}
	return full, nil
}

// Write stores data through a synced temp file renamed over the target.
func (s *LocalStorage) Write(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := s.file(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: stage %q: %w", p, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write %q: %w", p, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: sync %q: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close %q: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("storage: commit %q: %w", p, err)
	}
	committed = true
	return nil
}

// Read returns the bytes stored at p.
func (s *LocalStorage) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.file(p)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %q", ErrNotFound, p)
	case err != nil:
		return nil, fmt.Errorf("storage: read %q: %w", p, err)
	}
	return data, nil
}

// List walks prefix and returns slash-separated paths relative to the root.
// A missing prefix lists nothing.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, err := s.file(prefix)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == start {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", prefix, err)
	}

	sort.Strings(out)
	return out, nil
}

// Exists reports whether an object is stored at p.
func (s *LocalStorage) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	full, err := s.file(p)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("storage: stat %q: %w", p, err)
	}
	return true, nil
}

// Location returns the absolute filesystem path for p.
func (s *LocalStorage) Location(p string) string {
	return filepath.Join(s.rootDir, filepath.Clean(filepath.FromSlash(p)))
}
