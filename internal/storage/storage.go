// Package storage is a small JSON-on-disk store with advisory file locks.
// It backs the workspace manifests; anything process-external that mutates
// the same files must respect the .lock convention.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Store persists JSON documents under a base directory. A path slice maps to
// a nested directory layout with a .json leaf.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*FileLock
}

// New creates a store rooted at basePath. The directory is created lazily on
// first write.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

func (s *Store) filePath(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ".json"
}

func (s *Store) dirPath(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Get reads the document at path into v.
func (s *Store) Get(ctx context.Context, path []string, v any) error {
	data, err := os.ReadFile(s.filePath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", strings.Join(path, "/"), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// Put writes the document at path atomically (temp file + rename) under the
// path's advisory lock.
func (s *Store) Put(ctx context.Context, path []string, v any) error {
	filePath := s.filePath(path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", strings.Join(path, "/"), err)
	}

	lock := s.lockFor(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", strings.Join(path, "/"), err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(path, "/"), err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", strings.Join(path, "/"), err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// Update applies fn to the document at path and writes the result back, all
// under the path's lock. A missing document starts fn from the zero value.
func (s *Store) Update(ctx context.Context, path []string, v any, fn func() error) error {
	filePath := s.filePath(path)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", strings.Join(path, "/"), err)
	}

	lock := s.lockFor(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", strings.Join(path, "/"), err)
	}
	defer lock.Unlock()

	if data, err := os.ReadFile(filePath); err == nil {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s: %w", strings.Join(path, "/"), err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", strings.Join(path, "/"), err)
	}

	if err := fn(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(path, "/"), err)
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", strings.Join(path, "/"), err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// Delete removes the document at path. Deleting a missing document is a
// no-op.
func (s *Store) Delete(ctx context.Context, path []string) error {
	filePath := s.filePath(path)

	lock := s.lockFor(filePath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", strings.Join(path, "/"), err)
	}
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", strings.Join(path, "/"), err)
	}
	return nil
}

// List returns the keys (document names and subdirectories) under a path.
func (s *Store) List(ctx context.Context, path []string) ([]string, error) {
	entries, err := os.ReadDir(s.dirPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list %s: %w", strings.Join(path, "/"), err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			keys = append(keys, name)
		case strings.HasSuffix(name, ".json"):
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

// Scan calls fn for every document directly under a path. Unreadable files
// are skipped.
func (s *Store) Scan(ctx context.Context, path []string, fn func(key string, data json.RawMessage) error) error {
	dirPath := s.dirPath(path)
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan %s: %w", strings.Join(path, "/"), err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dirPath, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// Exists reports whether a document is present at path.
func (s *Store) Exists(ctx context.Context, path []string) bool {
	_, err := os.Stat(s.filePath(path))
	return err == nil
}

func (s *Store) lockFor(filePath string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[filePath]
	if !ok {
		lock = NewFileLock(filePath)
		s.locks[filePath] = lock
	}
	return lock
}
