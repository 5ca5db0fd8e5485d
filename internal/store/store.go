// Package store provides a mutex-guarded, file-backed document used for the
// two pieces of state this agent must not lose between runs: the user's
// credentials and the thing registry.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store guards a single in-memory value of type T with a RWMutex and mirrors
// every successful mutation to a file before the write lock is released.
type Store[T any] struct {
	mu   sync.RWMutex
	path string
	val  T
}

// New loads path into a Store, creating it with the zero value of T if it
// does not yet exist. A corrupt file is a fatal initialization error.
func New[T any](path string) (*Store[T], error) {
	s := &Store[T]{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.persist(s.val); err != nil {
			return nil, fmt.Errorf("store: failed to initialize %s: %w", path, err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("store: failed to read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.val); err != nil {
		return nil, fmt.Errorf("store: corrupt document %s: %w", path, err)
	}
	return s, nil
}

// Read runs f against a read-only snapshot of the current value.
func (s *Store[T]) Read(f func(v T)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f(s.val)
}

// Update runs f against the live value under the write lock. If f returns an
// error, the in-memory value is rolled back to the pre-call snapshot and the
// backing file is left untouched. On success the new value is persisted
// before the lock is released; a persistence failure also rolls back.
func (s *Store[T]) Update(f func(v *T) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := clone(s.val)
	if err != nil {
		return fmt.Errorf("store: failed to snapshot document: %w", err)
	}

	if err := f(&s.val); err != nil {
		s.val = snapshot
		return err
	}

	if err := s.persist(s.val); err != nil {
		s.val = snapshot
		return fmt.Errorf("store: failed to persist %s: %w", s.path, err)
	}
	return nil
}

func (s *Store[T]) persist(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func clone[T any](v T) (T, error) {
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
