// Package storage provides atomic JSON persistence shared by the on-disk
// stores (registry, pending predictions, signal cache, cooldowns, plans).
// Single-process only: concurrency is handled by an in-process lock, and
// every rewrite goes through a temp file + rename.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONStore persists a single JSON document at a fixed path.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore creates a store for the given path, creating parent
// directories as needed.
func NewJSONStore(path string) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &JSONStore{path: path}, nil
}

// Path returns the backing file path.
func (s *JSONStore) Path() string { return s.path }

// Load reads the document into v. A missing file is not an error; v is left
// untouched and false is returned.
func (s *JSONStore) Load(v interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(v)
}

func (s *JSONStore) loadLocked(v interface{}) (bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	return true, nil
}

// Save atomically rewrites the document: marshal, write temp, rename.
func (s *JSONStore) Save(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(v)
}

func (s *JSONStore) saveLocked(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// Update performs a locked read-modify-write cycle. The modify callback
// receives whether the document existed and must return the value to save.
func (s *JSONStore) Update(v interface{}, modify func(loaded bool) (interface{}, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := s.loadLocked(v)
	if err != nil {
		return err
	}
	out, err := modify(loaded)
	if err != nil {
		return err
	}
	return s.saveLocked(out)
}
