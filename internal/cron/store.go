package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const storeVersion = 1

type storeFile struct {
	Version int    `json:"version"`
	Jobs    []*Job `json:"jobs"`
}

// Store persists the job list as a versioned JSON document. Writes go
// through a temp file and rename so a crash never leaves a torn store.
type Store struct {
	path string
}

// NewStore creates a store backed by path. Parent directories are
// created on first save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the job list. A missing file is an empty store.
func (s *Store) Load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cron store: %w", err)
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cron store %s: %w", s.path, err)
	}
	if f.Version != storeVersion {
		return nil, fmt.Errorf("cron store %s has unsupported version %d", s.path, f.Version)
	}
	return f.Jobs, nil
}

// Save atomically replaces the store contents.
func (s *Store) Save(jobs []*Job) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create cron store dir: %w", err)
	}
	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Jobs: jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace cron store: %w", err)
	}
	return nil
}
