package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"busconnect/pkg/domain"
)

// Snapshot is the offline copy of the session's data.
type Snapshot struct {
	User     *domain.User     `json:"user,omitempty"`
	Token    string           `json:"token,omitempty"`
	Users    []domain.User    `json:"users"`
	Products []domain.Product `json:"products"`
	Checkins []domain.Checkin `json:"checkins"`
	SavedAt  time.Time        `json:"saved_at"`
}

// FileCache persists a Snapshot as a JSON file.
type FileCache struct {
	path string
}

// NewFileCache returns a cache stored at path.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (c *FileCache) Load() (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("read cache: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse cache: %w", err)
	}
	return snap, nil
}

// Save replaces the cache file atomically.
func (c *FileCache) Save(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".busconnect-cache-*")
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}
