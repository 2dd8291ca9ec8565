package syncsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a Store backed by a single JSON file. It holds the last
// synced copy of every record so subsequent runs can skip unchanged ones.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[EntityType]map[string]Item
}

// NewFileStore loads (or initializes) the store file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		records: make(map[EntityType]map[string]Item),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}

	if err != nil {
		return nil, fmt.Errorf("syncsvc: reading store %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("syncsvc: parsing store %s: %w", path, err)
	}

	return s, nil
}

// Get loads the stored copy of a record.
func (s *FileStore) Get(_ context.Context, entityType EntityType, id string) (Item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.records[entityType][id]

	return item, ok, nil
}

// Put writes a record and flushes the store file.
func (s *FileStore) Put(_ context.Context, entityType EntityType, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[entityType] == nil {
		s.records[entityType] = make(map[string]Item)
	}

	s.records[entityType][item.ID] = item

	return s.flushLocked()
}

// flushLocked atomically rewrites the store file. Caller holds s.mu.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("syncsvc: encoding store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("syncsvc: creating store dir: %w", err)
	}

	tmp := s.path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("syncsvc: writing store: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("syncsvc: replacing store: %w", err)
	}

	return nil
}
