// Package progress persists the discovered manifest and the completion
// marks of one crawl target inside its output directory.
package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"zhihu_archiver/internal/links"
	"zhihu_archiver/internal/logger"
	"zhihu_archiver/internal/models"
	"zhihu_archiver/internal/output"
)

const (
	LinksFile    = "links.json"
	ProgressFile = "progress.json"
)

var (
	ErrProgressStoreCorruption = errors.New("progress store corrupted")
	ErrUnknownItem             = errors.New("item is not in the manifest")
)

// Store is the single writer of links.json and progress.json. Completion
// marks are buffered and written every flushEvery marks.
type Store struct {
	mu         sync.Mutex
	dir        string
	targetKey  string
	flushEvery int
	log        logger.Interface

	manifest     *links.Manifest
	haveManifest bool
	completed    map[string]models.CompletedItem
	order        []string
	config       json.RawMessage
	configDirty  bool
	pending      int
}

// Load opens the store for targetKey in dir. Missing files mean a fresh
// target. A completion mark outside the manifest, unreadable JSON or a
// record for another target fails with ErrProgressStoreCorruption.
func Load(dir, targetKey string, flushEvery int, log logger.Interface) (*Store, error) {
	if flushEvery < 1 {
		flushEvery = 1
	}
	s := &Store{
		dir:        dir,
		targetKey:  targetKey,
		flushEvery: flushEvery,
		log:        log.WithComponent("progress"),
		manifest:   links.NewManifest(),
		completed:  make(map[string]models.CompletedItem),
	}

	data, err := os.ReadFile(filepath.Join(dir, LinksFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, s.manifest); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProgressStoreCorruption, LinksFile, err)
		}
		s.haveManifest = true
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", LinksFile, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, ProgressFile))
	switch {
	case err == nil:
		if err := s.restore(data); err != nil {
			return nil, err
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", ProgressFile, err)
	}

	s.log.Debug("Progress loaded", "dir", dir, "manifest", s.manifest.Len(), "completed", len(s.completed))
	return s, nil
}

func (s *Store) restore(data []byte) error {
	var record models.ProgressRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProgressStoreCorruption, ProgressFile, err)
	}
	if record.TargetKey != "" && record.TargetKey != s.targetKey {
		return fmt.Errorf("%w: %s belongs to %q, not %q", ErrProgressStoreCorruption, s.dir, record.TargetKey, s.targetKey)
	}

	for _, item := range record.Completed {
		key := item.Key()
		if !s.manifest.Contains(item.ContentIdentifier) {
			return fmt.Errorf("%w: completed item %s is missing from %s", ErrProgressStoreCorruption, key, LinksFile)
		}
		if _, dup := s.completed[key]; dup {
			continue
		}
		s.completed[key] = item
		s.order = append(s.order, key)
	}
	s.config = record.Config
	return nil
}

// HasManifest reports whether a manifest was ever recorded.
func (s *Store) HasManifest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haveManifest
}

// Manifest returns a copy of the recorded manifest.
func (s *Store) Manifest() *links.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return links.NewManifest(s.manifest.Items()...)
}

// RecordDiscovered persists m. It must extend the recorded manifest: every
// recorded item keeps its position.
func (s *Store) RecordDiscovered(m *links.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, next := s.manifest.Items(), m.Items()
	if len(next) < len(old) {
		return fmt.Errorf("manifest shrank from %d to %d items", len(old), len(next))
	}
	for i, id := range old {
		if !next[i].Equal(id) {
			return fmt.Errorf("manifest reorders %s at position %d", id.Key(), i)
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := output.WriteFileAtomic(filepath.Join(s.dir, LinksFile), data); err != nil {
		return err
	}
	s.manifest = links.NewManifest(next...)
	s.haveManifest = true
	s.log.Info("Manifest recorded", "items", len(next), "new", len(next)-len(old))
	return nil
}

// RecordCompleted marks id archived at path. Call it only after the
// artifact is durably written.
func (s *Store) RecordCompleted(id models.ContentIdentifier, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.manifest.Contains(id) {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id.Key())
	}
	key := id.Key()
	if _, ok := s.completed[key]; !ok {
		s.order = append(s.order, key)
	}
	s.completed[key] = models.CompletedItem{ContentIdentifier: id, Path: path}

	s.pending++
	if s.pending >= s.flushEvery {
		return s.flushLocked()
	}
	return nil
}

// Reopen drops the completion mark of id so the item is archived again.
// It reports whether a mark was removed.
func (s *Store) Reopen(id models.ContentIdentifier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := id.Key()
	if _, ok := s.completed[key]; !ok {
		return false
	}
	delete(s.completed, key)
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	s.pending++
	return true
}

func (s *Store) IsCompleted(id models.ContentIdentifier) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[id.Key()]
	return ok
}

// Completed returns the completion marks in the order they were made.
func (s *Store) Completed() []models.CompletedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CompletedItem, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.completed[key])
	}
	return out
}

// SetConfig stores a snapshot of the run configuration with the next
// flush. An unchanged snapshot does not make the store dirty.
func (s *Store) SetConfig(snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode config snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current bytes.Buffer
	if len(s.config) > 0 && json.Compact(&current, s.config) == nil && bytes.Equal(current.Bytes(), data) {
		return nil
	}
	s.config = data
	s.configDirty = true
	return nil
}

// Flush writes buffered completion marks. It does nothing when the store
// has no unsaved changes.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 && !s.configDirty {
		return nil
	}
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	record := models.ProgressRecord{
		TargetKey: s.targetKey,
		Completed: make([]models.CompletedItem, 0, len(s.order)),
		Config:    s.config,
		UpdatedAt: time.Now().UTC(),
	}
	for _, key := range s.order {
		record.Completed = append(record.Completed, s.completed[key])
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := output.WriteFileAtomic(filepath.Join(s.dir, ProgressFile), data); err != nil {
		return err
	}
	s.pending = 0
	s.configDirty = false
	return nil
}
