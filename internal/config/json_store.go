package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/greenloop/hydroctl/internal/models"
)

const (
	stateFileName = "state.json"
	debounceDelay = 500 * time.Millisecond
)

// JSONStore is an atomic JSON file store with debounced writes. A save equal
// to the state on disk, or to the write already pending, is dropped.
type JSONStore struct {
	mu      sync.Mutex
	path    string
	timer   *time.Timer
	pending *models.State
	last    *models.State // last state loaded from or written to disk
}

// NewJSONStore creates a store for state.json in dir.
func NewJSONStore(dir string) *JSONStore {
	return &JSONStore{
		path: filepath.Join(dir, stateFileName),
	}
}

// Path returns the file path used by this store.
func (s *JSONStore) Path() string { return s.path }

// Load reads the state from disk. Returns DefaultState on ENOENT or parse errors.
func (s *JSONStore) Load() (*models.State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			def := models.DefaultState()
			return &def, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var state models.State
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("config: corrupt state file, using defaults", "path", s.path, "err", err)
		def := models.DefaultState()
		return &def, nil
	}

	migrateState(&state)
	s.remember(&state)
	return &state, nil
}

func (s *JSONStore) remember(st *models.State) {
	cp := st.DeepCopy()
	s.mu.Lock()
	s.last = &cp
	s.mu.Unlock()
}

// Save schedules a debounced write of the state to disk. The write happens
// once Save has not been called for debounceDelay.
func (s *JSONStore) Save(state *models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.pending
	if current == nil {
		current = s.last
	}
	if current != nil && current.Equal(*state) {
		return nil
	}

	cp := state.DeepCopy()
	s.pending = &cp

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		if err := s.writePending(); err != nil {
			slog.Error("config: failed to write state", "path", s.path, "err", err)
		}
	})
	return nil
}

// Flush forces an immediate write of any pending state.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.writePending()
}

// writePending writes the pending state, if any, and records it as the
// state on disk.
func (s *JSONStore) writePending() error {
	s.mu.Lock()
	st := s.pending
	s.mu.Unlock()
	if st == nil {
		return nil
	}
	if err := s.writeAtomic(st); err != nil {
		return err
	}
	s.mu.Lock()
	s.last = st
	if s.pending == st {
		s.pending = nil
	}
	s.mu.Unlock()
	return nil
}

func (s *JSONStore) writeAtomic(state *models.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	// rename is atomic on the same filesystem
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", tmpPath, err)
	}
	return os.Rename(tmpPath, s.path)
}
