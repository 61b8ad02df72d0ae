// Package config loads daemon settings and persists runtime state.
package config

import "github.com/greenloop/hydroctl/internal/models"

// Store is the interface for persisting runtime state.
type Store interface {
	// Load loads the current state. Returns DefaultState if no file exists.
	Load() (*models.State, error)

	// Save persists the state. Implementations may debounce rapid saves and
	// skip states equal to the one already persisted, so repeated register
	// writes of the same value do not wear the SD card.
	Save(state *models.State) error

	// Path returns the file path used by this store.
	Path() string

	// Flush forces an immediate write of any pending state.
	Flush() error
}
