package persistence

import "signal-combo-bot-go/internal/models"

// StateRepository defines the interface for live state persistence.
// It abstracts the underlying storage mechanism (BadgerDB, in-memory)
// from the state manager.
type StateRepository interface {
	// SaveState atomically replaces the stored system state.
	SaveState(state *models.SystemState) error

	// LoadState loads the system state from storage.
	// If no state is found, it returns (nil, nil).
	LoadState() (*models.SystemState, error)

	// Close releases the underlying store.
	Close() error
}
