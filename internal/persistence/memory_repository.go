package persistence

import (
	"encoding/json"
	"sync"

	"signal-combo-bot-go/internal/models"
)

// MemoryRepository keeps the state in process. It round-trips through JSON so
// callers get the same copy semantics as the Badger store.
type MemoryRepository struct {
	mu    sync.Mutex
	data  []byte
	Saves int
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) SaveState(state *models.SystemState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = data
	r.Saves++
	return nil
}

func (r *MemoryRepository) LoadState() (*models.SystemState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil, nil
	}
	var state models.SystemState
	if err := json.Unmarshal(r.data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *MemoryRepository) Close() error { return nil }
