package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"signal-combo-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

var (
	currentKey  = []byte("bots/state/current")
	previousKey = []byte("bots/state/previous")
)

// ErrCorruptState is returned when neither stored snapshot decodes.
var ErrCorruptState = errors.New("stored bot state is corrupt")

// BadgerRepository keeps the latest SystemState and the one before it in a
// BadgerDB directory.
type BadgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) the store at dbPath.
func NewBadgerRepository(dbPath string) (*BadgerRepository, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", dbPath, err)
	}
	return &BadgerRepository{db: db}, nil
}

// SaveState writes state as the current snapshot and demotes the old current
// snapshot to previous, in one transaction.
func (r *BadgerRepository) SaveState(state *models.SystemState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(currentKey)
		switch {
		case err == nil:
			prev, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Set(previousKey, prev); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(currentKey, data)
	})
}

// LoadState returns the current snapshot, or the previous one when the current
// snapshot does not decode. It returns (nil, nil) on an empty store.
func (r *BadgerRepository) LoadState() (*models.SystemState, error) {
	var current, previous []byte
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		if current, err = valueOf(txn, currentKey); err != nil {
			return err
		}
		previous, err = valueOf(txn, previousKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if current == nil {
		return nil, nil
	}

	state, err := decodeState(current)
	if err == nil {
		return state, nil
	}
	if previous != nil {
		if state, perr := decodeState(previous); perr == nil {
			return state, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
}

// Close flushes and closes the store.
func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func valueOf(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func decodeState(data []byte) (*models.SystemState, error) {
	if len(data) == 0 {
		return nil, errors.New("empty snapshot")
	}
	var state models.SystemState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
