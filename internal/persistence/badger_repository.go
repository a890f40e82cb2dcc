package persistence

import (
	"encoding/json"
	"errors"

	"maker-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// badgerRepository is the BadgerDB implementation of the BaselineRepository.
type badgerRepository struct {
	db  *badger.DB
	key []byte
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (BaselineRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would drown the bot's logs; errors still come
	// back from the DB operations themselves.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{
		db:  db,
		key: []byte("baseline"), // single-record store
	}, nil
}

// SaveBaseline atomically replaces the stored baseline record.
func (r *badgerRepository) SaveBaseline(baseline *models.Baseline) error {
	data, err := json.Marshal(baseline)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key, data)
	})
}

// LoadBaseline loads the baseline from storage.
// A missing key returns (nil, nil): no baseline recorded yet.
func (r *badgerRepository) LoadBaseline() (*models.Baseline, error) {
	var baseline models.Baseline

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("baseline value is empty in database")
			}
			return json.Unmarshal(val, &baseline)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &baseline, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
