package memory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore keeps agent memory in an embedded badger database.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the database at path. An empty path opens an
// in-memory database.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Load(_ context.Context, botID string) (*Memory, error) {
	var m Memory
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(Key(botID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("memory value is empty")
			}
			return json.Unmarshal(val, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BadgerStore) Save(_ context.Context, botID string, m *Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(Key(botID)), data)
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
