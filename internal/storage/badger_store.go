package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/devghori1264/aerophoenix/factory-sim/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Store keeps the product ledger and the machine audit trail. Neither is read
// back into the controller on restart.
type Store interface {
	SaveMachine(ctx context.Context, m *models.Machine) error
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	SaveProduct(ctx context.Context, p models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, stationID string) ([]models.Product, error)
	Close() error
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a store at path. An empty path opens an in-memory DB.
func NewBadgerStore(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path))
		opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	}
	opts.Logger = nil // badger logs are too chatty for the simulator
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func machineKey(id string) []byte {
	return []byte("machine:" + id)
}

func productPrefix(stationID string) string {
	return "product:" + stationID + ":"
}

func productKey(p models.Product) []byte {
	return []byte(productPrefix(p.StationID) + p.ID)
}

// productIndexKey maps a bare product id to its ledger key.
func productIndexKey(id string) []byte {
	return []byte("product-id:" + id)
}

// saveAttempts bounds retries of a machine write that lost a transaction
// conflict to a concurrent write of the same machine.
const saveAttempts = 32

// SaveMachine records m unless the audit already holds the same or a later
// revision of it, so writes arriving out of order never leave a stale record.
func (s *BadgerStore) SaveMachine(ctx context.Context, m *models.Machine) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := machineKey(m.ID)
	for attempt := 1; ; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			switch {
			case err == nil:
				var prev models.Machine
				if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &prev) }); err != nil {
					return err
				}
				if prev.Revision >= m.Revision && m.Revision != 0 {
					return nil
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			return txn.Set(key, data)
		})
		if !errors.Is(err, badger.ErrConflict) || attempt == saveAttempts {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	var out models.Machine
	if err := s.get(machineKey(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveProduct appends p to the ledger of its station. A product id already in
// the ledger is refused with ErrExists.
func (s *BadgerStore) SaveProduct(ctx context.Context, p models.Product) error {
	if p.ID == "" || p.StationID == "" {
		return errors.New("product id and station id required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	key := productKey(p)
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(productIndexKey(p.ID))
		switch {
		case err == nil:
			return fmt.Errorf("product %s: %w", p.ID, ErrExists)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(productIndexKey(p.ID), key)
	})
}

func (s *BadgerStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var out models.Product
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(productIndexKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListProducts returns the ledger of stationID, or of every station when
// stationID is empty, in key order.
func (s *BadgerStore) ListProducts(ctx context.Context, stationID string) ([]models.Product, error) {
	prefix := []byte("product:")
	if stationID != "" {
		prefix = []byte(productPrefix(stationID))
	}
	var out []models.Product
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var p models.Product
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &p)
			}); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) get(key []byte, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(b []byte) error {
			return json.Unmarshal(b, v)
		})
	})
}
