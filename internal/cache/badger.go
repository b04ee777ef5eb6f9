package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
)

// conflict retries for optimistic transactions. Under per-key merge
// serialization conflicts are rare; the retry absorbs cross-key churn.
const maxTxnRetries = 5

// BadgerStore is a BadgerDB-backed Store. Documents are stored as JSON
// values; Update runs inside a Badger transaction and retries on
// optimistic-concurrency conflicts.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at dir.
// An empty dir opens an in-memory database, used by tests and dev mode.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStore wraps an already-open Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %q: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

func (s *BadgerStore) Update(ctx context.Context, key string, fn func(old []byte) ([]byte, error)) error {
	var lastErr error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.db.Update(func(txn *badger.Txn) error {
			var old []byte
			item, err := txn.Get([]byte(key))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
				// first write for this key
			case err != nil:
				return fmt.Errorf("get %q: %w", key, err)
			default:
				if old, err = item.ValueCopy(nil); err != nil {
					return fmt.Errorf("read %q: %w", key, err)
				}
			}

			val, err := fn(old)
			if err != nil {
				return err
			}
			return txn.Set([]byte(key), val)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("update %q: too many conflicts: %w", key, lastErr)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
