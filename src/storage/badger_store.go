package storage

import (
	"os"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/sirupsen/logrus"
)

// BadgerStore implements the Store interface on top of a Badger database.
type BadgerStore struct {
	name string
	db   *badger.DB
	path string
}

// NewBadgerStore opens, or creates, the Badger database in path. Badger's own
// log output is routed to logger when it is not nil.
func NewBadgerStore(name string, path string, logger *logrus.Entry) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(true).
		WithTruncate(true)

	if logger != nil {
		opts = opts.WithLogger(logger.WithField("store", name))
	} else {
		opts = opts.WithLogger(nil)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		name: name,
		db:   handle,
		path: path,
	}, nil
}

// Get implements the Store interface.
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var res []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		res, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, s.mapError(err, string(key))
	}

	return res, nil
}

// Set implements the Store interface.
func (s *BadgerStore) Set(key, value []byte) error {
	return s.SetBatch([]Entry{{Key: key, Value: value}})
}

// SetBatch implements the Store interface. All entries are written in a single
// transaction.
func (s *BadgerStore) SetBatch(entries []Entry) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for _, e := range entries {
		if err := tx.Set(e.Key, e.Value); err != nil {
			return s.mapError(err, string(e.Key))
		}
	}

	return s.mapError(tx.Commit(), "")
}

// Delete implements the Store interface.
func (s *BadgerStore) Delete(key []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	return s.mapError(err, string(key))
}

// Scan implements the Store interface.
func (s *BadgerStore) Scan(prefix []byte, fn func(key, value []byte) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
	return s.mapError(err, string(prefix))
}

// Clear implements the Store interface. It drops all the data in the
// database.
func (s *BadgerStore) Clear() error {
	return s.mapError(s.db.DropAll(), "")
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Path returns the database directory.
func (s *BadgerStore) Path() string {
	return s.path
}

func (s *BadgerStore) mapError(err error, key string) error {
	if err == nil {
		return nil
	}
	if err == badger.ErrKeyNotFound {
		return cm.NewStoreErr(s.name, cm.KeyNotFound, key)
	}
	return err
}
