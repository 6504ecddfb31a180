package store

import (
	"fmt"
	"log"

	"github.com/dgraph-io/badger/v3"
)

// Database wraps the Badger database behind the handful of operations the
// recovery stores need.
type Database struct {
	db *badger.DB
}

// NewDatabase opens (or creates) a Badger database at path.
func NewDatabase(path string) (*Database, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger database: %v", err)
	}
	return &Database{db: db}, nil
}

// NewInMemoryDatabase opens a Badger instance backed by memory only, used by
// tests.
func NewInMemoryDatabase() (*Database, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory Badger database: %v", err)
	}
	return &Database{db: db}, nil
}

// Set sets a key-value pair.
func (d *Database) Set(key, value []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Get retrieves the value for a key. Returns badger.ErrKeyNotFound when the
// key is absent.
func (d *Database) Get(key []byte) ([]byte, error) {
	var valCopy []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	return valCopy, err
}

// Has reports whether a key exists.
func (d *Database) Has(key []byte) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes a key-value pair.
func (d *Database) Delete(key []byte) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// IteratePrefix calls fn for every key-value pair under prefix. Returning an
// error from fn stops the scan.
func (d *Database) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	return d.db.View(func(txn *badger.Txn) error {
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
}

// Close closes the underlying database.
func (d *Database) Close() {
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.Printf("Failed to close Badger database: %v", err)
		}
	}
}

// ErrKeyNotFound re-exports the Badger sentinel so callers outside the store
// package do not import badger directly.
var ErrKeyNotFound = badger.ErrKeyNotFound
