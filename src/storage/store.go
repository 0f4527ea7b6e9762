// Package storage provides the byte-oriented key/value stores that back
// feeds, keys, snapshots and party metadata.
//
// Two implementations are available: InmemStore, used by tests and by
// ephemeral instances, and BadgerStore, which persists to a Badger database
// directory. Callers namespace their records with key prefixes; the stores
// impose no schema.
package storage

// Entry is a key/value pair written by SetBatch.
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is an ordered key/value store.
type Store interface {
	// Get returns the value under key, or a common.StoreErr with KeyNotFound.
	Get(key []byte) ([]byte, error)

	// Set writes a single value.
	Set(key, value []byte) error

	// SetBatch writes all entries atomically.
	SetBatch(entries []Entry) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Scan calls fn for every key with the given prefix, in ascending key
	// order. Returning an error from fn stops the scan.
	Scan(prefix []byte, fn func(key, value []byte) error) error

	// Clear removes every record.
	Clear() error

	// Close releases the store. Further calls fail with a Closed StoreErr.
	Close() error
}
