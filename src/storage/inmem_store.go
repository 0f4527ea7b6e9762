package storage

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
)

// InmemStore implements the Store interface with a map.
type InmemStore struct {
	sync.RWMutex
	name   string
	data   map[string][]byte
	closed bool
}

// NewInmemStore ...
func NewInmemStore(name string) *InmemStore {
	return &InmemStore{
		name: name,
		data: make(map[string][]byte),
	}
}

// Get implements the Store interface.
func (s *InmemStore) Get(key []byte) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	if s.closed {
		return nil, cm.NewStoreErr(s.name, cm.Closed, string(key))
	}

	v, ok := s.data[string(key)]
	if !ok {
		return nil, cm.NewStoreErr(s.name, cm.KeyNotFound, string(key))
	}

	return append([]byte(nil), v...), nil
}

// Set implements the Store interface.
func (s *InmemStore) Set(key, value []byte) error {
	return s.SetBatch([]Entry{{Key: key, Value: value}})
}

// SetBatch implements the Store interface.
func (s *InmemStore) SetBatch(entries []Entry) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return cm.NewStoreErr(s.name, cm.Closed, "")
	}

	for _, e := range entries {
		s.data[string(e.Key)] = append([]byte(nil), e.Value...)
	}

	return nil
}

// Delete implements the Store interface.
func (s *InmemStore) Delete(key []byte) error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return cm.NewStoreErr(s.name, cm.Closed, string(key))
	}

	delete(s.data, string(key))
	return nil
}

// Scan implements the Store interface. Values handed to fn are copies.
func (s *InmemStore) Scan(prefix []byte, fn func(key, value []byte) error) error {
	s.RLock()
	if s.closed {
		s.RUnlock()
		return cm.NewStoreErr(s.name, cm.Closed, string(prefix))
	}

	p := string(prefix)
	keys := []string{}
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]Entry, len(keys))
	for i, k := range keys {
		entries[i] = Entry{Key: []byte(k), Value: bytes.Clone(s.data[k])}
	}
	s.RUnlock()

	for _, e := range entries {
		if err := fn(e.Key, e.Value); err != nil {
			return err
		}
	}

	return nil
}

// Clear implements the Store interface.
func (s *InmemStore) Clear() error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return cm.NewStoreErr(s.name, cm.Closed, "")
	}

	s.data = make(map[string][]byte)
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}
