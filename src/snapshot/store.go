package snapshot

import (
	"encoding/json"
	"errors"
	"sync"

	cm "github.com/mosaicnetworks/echo/src/common"
	"github.com/mosaicnetworks/echo/src/storage"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Load when no snapshot exists for a party.
var ErrNotFound = errors.New("snapshot not found")

func snapshotKey(partyKey string) []byte {
	return []byte("snapshot_" + partyKey)
}

// Store keeps the latest snapshot of each party. Save is write-behind: it
// queues the snapshot and returns immediately. Only the most recent pending
// snapshot of a party is written.
type Store struct {
	sync.Mutex

	store   storage.Store
	writeMu sync.Mutex
	pending map[string]*Snapshot
	wake    chan struct{}
	done    chan struct{}
	closed  bool

	logger *logrus.Entry
}

// NewStore starts the store's writer goroutine.
func NewStore(store storage.Store, logger *logrus.Entry) *Store {
	s := &Store{
		store:   store,
		pending: make(map[string]*Snapshot),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go s.run()
	return s
}

// Save queues a snapshot. It never blocks on storage.
func (s *Store) Save(snap *Snapshot) {
	s.Lock()
	if s.closed {
		s.Unlock()
		s.logger.WithField("party", cm.ShortKey(snap.PartyKey)).Debug("Snapshot store closed, dropping snapshot")
		return
	}
	s.pending[snap.PartyKey] = snap
	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.Unlock()
}

// Load returns the latest snapshot of a party, or ErrNotFound.
func (s *Store) Load(partyKey string) (*Snapshot, error) {
	s.Lock()
	snap, ok := s.pending[partyKey]
	s.Unlock()
	if ok {
		return snap, nil
	}

	// wait for a snapshot that is being written
	s.writeMu.Lock()
	data, err := s.store.Get(snapshotKey(partyKey))
	s.writeMu.Unlock()
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	snap = new(Snapshot)
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Delete removes the snapshot of a party.
func (s *Store) Delete(partyKey string) error {
	s.Lock()
	delete(s.pending, partyKey)
	s.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Delete(snapshotKey(partyKey))
}

// Clear drops pending snapshots and deletes the stored ones.
func (s *Store) Clear() error {
	s.Lock()
	s.pending = make(map[string]*Snapshot)
	s.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.store.Clear()
}

// Flush writes every pending snapshot before returning.
func (s *Store) Flush() {
	s.flush()
}

// Close flushes pending snapshots, stops the writer and closes the underlying
// store.
func (s *Store) Close() error {
	s.Lock()
	if s.closed {
		s.Unlock()
		return nil
	}
	s.closed = true
	s.Unlock()

	close(s.wake)
	<-s.done

	return s.store.Close()
}

func (s *Store) run() {
	defer close(s.done)
	for range s.wake {
		s.flush()
	}
	s.flush()
}

func (s *Store) flush() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.Lock()
	batch := s.pending
	s.pending = make(map[string]*Snapshot)
	s.Unlock()

	for key, snap := range batch {
		if err := s.write(snap); err != nil {
			s.logger.WithError(err).WithField("party", cm.ShortKey(key)).Error("Saving snapshot")
		}
	}
}

func (s *Store) write(snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.store.Set(snapshotKey(snap.PartyKey), data); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"party":     cm.ShortKey(snap.PartyKey),
		"timeframe": snap.Timeframe,
	}).Debug("Snapshot saved")
	return nil
}
