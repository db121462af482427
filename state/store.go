package state

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/jamyx/config"
)

// Snapshot is one published version of the configuration.
type Snapshot struct {
	Config  *config.Config
	Version uint64
}

// Store publishes configuration snapshots.
type Store struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	observers []func(*Snapshot)
}

// NewStore wraps cfg as version 1. The store takes ownership of cfg.
func NewStore(cfg *config.Config) *Store {
	s := &Store{}
	s.current.Store(&Snapshot{Config: cfg, Version: 1})
	return s
}

// Load returns the current snapshot without blocking.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Update applies fn to a copy of the current configuration and publishes it
// when fn succeeds and the result validates. On error nothing is published and
// the current snapshot is returned alongside the error.
func (s *Store) Update(fn func(cfg *config.Config) error) (*Snapshot, error) {
	if fn == nil {
		return nil, errors.New("update function cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := cur.Config.Clone()
	if err := fn(next); err != nil {
		return cur, err
	}
	if err := next.Validate(); err != nil {
		return cur, err
	}

	snap := &Snapshot{Config: next, Version: cur.Version + 1}
	s.current.Store(snap)

	logrus.WithFields(logrus.Fields{
		"function": "Store.Update",
		"version":  snap.Version,
	}).Debug("Published configuration snapshot")

	for _, obs := range s.observers {
		obs(snap)
	}
	return snap, nil
}

// Observe registers fn to run after every publish, in publish order. fn is
// called once immediately with the current snapshot.
func (s *Store) Observe(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, fn)
	fn(s.current.Load())
}
