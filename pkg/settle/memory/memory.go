// Package memory provides an in-process settlement store. Suitable for a
// single till process; records are lost on restart, so production setups
// should prefer the redis or postgres stores.
package memory

import (
	"context"
	"sync"

	"golocallink/pkg/txn"
)

// Store records settled UTIs in a map.
type Store struct {
	mu      sync.Mutex
	settled map[string]txn.SettlementSnapshot
}

// NewStore creates an empty in-memory settlement store.
func NewStore() *Store {
	return &Store{settled: make(map[string]txn.SettlementSnapshot)}
}

// MarkSettled records the snapshot unless its UTI is already settled.
func (s *Store) MarkSettled(ctx context.Context, snap txn.SettlementSnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.settled[snap.UTI]; ok {
		return false, nil
	}
	s.settled[snap.UTI] = snap
	return true, nil
}

// Get returns the recorded settlement for a UTI.
func (s *Store) Get(uti string) (txn.SettlementSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.settled[uti]
	return snap, ok
}

// Len returns the number of recorded settlements.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.settled)
}
