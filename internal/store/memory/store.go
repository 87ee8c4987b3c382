// Package memory provides an in-memory outcome store for development and
// testing.
package memory

import (
	"context"
	"sync"

	"github.com/scangrid-io/scangrid/internal/grid"
	"github.com/scangrid-io/scangrid/internal/store"
)

// Store keeps outcomes in insertion order behind a mutex.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]grid.Outcome
	ordered []string
}

// New constructs a Store.
func New() *Store {
	return &Store{
		byID: make(map[string]grid.Outcome),
	}
}

// Record stores or overwrites the outcome for a job.
func (s *Store) Record(_ context.Context, outcome grid.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[outcome.JobID]; !exists {
		s.ordered = append(s.ordered, outcome.JobID)
	}
	s.byID[outcome.JobID] = outcome
	return nil
}

// Get fetches an outcome by job ID.
func (s *Store) Get(_ context.Context, jobID string) (grid.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byID[jobID]
	if !ok {
		return grid.Outcome{}, store.ErrNotFound
	}
	return o, nil
}

// List returns all outcomes in insertion order.
func (s *Store) List(context.Context) ([]grid.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]grid.Outcome, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close(context.Context) error { return nil }
