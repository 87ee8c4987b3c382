// Package store defines persistence for terminal job outcomes. The interface
// decouples the grid from any particular backend; memory is the default and
// Postgres is available for durable history.
package store

import (
	"context"
	"errors"

	"github.com/scangrid-io/scangrid/internal/grid"
)

// ErrNotFound is returned when no outcome exists for a job ID.
var ErrNotFound = errors.New("outcome not found")

// Store records and retrieves terminal job outcomes.
type Store interface {
	Record(ctx context.Context, outcome grid.Outcome) error
	Get(ctx context.Context, jobID string) (grid.Outcome, error)
	List(ctx context.Context) ([]grid.Outcome, error)
	Close(ctx context.Context) error
}

// Noop discards every outcome.
type Noop struct{}

// Record implements Store.
func (Noop) Record(context.Context, grid.Outcome) error { return nil }

// Get implements Store.
func (Noop) Get(context.Context, string) (grid.Outcome, error) {
	return grid.Outcome{}, ErrNotFound
}

// List implements Store.
func (Noop) List(context.Context) ([]grid.Outcome, error) { return nil, nil }

// Close implements Store.
func (Noop) Close(context.Context) error { return nil }
