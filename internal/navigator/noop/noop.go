// Package noop provides a Navigator that fabricates empty successes. It keeps
// the grid wirable in environments without a browser or network.
package noop

import (
	"context"

	"github.com/scangrid-io/scangrid/internal/grid"
)

// Navigator returns an empty 200 page for every request.
type Navigator struct{}

// New creates a Navigator.
func New() *Navigator {
	return &Navigator{}
}

// Navigate returns an empty success unless the context is already done.
func (Navigator) Navigate(ctx context.Context, req grid.NavigateRequest) (grid.PageResult, error) {
	if err := ctx.Err(); err != nil {
		return grid.PageResult{}, err
	}
	return grid.PageResult{
		StatusCode: 200,
		FinalURL:   req.URL,
	}, nil
}

// Close is a no-op.
func (Navigator) Close() error {
	return nil
}
