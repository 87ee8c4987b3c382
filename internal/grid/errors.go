package grid

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies scan failures for callers and retry decisions.
type ErrorKind string

// Error kinds surfaced in terminal outcomes.
const (
	KindWorkerInit        ErrorKind = "worker_init"
	KindNavigationTimeout ErrorKind = "navigation_timeout"
	KindNavigation        ErrorKind = "navigation"
	KindRobotsDisallowed  ErrorKind = "robots_disallowed"
)

// ErrRobotsDisallowed marks a target refused by robots.txt policy.
var ErrRobotsDisallowed = errors.New("robots.txt disallows this url")

// ScanError wraps a failure with its classified kind.
type ScanError struct {
	Kind ErrorKind `json:"kind"`
	Err  error     `json:"-"`
	Text string    `json:"message"`
}

// NewScanError builds a classified error.
func NewScanError(kind ErrorKind, err error) *ScanError {
	text := ""
	if err != nil {
		text = err.Error()
	}
	return &ScanError{Kind: kind, Err: err, Text: text}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ScanError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure should consume retry budget and be
// re-enqueued. Robots denials and worker init failures are terminal.
func (e *ScanError) Retryable() bool {
	switch e.Kind {
	case KindNavigation, KindNavigationTimeout:
		return true
	default:
		return false
	}
}

// Classify maps an arbitrary navigation failure onto the error taxonomy.
func Classify(err error) *ScanError {
	if err == nil {
		return nil
	}
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr
	}
	if errors.Is(err, ErrRobotsDisallowed) {
		return NewScanError(KindRobotsDisallowed, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewScanError(KindNavigationTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewScanError(KindNavigationTimeout, err)
	}
	return NewScanError(KindNavigation, err)
}
