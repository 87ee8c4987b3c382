package grid

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline exceeded", context.DeadlineExceeded, KindNavigationTimeout},
		{"wrapped deadline", fmt.Errorf("navigate: %w", context.DeadlineExceeded), KindNavigationTimeout},
		{"net timeout", timeoutErr{}, KindNavigationTimeout},
		{"robots sentinel", ErrRobotsDisallowed, KindRobotsDisallowed},
		{"generic failure", errors.New("connection refused"), KindNavigation},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify(tc.err)
			if got.Kind != tc.want {
				t.Fatalf("Classify(%v).Kind = %s, want %s", tc.err, got.Kind, tc.want)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	t.Parallel()

	if got := Classify(nil); got != nil {
		t.Fatalf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassifyPreservesScanError(t *testing.T) {
	t.Parallel()

	orig := NewScanError(KindWorkerInit, errors.New("chrome exited"))
	wrapped := fmt.Errorf("execute: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Fatalf("Classify should unwrap to the original ScanError, got %v", got)
	}
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	retryable := map[ErrorKind]bool{
		KindNavigation:        true,
		KindNavigationTimeout: true,
		KindWorkerInit:        false,
		KindRobotsDisallowed:  false,
	}
	for kind, want := range retryable {
		if got := NewScanError(kind, nil).Retryable(); got != want {
			t.Fatalf("%s retryable = %v, want %v", kind, got, want)
		}
	}
}

func TestScanErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := NewScanError(KindNavigation, cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should reach the wrapped cause")
	}
}
