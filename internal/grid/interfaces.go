package grid

import (
	"context"
	"time"
)

// Navigator drives one browser-automation session. Implementations own the
// session lifecycle; Navigate opens per-call resources and releases them on
// every exit path.
type Navigator interface {
	Navigate(ctx context.Context, req NavigateRequest) (PageResult, error)
	Close() error
}

// RobotsPolicy answers whether a URL may be crawled.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// ProxySource supplies rotating egress endpoints. ok is false when no proxy
// is available and the caller should go direct.
type ProxySource interface {
	Next() (ProxyConfig, bool)
}

// Publisher pushes terminal outcome events to an external topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
