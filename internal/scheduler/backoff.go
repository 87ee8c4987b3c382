package scheduler

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes the jittered exponential delay before a retry re-enqueue.
type Backoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewBackoff builds a policy with sane defaults.
func NewBackoff() *Backoff {
	return &Backoff{
		baseDelay: 250 * time.Millisecond,
		maxDelay:  5 * time.Second,
	}
}

// Delay returns the wait before attempt (1-based) re-enters the queue.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(b.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
