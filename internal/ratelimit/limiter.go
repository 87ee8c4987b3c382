// Package ratelimit enforces per-domain scan spacing and window caps.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"github.com/scangrid-io/scangrid/internal/grid"
)

const defaultWindow = time.Hour

// Config holds limiter configuration.
type Config struct {
	// MaxScansPerWindow caps admissions per domain within one window.
	MaxScansPerWindow int
	// MinDelay is the minimum spacing between admitted scans of one domain.
	MinDelay time.Duration
	// Window is the cap reset period. Defaults to one hour.
	Window time.Duration
}

type domainState struct {
	lastScan time.Time
	count    int
}

// Limiter tracks per-domain admission state. All state mutates inside a
// single critical section, so a denial has no side effect and two concurrent
// admissions for one domain can never both pass before either records.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	clock  grid.Clock
	epoch  int64
	states map[string]*domainState
}

// New creates a Limiter driven by the supplied clock.
func New(cfg Config, clock grid.Clock) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxScansPerWindow <= 0 {
		cfg.MaxScansPerWindow = 1
	}
	l := &Limiter{
		cfg:    cfg,
		clock:  clock,
		states: make(map[string]*domainState),
	}
	l.epoch = l.windowEpoch(clock.Now())
	return l
}

// TryAdmit atomically checks and records an admission for domain. It returns
// false with no side effect when the window cap is reached or the minimum
// delay since the previous admission has not elapsed. A domain seen for the
// first time always passes the spacing check.
func (l *Limiter) TryAdmit(domain string) bool {
	key := strings.ToLower(domain)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset(now)

	st, ok := l.states[key]
	if !ok {
		st = &domainState{}
		l.states[key] = st
	}
	if st.count >= l.cfg.MaxScansPerWindow {
		return false
	}
	if !st.lastScan.IsZero() && now.Sub(st.lastScan) < l.cfg.MinDelay {
		return false
	}
	st.lastScan = now
	st.count++
	return true
}

// RetryAfter estimates how long a denied domain must wait before an admission
// could succeed. Used by the dispatch loop to schedule its wake-up.
func (l *Limiter) RetryAfter(domain string) time.Duration {
	key := strings.ToLower(domain)
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeReset(now)

	st, ok := l.states[key]
	if !ok {
		return 0
	}
	if st.count >= l.cfg.MaxScansPerWindow {
		return l.windowRemaining(now)
	}
	if st.lastScan.IsZero() {
		return 0
	}
	if wait := l.cfg.MinDelay - now.Sub(st.lastScan); wait > 0 {
		return wait
	}
	return 0
}

// WindowRemaining reports the time until the next window boundary.
func (l *Limiter) WindowRemaining() time.Duration {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowRemaining(now)
}

// Reset clears all window counts immediately. Spacing timestamps survive.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range l.states {
		st.count = 0
	}
	l.epoch = l.windowEpoch(l.clock.Now())
}

// maybeReset zeroes every domain count when a window boundary has passed.
// Called with the mutex held so the reset never races an admission check.
func (l *Limiter) maybeReset(now time.Time) {
	epoch := l.windowEpoch(now)
	if epoch == l.epoch {
		return
	}
	for _, st := range l.states {
		st.count = 0
	}
	l.epoch = epoch
}

func (l *Limiter) windowEpoch(t time.Time) int64 {
	return t.UnixNano() / int64(l.cfg.Window)
}

func (l *Limiter) windowRemaining(now time.Time) time.Duration {
	next := (l.windowEpoch(now) + 1) * int64(l.cfg.Window)
	return time.Duration(next - now.UnixNano())
}
