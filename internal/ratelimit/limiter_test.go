package ratelimit

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic admission tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestTryAdmitFirstScanPasses(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 5, MinDelay: time.Minute}, clock)

	if !l.TryAdmit("example.com") {
		t.Fatal("first scan of a domain should always be admitted")
	}
}

func TestTryAdmitEnforcesMinDelay(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 10, MinDelay: time.Minute}, clock)

	if !l.TryAdmit("example.com") {
		t.Fatal("first admission failed")
	}
	if l.TryAdmit("example.com") {
		t.Fatal("second admission inside the min delay should be denied")
	}

	clock.Advance(59 * time.Second)
	if l.TryAdmit("example.com") {
		t.Fatal("admission one second early should be denied")
	}

	clock.Advance(time.Second)
	if !l.TryAdmit("example.com") {
		t.Fatal("admission after the min delay should pass")
	}
}

func TestTryAdmitEnforcesWindowCap(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 2, MinDelay: time.Second, Window: time.Hour}, clock)

	for i := 0; i < 2; i++ {
		if !l.TryAdmit("example.com") {
			t.Fatalf("admission %d should pass", i+1)
		}
		clock.Advance(time.Second)
	}
	if l.TryAdmit("example.com") {
		t.Fatal("admission past the window cap should be denied")
	}
}

func TestTryAdmitDomainsAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 1, MinDelay: time.Minute}, clock)

	if !l.TryAdmit("a.com") {
		t.Fatal("a.com should be admitted")
	}
	if !l.TryAdmit("b.com") {
		t.Fatal("b.com throttling must not depend on a.com state")
	}
}

func TestTryAdmitDomainKeyIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 1, MinDelay: time.Minute}, clock)

	if !l.TryAdmit("Example.COM") {
		t.Fatal("first admission failed")
	}
	if l.TryAdmit("example.com") {
		t.Fatal("case variants must share one domain budget")
	}
}

func TestDenialHasNoSideEffect(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 10, MinDelay: time.Minute}, clock)

	if !l.TryAdmit("example.com") {
		t.Fatal("first admission failed")
	}
	// Repeated denials must not push back the spacing deadline.
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		l.TryAdmit("example.com")
	}
	clock.Advance(10 * time.Second)
	if !l.TryAdmit("example.com") {
		t.Fatal("denials must not consume window budget or reset spacing")
	}
}

func TestWindowCountsResetLazily(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 1, MinDelay: time.Millisecond, Window: time.Hour}, clock)

	if !l.TryAdmit("example.com") {
		t.Fatal("first admission failed")
	}
	if l.TryAdmit("example.com") {
		t.Fatal("cap of one should deny the second admission")
	}

	clock.Advance(time.Hour)
	if !l.TryAdmit("example.com") {
		t.Fatal("crossing the window boundary should reset the count")
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 1, MinDelay: time.Minute, Window: time.Hour}, clock)

	if got := l.RetryAfter("unseen.com"); got != 0 {
		t.Fatalf("unseen domain should have zero wait, got %v", got)
	}

	if !l.TryAdmit("example.com") {
		t.Fatal("first admission failed")
	}
	wait := l.RetryAfter("example.com")
	if wait <= 0 || wait > l.WindowRemaining() {
		t.Fatalf("capped domain should wait until the window boundary, got %v", wait)
	}
}

func TestRetryAfterSpacing(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 10, MinDelay: time.Minute}, clock)

	if !l.TryAdmit("example.com") {
		t.Fatal("first admission failed")
	}
	clock.Advance(20 * time.Second)
	if got := l.RetryAfter("example.com"); got != 40*time.Second {
		t.Fatalf("expected 40s spacing wait, got %v", got)
	}
}

func TestResetClearsCounts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 1, MinDelay: time.Millisecond}, clock)

	if !l.TryAdmit("example.com") {
		t.Fatal("first admission failed")
	}
	l.Reset()
	clock.Advance(time.Second)
	if !l.TryAdmit("example.com") {
		t.Fatal("reset should clear window counts")
	}
}

func TestTryAdmitConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	l := New(Config{MaxScansPerWindow: 1, MinDelay: time.Minute}, clock)

	const goroutines = 16
	var wg sync.WaitGroup
	admitted := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAdmit("example.com") {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for range admitted {
		count++
	}
	if count != 1 {
		t.Fatalf("exactly one concurrent admission should win, got %d", count)
	}
}
