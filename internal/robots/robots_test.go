package robots

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func robotsServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if hits != nil {
			hits.Add(1)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAllowedRespectsDisallowRules(t *testing.T) {
	t.Parallel()

	srv := robotsServer(t, "User-agent: *\nDisallow: /private/\n", nil)
	e := NewEnforcer(Config{UserAgent: "scangrid-bot"}, zap.NewNop())

	if !e.Allowed(context.Background(), srv.URL+"/public/page") {
		t.Fatal("path outside the disallow rule should be allowed")
	}
	if e.Allowed(context.Background(), srv.URL+"/private/page") {
		t.Fatal("disallowed path should be denied")
	}
}

func TestAllowedAgentSpecificGroup(t *testing.T) {
	t.Parallel()

	srv := robotsServer(t, "User-agent: scangrid-bot\nDisallow: /\n\nUser-agent: *\nDisallow:\n", nil)
	e := NewEnforcer(Config{UserAgent: "scangrid-bot"}, zap.NewNop())

	if e.Allowed(context.Background(), srv.URL+"/anything") {
		t.Fatal("agent-specific full disallow should deny")
	}
}

func TestAllowedCachesPerHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := robotsServer(t, "User-agent: *\nDisallow:\n", &hits)
	e := NewEnforcer(Config{UserAgent: "scangrid-bot"}, zap.NewNop())

	for i := 0; i < 5; i++ {
		if !e.Allowed(context.Background(), srv.URL+"/page") {
			t.Fatal("allow-all robots should permit")
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("robots.txt fetched %d times, want 1", got)
	}
}

func TestAllowedFailOpen(t *testing.T) {
	t.Parallel()

	e := NewEnforcer(Config{UserAgent: "scangrid-bot", FailOpen: true}, zap.NewNop())
	if !e.Allowed(context.Background(), "http://127.0.0.1:1/page") {
		t.Fatal("unreachable robots.txt should fail open when configured")
	}
}

func TestAllowedFailClosed(t *testing.T) {
	t.Parallel()

	e := NewEnforcer(Config{UserAgent: "scangrid-bot", FailOpen: false}, zap.NewNop())
	if e.Allowed(context.Background(), "http://127.0.0.1:1/page") {
		t.Fatal("unreachable robots.txt should fail closed when configured")
	}
}

func TestAllowedNotFoundMeansAllow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	e := NewEnforcer(Config{UserAgent: "scangrid-bot"}, zap.NewNop())

	if !e.Allowed(context.Background(), srv.URL+"/page") {
		t.Fatal("a 404 robots.txt means everything is allowed")
	}
}

func TestAllowAllPolicy(t *testing.T) {
	t.Parallel()

	if !(AllowAll{}).Allowed(context.Background(), "https://example.com/") {
		t.Fatal("AllowAll must always grant")
	}
}
