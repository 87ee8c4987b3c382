// Package robots resolves crawl permission from robots.txt per host.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

const maxRobotsBytes = 1 << 20

// Config controls the enforcer.
type Config struct {
	UserAgent string
	// FailOpen treats resolver errors as permission granted. The default is
	// permissive to avoid stalling the grid on unreachable robots.txt files;
	// operators with stricter crawl policies set this to false.
	FailOpen bool
	Timeout  time.Duration
}

// Enforcer implements grid.RobotsPolicy against live robots.txt files with a
// per-host cache.
type Enforcer struct {
	client *http.Client
	cache  sync.Map
	cfg    Config
	logger *zap.Logger
}

// NewEnforcer builds an Enforcer.
func NewEnforcer(cfg Config, logger *zap.Logger) *Enforcer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Enforcer{
		client: &http.Client{Timeout: timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// Allowed implements grid.RobotsPolicy. Resolver failures follow the
// configured fail-open/fail-closed policy and are logged either way.
func (e *Enforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := e.load(ctx, parsed)
	if err != nil {
		if e.cfg.FailOpen {
			e.logger.Warn("robots fetch failed; failing open",
				zap.String("host", parsed.Host), zap.Error(err))
			return true
		}
		e.logger.Warn("robots fetch failed; failing closed",
			zap.String("host", parsed.Host), zap.Error(err))
		return false
	}
	group := data.FindGroup(e.cfg.UserAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

func (e *Enforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if cached, ok := e.cache.Load(hostKey); ok {
		data, castOK := cached.(*robotstxt.RobotsData)
		if !castOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", cached)
		}
		return data, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	e.cache.Store(hostKey, data)
	return data, nil
}

// AllowAll is the policy used when robots enforcement is disabled.
type AllowAll struct{}

// Allowed always grants permission.
func (AllowAll) Allowed(context.Context, string) bool { return true }
