// Package httpnav implements grid.Navigator with plain HTTP via Colly, for
// targets that do not need JavaScript execution.
package httpnav

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/scangrid-io/scangrid/internal/grid"
)

// Config controls collector behavior.
type Config struct {
	UserAgent      string
	DefaultTimeout time.Duration
	MaxBodyBytes   int
}

// Navigator fetches pages over plain HTTP using a Colly collector.
type Navigator struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Navigator.
func New(cfg Config) *Navigator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true // robots policy is enforced by the scheduler
	c.MaxBodySize = cfg.MaxBodyBytes
	return &Navigator{cfg: cfg, base: c}
}

// Navigate executes a single GET and collects the response.
func (n *Navigator) Navigate(ctx context.Context, req grid.NavigateRequest) (grid.PageResult, error) {
	var (
		result   grid.PageResult
		fetchErr error
	)
	start := time.Now()

	collector := n.base.Clone()
	collector.UserAgent = n.userAgentFor(req)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = n.cfg.DefaultTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(n.transportFor(req))

	collector.OnResponse(func(r *colly.Response) {
		result = grid.PageResult{
			StatusCode: r.StatusCode,
			FinalURL:   r.Request.URL.String(),
			Content:    append([]byte(nil), r.Body...),
			Signals: map[string]any{
				"content_size": len(r.Body),
			},
			Duration: time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return grid.PageResult{}, fmt.Errorf("http navigate canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return grid.PageResult{}, fmt.Errorf("http visit failed: %w", err)
		}
		if fetchErr != nil {
			return grid.PageResult{}, fmt.Errorf("http response failed: %w", fetchErr)
		}
		return result, nil
	}
}

// Close is a no-op; the collector holds no session resources.
func (n *Navigator) Close() error {
	return nil
}

func (n *Navigator) userAgentFor(req grid.NavigateRequest) string {
	if req.UserAgent != "" {
		return req.UserAgent
	}
	return n.cfg.UserAgent
}

func (n *Navigator) transportFor(req grid.NavigateRequest) *http.Transport {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if req.Proxy != nil {
		proxyURL := &url.URL{
			Scheme: req.Proxy.Type,
			Host:   fmt.Sprintf("%s:%d", req.Proxy.Host, req.Proxy.Port),
		}
		if proxyURL.Scheme == "" {
			proxyURL.Scheme = "http"
		}
		if req.Proxy.Username != "" {
			proxyURL.User = url.UserPassword(req.Proxy.Username, req.Proxy.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return transport
}
