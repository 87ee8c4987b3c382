// Package chromedp implements grid.Navigator with headless Chrome.
package chromedp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdp "github.com/chromedp/chromedp"
	"golang.org/x/time/rate"

	"github.com/scangrid-io/scangrid/internal/grid"
)

// Config controls a browser session.
type Config struct {
	UserAgent string
	// DomainQPS smooths navigation bursts per host on top of the grid's
	// admission control. Zero disables it.
	DomainQPS float64
	// Proxy routes the whole session through one egress endpoint. Chrome
	// applies the proxy at process launch, so rotation happens per session,
	// not per navigation.
	Proxy *grid.ProxyConfig
	// DefaultTimeout bounds a navigation when the request carries none.
	DefaultTimeout time.Duration
}

// Session owns one headless browser and implements grid.Navigator. Each
// Navigate call opens a fresh tab and releases it on every exit path.
type Session struct {
	cfg            Config
	allocCancel    context.CancelFunc
	browserCtx     context.Context
	browserCancel  context.CancelFunc
	domainLimiters sync.Map
	closeOnce      sync.Once
}

// NewSession launches the browser and warms it up. Failure here is fatal for
// the owning worker.
func NewSession(cfg Config) (*Session, error) {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	opts := append(cdp.DefaultExecAllocatorOptions[:],
		cdp.Flag("headless", "new"),
		cdp.Flag("disable-gpu", true),
		cdp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, cdp.UserAgent(cfg.UserAgent))
	}
	if cfg.Proxy != nil {
		opts = append(opts, cdp.ProxyServer(cfg.Proxy.Address()))
	}
	allocCtx, allocCancel := cdp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := cdp.NewContext(allocCtx)
	if err := cdp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Session{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Navigate loads the URL in a new tab and returns the rendered page.
func (s *Session) Navigate(ctx context.Context, req grid.NavigateRequest) (grid.PageResult, error) {
	if err := s.waitDomainBudget(ctx, req.URL); err != nil {
		return grid.PageResult{}, fmt.Errorf("navigate rate budget: %w", err)
	}

	tabCtx, cancelTab := cdp.NewContext(s.browserCtx)
	defer cancelTab()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := newResponseMeta()
	s.recordResponse(tabCtx, meta)

	start := time.Now()
	html, title, err := s.run(taskCtx, req)
	if err != nil {
		return grid.PageResult{}, fmt.Errorf("chromedp run: %w", err)
	}

	return grid.PageResult{
		StatusCode: meta.statusCode,
		FinalURL:   meta.finalURL(req.URL),
		Content:    []byte(html),
		Signals: map[string]any{
			"title":        title,
			"content_size": len(html),
		},
		Duration: time.Since(start),
	}, nil
}

// Close tears down the browser. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocCancel()
	})
	return nil
}

func (s *Session) run(ctx context.Context, req grid.NavigateRequest) (string, string, error) {
	var html, title string
	tasks := cdp.Tasks{
		network.Enable(),
		cdp.Navigate(req.URL),
		cdp.WaitReady("body", cdp.ByQuery),
		cdp.Title(&title),
		cdp.OuterHTML("html", &html, cdp.ByQuery),
	}
	if ua := s.userAgentFor(req); ua != "" {
		tasks = append(cdp.Tasks{emulation.SetUserAgentOverride(ua)}, tasks...)
	}
	if err := cdp.Run(ctx, tasks); err != nil {
		return "", "", err
	}
	return html, title, nil
}

func (s *Session) userAgentFor(req grid.NavigateRequest) string {
	if req.UserAgent != "" {
		return req.UserAgent
	}
	return s.cfg.UserAgent
}

type responseMeta struct {
	once       sync.Once
	statusCode int
	url        string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

func (s *Session) recordResponse(tabCtx context.Context, meta *responseMeta) {
	cdp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
		})
	})
}

func (s *Session) waitDomainBudget(ctx context.Context, rawURL string) error {
	if s.cfg.DomainQPS <= 0 {
		return nil
	}
	host := hostOf(rawURL)
	val, _ := s.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(s.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func hostOf(rawURL string) string {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if idx := strings.IndexAny(trimmed, "/?#"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.ToLower(trimmed)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
