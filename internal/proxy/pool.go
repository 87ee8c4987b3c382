// Package proxy maintains the rotating set of egress proxy endpoints.
package proxy

import (
	"sync"

	"github.com/scangrid-io/scangrid/internal/grid"
)

// Pool implements grid.ProxySource with a round-robin cursor. Entries are
// read-only once registered; selection only advances the cursor.
type Pool struct {
	mu      sync.Mutex
	proxies []grid.ProxyConfig
	cursor  int
}

// New constructs a Pool seeded with the supplied proxies.
func New(proxies ...grid.ProxyConfig) *Pool {
	return &Pool{
		proxies: append([]grid.ProxyConfig(nil), proxies...),
	}
}

// Next returns the next proxy in rotation. An empty pool returns ok=false,
// signaling the caller to proceed with a direct connection.
func (p *Pool) Next() (grid.ProxyConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return grid.ProxyConfig{}, false
	}
	cfg := p.proxies[p.cursor%len(p.proxies)]
	p.cursor++
	return cfg, true
}

// Register appends a proxy to the rotation.
func (p *Pool) Register(cfg grid.ProxyConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = append(p.proxies, cfg)
}

// Remove drops every proxy matching host and port. It returns the number of
// entries removed.
func (p *Pool) Remove(host string, port int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.proxies[:0]
	removed := 0
	for _, cfg := range p.proxies {
		if cfg.Host == host && cfg.Port == port {
			removed++
			continue
		}
		kept = append(kept, cfg)
	}
	p.proxies = kept
	if len(p.proxies) > 0 {
		p.cursor %= len(p.proxies)
	} else {
		p.cursor = 0
	}
	return removed
}

// Len reports the pool size.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}
