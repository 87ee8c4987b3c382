// Package config loads and validates grid configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Grid      GridConfig      `mapstructure:"grid"`
	Robots    RobotsConfig    `mapstructure:"robots"`
	Navigator NavigatorConfig `mapstructure:"navigator"`
	Proxies   []ProxyConfig   `mapstructure:"proxies"`
	Store     StoreConfig     `mapstructure:"store"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// GridConfig governs scheduler and cluster behavior.
type GridConfig struct {
	MaxConcurrentScans         int `mapstructure:"max_concurrent_scans"`
	MaxScansPerDomainPerWindow int `mapstructure:"max_scans_per_domain_per_window"`
	DefaultDelayMs             int `mapstructure:"default_delay_ms"`
	WindowMinutes              int `mapstructure:"window_minutes"`
	MaxRetries                 int `mapstructure:"max_retries"`
	NodeCount                  int `mapstructure:"node_count"`
}

// RobotsConfig controls robots.txt etiquette.
type RobotsConfig struct {
	Respect   bool   `mapstructure:"respect"`
	FailOpen  bool   `mapstructure:"fail_open"`
	UserAgent string `mapstructure:"user_agent"`
}

// NavigatorConfig selects and tunes the page navigator backing each worker.
type NavigatorConfig struct {
	Kind               string  `mapstructure:"kind"`
	UserAgent          string  `mapstructure:"user_agent"`
	NavTimeoutSeconds  int     `mapstructure:"nav_timeout_seconds"`
	SetupBufferSeconds int     `mapstructure:"setup_buffer_seconds"`
	DomainQPS          float64 `mapstructure:"domain_qps"`
}

// ProxyConfig describes one outbound proxy endpoint. Type is the proxy
// protocol; empty means http.
type ProxyConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Type     string `mapstructure:"type"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// StoreConfig controls outcome persistence.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
}

// PublisherConfig holds metadata for publish-subscribe notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCANGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("grid.max_concurrent_scans", 4)
	v.SetDefault("grid.max_scans_per_domain_per_window", 10)
	v.SetDefault("grid.default_delay_ms", 1000)
	v.SetDefault("grid.window_minutes", 60)
	v.SetDefault("grid.max_retries", 2)
	v.SetDefault("grid.node_count", 4)
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.fail_open", true)
	v.SetDefault("robots.user_agent", "scangrid-bot/0.1")
	v.SetDefault("navigator.kind", "http")
	v.SetDefault("navigator.user_agent", "scangrid-bot/0.1")
	v.SetDefault("navigator.nav_timeout_seconds", 30)
	v.SetDefault("navigator.setup_buffer_seconds", 5)
	v.SetDefault("navigator.domain_qps", 1.0)
	v.SetDefault("store.provider", "memory")
	v.SetDefault("store.table", "outcomes")
	v.SetDefault("publisher.provider", "none")
	v.SetDefault("publisher.topic", "scan-outcomes")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Grid.MaxConcurrentScans <= 0 {
		return fmt.Errorf("grid.max_concurrent_scans must be > 0")
	}
	if c.Grid.NodeCount <= 0 {
		return fmt.Errorf("grid.node_count must be > 0")
	}
	if c.Grid.MaxRetries < 0 {
		return fmt.Errorf("grid.max_retries must be >= 0")
	}
	if c.Grid.WindowMinutes <= 0 {
		return fmt.Errorf("grid.window_minutes must be > 0")
	}
	switch c.Navigator.Kind {
	case "chromedp", "http", "noop":
	default:
		return fmt.Errorf("navigator.kind must be one of chromedp, http, noop")
	}
	if c.Navigator.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("navigator.nav_timeout_seconds must be > 0")
	}
	switch c.Store.Provider {
	case "memory", "noop":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set when store.provider is postgres")
		}
	default:
		return fmt.Errorf("store.provider must be one of memory, noop, postgres")
	}
	for i, p := range c.Proxies {
		switch p.Type {
		case "", "http", "socks5":
		default:
			return fmt.Errorf("proxies[%d].type must be one of http, socks5", i)
		}
	}
	switch c.Publisher.Provider {
	case "none", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicID == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_id must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("publisher.provider must be one of none, memory, pubsub")
	}
	return nil
}

// DefaultDelay converts the configured per-domain delay to a duration.
func (c Config) DefaultDelay() time.Duration {
	return time.Duration(c.Grid.DefaultDelayMs) * time.Millisecond
}

// Window converts the configured rate-limit window to a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.Grid.WindowMinutes) * time.Minute
}

// NavTimeout returns the per-navigation timeout as a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Navigator.NavTimeoutSeconds) * time.Second
}

// SetupBuffer returns the extra headroom granted on top of NavTimeout.
func (c Config) SetupBuffer() time.Duration {
	return time.Duration(c.Navigator.SetupBufferSeconds) * time.Second
}
