package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scangrid-io/scangrid/internal/cluster"
	"github.com/scangrid-io/scangrid/internal/config"
	"github.com/scangrid-io/scangrid/internal/grid"
	chromedpnav "github.com/scangrid-io/scangrid/internal/navigator/chromedp"
	"github.com/scangrid-io/scangrid/internal/navigator/httpnav"
	"github.com/scangrid-io/scangrid/internal/navigator/noop"
	"github.com/scangrid-io/scangrid/internal/proxy"
	memorypub "github.com/scangrid-io/scangrid/internal/publisher/memory"
	gcppub "github.com/scangrid-io/scangrid/internal/publisher/pubsub"
	"github.com/scangrid-io/scangrid/internal/report"
	"github.com/scangrid-io/scangrid/internal/robots"
	"github.com/scangrid-io/scangrid/internal/scheduler"
	"github.com/scangrid-io/scangrid/internal/store"
	memorystore "github.com/scangrid-io/scangrid/internal/store/memory"
	pgstore "github.com/scangrid-io/scangrid/internal/store/postgres"
	"github.com/scangrid-io/scangrid/internal/worker"

	clocksys "github.com/scangrid-io/scangrid/internal/clock/system"
	uuidgen "github.com/scangrid-io/scangrid/internal/id/uuid"
)

// components bundles everything a command needs to run the grid.
type components struct {
	scheduler *scheduler.Scheduler
	cluster   *cluster.Manager
	hub       *report.Hub
	outcomes  store.Store
	publisher grid.Publisher
	logger    *zap.Logger
}

// shutdown tears down in reverse dependency order. Safe to call more than
// once; each layer's shutdown is idempotent.
func (c *components) shutdown(ctx context.Context) {
	if err := c.cluster.ShutdownAll(ctx); err != nil {
		c.logger.Warn("cluster shutdown incomplete", zap.Error(err))
	}
	if err := c.hub.Close(ctx); err != nil {
		c.logger.Warn("report hub close failed", zap.Error(err))
	}
	if err := c.outcomes.Close(ctx); err != nil {
		c.logger.Warn("outcome store close failed", zap.Error(err))
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			c.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
}

// buildComponents wires the whole grid from config: proxies, navigators,
// workers, cluster, stores, sinks, and finally the scheduler.
func buildComponents(ctx context.Context, cfg config.Config, logger *zap.Logger) (*components, error) {
	pool := proxy.New(proxyConfigs(cfg.Proxies)...)

	factory, err := sessionFactory(cfg, pool)
	if err != nil {
		return nil, err
	}

	workers := make([]*worker.Worker, 0, cfg.Grid.NodeCount)
	for i := 0; i < cfg.Grid.NodeCount; i++ {
		workers = append(workers, worker.New(
			fmt.Sprintf("worker-%d", i),
			factory,
			pool,
			worker.Config{
				NavTimeout:  cfg.NavTimeout(),
				SetupBuffer: cfg.SetupBuffer(),
				UserAgent:   cfg.Navigator.UserAgent,
			},
			logger,
		))
	}

	cl := cluster.New(cluster.Config{NodeCount: cfg.Grid.NodeCount}, workers, logger)
	if err := cl.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize cluster: %w", err)
	}

	outcomes, err := buildStore(ctx, cfg)
	if err != nil {
		shutdownCluster(ctx, cl, logger)
		return nil, err
	}

	pub, err := buildPublisher(ctx, cfg)
	if err != nil {
		shutdownCluster(ctx, cl, logger)
		return nil, err
	}

	sinks := []report.Sink{
		report.NewLogSink(logger),
		report.NewStoreSink(outcomes),
		report.NewMetricsSink(),
	}
	if pub != nil {
		sinks = append(sinks, report.NewPublisherSink(pub, cfg.Publisher.Topic))
	}
	hub := report.NewHub(report.Config{Logger: logger}, sinks...)

	policy := robotsPolicy(cfg, logger)
	sched := scheduler.New(
		scheduler.Config{
			MaxConcurrentScans:         cfg.Grid.MaxConcurrentScans,
			MaxScansPerDomainPerWindow: cfg.Grid.MaxScansPerDomainPerWindow,
			DefaultDelay:               cfg.DefaultDelay(),
			Window:                     cfg.Window(),
			MaxRetries:                 cfg.Grid.MaxRetries,
			RespectRobotsTxt:           cfg.Robots.Respect,
		},
		cl,
		policy,
		clocksys.New(),
		uuidgen.NewGenerator(),
		hub,
		logger,
	)

	return &components{
		scheduler: sched,
		cluster:   cl,
		hub:       hub,
		outcomes:  outcomes,
		publisher: pub,
		logger:    logger,
	}, nil
}

func sessionFactory(cfg config.Config, pool *proxy.Pool) (worker.SessionFactory, error) {
	switch cfg.Navigator.Kind {
	case "chromedp":
		return func() (grid.Navigator, error) {
			sessionCfg := chromedpnav.Config{
				UserAgent:      cfg.Navigator.UserAgent,
				DomainQPS:      cfg.Navigator.DomainQPS,
				DefaultTimeout: cfg.NavTimeout(),
			}
			if p, ok := pool.Next(); ok {
				sessionCfg.Proxy = &p
			}
			return chromedpnav.NewSession(sessionCfg)
		}, nil
	case "http":
		return func() (grid.Navigator, error) {
			return httpnav.New(httpnav.Config{
				UserAgent:      cfg.Navigator.UserAgent,
				DefaultTimeout: cfg.NavTimeout(),
			}), nil
		}, nil
	case "noop":
		return func() (grid.Navigator, error) {
			return noop.New(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown navigator kind %q", cfg.Navigator.Kind)
	}
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Provider {
	case "memory":
		return memorystore.New(), nil
	case "noop":
		return store.Noop{}, nil
	case "postgres":
		st, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.Store.DSN, Table: cfg.Store.Table})
		if err != nil {
			return nil, fmt.Errorf("connect outcome store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (grid.Publisher, error) {
	switch cfg.Publisher.Provider {
	case "none":
		return nil, nil
	case "memory":
		return memorypub.New(), nil
	case "pubsub":
		pub, err := gcppub.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.TopicID)
		if err != nil {
			return nil, fmt.Errorf("connect publisher: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publisher provider %q", cfg.Publisher.Provider)
	}
}

func robotsPolicy(cfg config.Config, logger *zap.Logger) grid.RobotsPolicy {
	if !cfg.Robots.Respect {
		return robots.AllowAll{}
	}
	return robots.NewEnforcer(robots.Config{
		UserAgent: cfg.Robots.UserAgent,
		FailOpen:  cfg.Robots.FailOpen,
	}, logger)
}

func proxyConfigs(in []config.ProxyConfig) []grid.ProxyConfig {
	out := make([]grid.ProxyConfig, 0, len(in))
	for _, p := range in {
		out = append(out, grid.ProxyConfig{
			Host:     p.Host,
			Port:     p.Port,
			Type:     p.Type,
			Username: p.Username,
			Password: p.Password,
		})
	}
	return out
}

func shutdownCluster(ctx context.Context, cl *cluster.Manager, logger *zap.Logger) {
	if err := cl.ShutdownAll(ctx); err != nil {
		logger.Warn("cluster shutdown incomplete", zap.Error(err))
	}
}
