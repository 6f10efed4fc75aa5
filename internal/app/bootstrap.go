package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderbook_go/internal/api"
	"orderbook_go/internal/domain"
	"orderbook_go/internal/engine"
	"orderbook_go/internal/feed"
	"orderbook_go/internal/infra"
	"orderbook_go/internal/infra/storage"
	"orderbook_go/internal/service"
	"orderbook_go/internal/supervisor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Metrics    *infra.Metrics
	Registry   *prometheus.Registry
	Journal    *storage.Journal
	Engine     *engine.Engine
	Generator  *feed.Generator
	Supervisor *supervisor.Supervisor
	Service    *service.OrderService
	Hub        *api.Hub
	Server     *api.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration from path and wires every component.
// A missing file falls back to the built-in defaults.
func (b *Bootstrap) Initialize(path string) error {
	slog.Info("Bootstrapping order book...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(path)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("Config file not found, using defaults", slog.String("path", path))
		cfg, err = infra.DefaultConfig(), nil
	}
	if err != nil {
		return err
	}

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))

	return b.Wire(cfg, infra.GlobalMetrics)
}

// Wire builds the component graph from cfg.
func (b *Bootstrap) Wire(cfg *infra.Config, metrics *infra.Metrics) error {
	b.Config = cfg
	b.Metrics = metrics

	// 3. Metrics registry
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(
		infra.NewMetricsCollector(metrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// 4. Audit journal
	engineOpts := []engine.Option{engine.WithMetrics(metrics)}
	var audit domain.AuditReader
	if cfg.Journal.Enabled {
		journal, err := storage.NewJournal(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		b.Journal = journal
		audit = journal
		engineOpts = append(engineOpts, engine.WithRecorder(journal))
		slog.Info("Audit journal initialized", slog.String("path", journalPath(cfg.Journal.Path)))
	}

	// 5. Engine, seeded with an initial batch
	b.Engine = engine.New(engineOpts...)
	b.Generator = feed.NewGenerator(cfg.Feed.Seed, cfg.Feed.NewWeight, cfg.Feed.UpdateWeight, nil)
	if cfg.Feed.SeedOrders > 0 {
		b.Engine.ApplyEnvelope(b.Generator.Seed(cfg.Feed.SeedOrders))
		slog.Info("Order book seeded", slog.Int("orders", b.Engine.Len()))
	}

	// 6. Feed supervisor
	b.Supervisor = supervisor.New(b.Dialer(), b.Engine,
		supervisor.WithMetrics(metrics),
		supervisor.WithBackoff(supervisor.Backoff{
			BaseDelay:   cfg.BaseDelay(),
			MaxDelay:    cfg.MaxDelay(),
			MinDelay:    cfg.MinDelay(),
			MaxAttempts: cfg.Supervisor.MaxAttempts,
		}),
	)
	b.Supervisor.OnError(func(err error) {
		slog.Warn("Feed error", slog.Any("error", err))
	})

	// 7. Gateway
	b.Service = service.NewOrderService(b.Engine, audit, b.Supervisor)
	b.Hub = api.NewHub()

	return nil
}

// Dialer returns the transport factory selected by feed.mode.
func (b *Bootstrap) Dialer() supervisor.Dialer {
	cfg := b.Config
	switch cfg.Feed.Mode {
	case infra.FeedModeWebSocket:
		wsCfg := feed.WebSocketConfig{
			URL:              cfg.Feed.URL,
			UserAgent:        cfg.Feed.UserAgent,
			HandshakeTimeout: time.Duration(cfg.Feed.HandshakeSec) * time.Second,
			PingInterval:     time.Duration(cfg.Feed.PingSec) * time.Second,
			ReadTimeout:      time.Duration(cfg.Feed.ReadSec) * time.Second,
		}
		if cfg.Feed.AccessKey != "" {
			wsCfg.Signer = feed.NewSigner(cfg.Feed.AccessKey, cfg.Feed.SecretKey, cfg.Feed.Passphrase)
		}
		return func(ctx context.Context) (feed.Transport, error) {
			ws, err := feed.DialWebSocket(ctx, wsCfg)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}
	default:
		synCfg := feed.SyntheticConfig{
			OpenDelay: cfg.OpenDelay(),
			Interval:  cfg.Interval(),
			Jitter:    cfg.Jitter(),
		}
		return func(ctx context.Context) (feed.Transport, error) {
			return feed.NewSynthetic(synCfg, b.Generator), nil
		}
	}
}

// Run starts the hub, the API server and, if configured, the feed. It
// blocks until ctx is cancelled, then shuts everything down.
func (b *Bootstrap) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go b.Hub.Run(hubCtx)

	b.Server = api.NewServer(b.Service, b.Hub,
		api.WithGatherer(b.Registry),
		api.WithAllowedOrigins(b.Config.API.AllowedOrigins),
		api.WithBaseContext(ctx),
	)
	unsubscribe := b.Engine.Subscribe(b.Server.PublishUpdate)
	defer unsubscribe()
	b.Supervisor.OnStateChange(b.Server.PublishConnection)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- b.Server.Start(b.Config.API.Addr)
	}()

	if b.Config.Supervisor.AutoStart {
		b.Supervisor.Start(ctx)
		slog.Info("Feed supervisor started", slog.String("mode", b.Config.Feed.Mode))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("api server: %w", err)
		}
	}

	b.Shutdown()
	return runErr
}

// Shutdown stops the feed, the API server and the journal.
func (b *Bootstrap) Shutdown() {
	if b.Supervisor != nil {
		b.Supervisor.Stop()
	}
	if b.Server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Server.Shutdown(ctx); err != nil {
			slog.Warn("API server shutdown failed", slog.Any("error", err))
		}
	}
	if b.Config != nil && b.Config.Engine.DumpOnExit && b.Engine != nil {
		if err := b.Engine.DumpState(b.Config.Engine.DumpPath); err != nil {
			slog.Error("State dump failed", slog.Any("error", err))
		} else {
			slog.Info("State dumped", slog.String("path", b.Config.Engine.DumpPath))
		}
	}
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Journal close failed", slog.Any("error", err))
		}
		b.Journal = nil
	}
}

func journalPath(path string) string {
	if path == "" {
		return storage.MemoryDSN
	}
	return path
}
