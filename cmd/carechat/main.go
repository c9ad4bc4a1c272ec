package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/carechat/internal/adapter/orchestration"
	"github.com/xiaot623/carechat/internal/config"
	"github.com/xiaot623/carechat/internal/hub"
	"github.com/xiaot623/carechat/internal/logging"
	"github.com/xiaot623/carechat/internal/metrics"
	"github.com/xiaot623/carechat/internal/natsbus"
	"github.com/xiaot623/carechat/internal/policy"
	"github.com/xiaot623/carechat/internal/poller"
	"github.com/xiaot623/carechat/internal/repository"
	"github.com/xiaot623/carechat/internal/service"
	httpserver "github.com/xiaot623/carechat/internal/transport/http"
	"github.com/xiaot623/carechat/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "carechat: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "carechat: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("carechat stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("carechat stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting carechat",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.String("enrichment_url", cfg.Backend.EnrichmentURL),
		zap.String("orchestration_url", cfg.Backend.OrchestrationURL),
		zap.String("database", cfg.Database.URL))

	db, err := repository.NewSQLiteStore(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	m := metrics.New()

	client := orchestration.NewClient(orchestration.Config{
		EnrichmentURL:    cfg.Backend.EnrichmentURL,
		OrchestrationURL: cfg.Backend.OrchestrationURL,
		Timeout:          cfg.Backend.Timeout,
		MaxRetries:       cfg.Backend.MaxRetries,
		RetryDelay:       cfg.Backend.RetryDelay,
	}, orchestration.WithLogger(logger), orchestration.WithMetrics(m))

	policyEngine, err := loadPolicy(ctx, cfg.Policy.Path)
	if err != nil {
		return err
	}

	controller := poller.NewController(client, poller.Options{
		MaxAttempts: cfg.Poll.MaxAttempts,
		Backoff: poller.Backoff{
			Base: cfg.Poll.BackoffBase,
			Step: cfg.Poll.BackoffStep,
			Max:  cfg.Poll.BackoffMax,
		},
		Guard:  service.PolicyGuard(policyEngine),
		Logger: logger.Named("poller"),
	})

	connectionHub := hub.NewHub(logger.Named("hub"))
	notifiers := []service.Notifier{connectionHub}

	if cfg.NATS.Enabled {
		bus, err := openBus(cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer bus.Close()
		notifiers = append(notifiers, bus)
	}

	svc := service.New(db, controller, service.Options{
		Notifiers: notifiers,
		Metrics:   m,
		Logger:    logger.Named("service"),
	})

	wsServer := ws.NewServer(cfg.WS, connectionHub, svc, logger.Named("ws"))
	e := httpserver.NewServer(svc, connectionHub, wsServer, m, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		connectionHub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		logger.Info("http server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down carechat")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown http server gracefully", zap.Error(err))
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("polls still running at shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

// eventBus owns the NATS connection and, when embedded, the server.
type eventBus struct {
	*natsbus.Client
	server *natsbus.Bus
}

func (b *eventBus) Close() {
	b.Client.Close()
	if b.server != nil {
		b.server.Close()
	}
}

func openBus(cfg config.NATSConfig, logger *zap.Logger) (*eventBus, error) {
	busLogger := logger.Named("natsbus")
	if cfg.URL != "" {
		client, err := natsbus.NewClientFromURL(cfg.URL, busLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		logger.Info("publishing chat events to nats", zap.String("url", cfg.URL))
		return &eventBus{Client: client}, nil
	}

	server, err := natsbus.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded nats: %w", err)
	}
	client, err := natsbus.NewClient(server, busLogger)
	if err != nil {
		server.Close()
		return nil, fmt.Errorf("failed to connect to embedded nats: %w", err)
	}
	logger.Info("embedded nats started", zap.String("url", server.ClientURL()))
	return &eventBus{Client: client, server: server}, nil
}

func loadPolicy(ctx context.Context, path string) (*policy.Engine, error) {
	content := policy.DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy: %w", err)
		}
		content = string(data)
	}
	engine, err := policy.NewEngine(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	return engine, nil
}
