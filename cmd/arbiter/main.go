// Command arbiter runs the human-oversight intervention broker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	arbhttp "github.com/arbiterhq/arbiter/internal/adapter/http"
	arbnats "github.com/arbiterhq/arbiter/internal/adapter/nats"
	oteladapter "github.com/arbiterhq/arbiter/internal/adapter/otel"
	"github.com/arbiterhq/arbiter/internal/adapter/postgres"
	"github.com/arbiterhq/arbiter/internal/adapter/ristretto"
	"github.com/arbiterhq/arbiter/internal/adapter/workflowsrc"
	"github.com/arbiterhq/arbiter/internal/adapter/ws"
	"github.com/arbiterhq/arbiter/internal/config"
	"github.com/arbiterhq/arbiter/internal/domain/workflow"
	"github.com/arbiterhq/arbiter/internal/logger"
	"github.com/arbiterhq/arbiter/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"workflow_config", cfg.Workflow.ConfigPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	var metrics *oteladapter.Metrics
	if cfg.Otel.Enabled {
		shutdown, err := oteladapter.Init(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("otel shutdown failed", "error", err)
			}
		}()

		metrics, err = oteladapter.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		slog.Info("otel initialized", "endpoint", cfg.Otel.Endpoint)
	}

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS audit feed
	publisher, err := arbnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = publisher.Close() }()

	// Workflow definition cache
	wfCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer wfCache.Close()

	// --- Services ---
	registry := service.NewRegistry(cfg.Broker.SinkTimeout, metrics)
	dispatcher := service.NewDispatcher(cfg.Broker.DispatchQueueSize, registry, publisher, metrics)
	directory := service.NewDirectory()
	broker := service.NewBroker(postgres.NewStore(pool), directory, dispatcher, metrics)

	wfSource := workflowsrc.NewCachedSource(
		workflowsrc.NewFileSource(cfg.Workflow.ConfigPath),
		wfCache,
		cfg.Cache.TTL,
	)
	markers := workflow.Markers{
		Constitutional: cfg.Workflow.ConstitutionalMarker,
		Emergency:      cfg.Workflow.EmergencyMarker,
	}
	workflowSvc := service.NewWorkflowService(wfSource, broker, markers, cfg.Workflow.DefaultStepTimeout)

	timeouts := service.NewTimeoutScheduler(broker, cfg.Scheduler.TimeoutInterval, metrics)
	escalations := service.NewEscalationScheduler(broker, dispatcher,
		cfg.Scheduler.EscalationInterval,
		cfg.Scheduler.EscalationPriority,
		cfg.Scheduler.EscalationAfter,
		cfg.Scheduler.EscalationWindow,
		metrics,
	)

	// --- HTTP ---
	hub := ws.NewHub(registry)
	handlers := arbhttp.NewHandlers(broker, workflowSvc, directory)

	r := chi.NewRouter()
	r.Use(arbhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(arbhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	if cfg.Otel.Enabled {
		r.Use(oteladapter.HTTPMiddleware(cfg.Logging.Service))
	}

	arbhttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Background workers ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return timeouts.Run(gctx) })
	g.Go(func() error { return escalations.Run(gctx) })
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
