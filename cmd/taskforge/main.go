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
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Strob0t/taskforge/internal/adapter/nats"
	"github.com/Strob0t/taskforge/internal/adapter/otel"
	"github.com/Strob0t/taskforge/internal/adapter/postgres"
	"github.com/Strob0t/taskforge/internal/adapter/workerpool"
	"github.com/Strob0t/taskforge/internal/config"
	"github.com/Strob0t/taskforge/internal/executor"
	"github.com/Strob0t/taskforge/internal/logger"
	"github.com/Strob0t/taskforge/internal/middleware"
	"github.com/Strob0t/taskforge/internal/registry"
	"github.com/Strob0t/taskforge/internal/resilience"
	"github.com/Strob0t/taskforge/internal/secrets"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskforge:", err)
		os.Exit(2)
	}

	if err := run(flags); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(flags config.CLIFlags) error {
	cfg, _, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	if cfg.Executor.Owner == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.Executor.Owner = hostname
		} else {
			cfg.Executor.Owner = "taskforge-node"
		}
	}

	// Secret-shaped config (DB DSN, broker URL) comes from the environment
	// rather than the YAML/flag layers, so it never lands in a config file
	// or CLI history. The vault is read once here at startup; rotating
	// either value takes a process restart.
	vault, err := secrets.NewVault(secrets.EnvLoader("TASKFORGE_POSTGRES_DSN", "TASKFORGE_NATS_URL"))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	if dsn := vault.Get("TASKFORGE_POSTGRES_DSN"); dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	if natsURL := vault.Get("TASKFORGE_NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
	}

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"owner", cfg.Executor.Owner,
		"pool_workers", cfg.Pool.Workers,
	)

	ctx := context.Background()

	shutdownTelemetry := otel.InitTracer(ctx, otel.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: "dev",
		TraceEndpoint:  cfg.Telemetry.TraceEndpoint,
		MetricEndpoint: cfg.Telemetry.MetricEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutCtx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()

	sink, err := otel.NewSink()
	if err != nil {
		return fmt.Errorf("telemetry sink: %w", err)
	}

	// --- Task Store ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	store := postgres.NewBreakerStore(postgres.NewTaskStore(pool), breaker)

	// --- Replication trigger ---

	trigger, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = trigger.Close() }()

	// --- Task Registry ---

	reg := registry.New()
	registerBuiltinTaskTypes(reg)

	// --- Worker pools ---

	defaultPool := workerpool.NewPool("default", cfg.Pool.Workers, cfg.Pool.QueueDepth)
	defer defaultPool.Stop()
	provider := workerpool.NewRegistry(defaultPool)
	defer provider.StopAll()

	// --- Secrets redaction ---

	redact := secrets.NewRedactPolicy("password", "token", "apiKey", "secret", "privateKey")

	// --- Executor ---

	exec := executor.New(cfg.Executor.Owner, reg, store, provider, sink,
		executor.WithSkipSubtaskAbortableCheck(cfg.Executor.SkipSubtaskAbortableCheck),
		executor.WithRedact(redact.Redact),
		executor.WithReplication(trigger),
		executor.WithLogger(log),
	)

	// --- Admin HTTP surface ---

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otelhttp.NewMiddleware("taskforge-admin"))

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()
	r.Use(limiter.Handler)

	mountAdminRoutes(r, &adminHandlers{exec: exec, cfg: cfg})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting admin server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}

	if !exec.Shutdown(cfg.Executor.ShutdownTimeout) {
		log.Warn("executor did not drain within shutdown timeout")
	}

	return nil
}
