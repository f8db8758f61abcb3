package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/ecovision/internal/adapters/backend"
	"github.com/okian/ecovision/internal/adapters/http/api"
	"github.com/okian/ecovision/internal/adapters/http/swagger"
	"github.com/okian/ecovision/internal/adapters/repository"
	ortruntime "github.com/okian/ecovision/internal/adapters/runtime"
	app "github.com/okian/ecovision/internal/app"
	"github.com/okian/ecovision/internal/app/syncer"
	"github.com/okian/ecovision/internal/config"
	"github.com/okian/ecovision/pkg/logger"
	"github.com/okian/ecovision/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 30 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
	maxUploadBytes        = 10 << 20
)

func main() {
	if err := run(); err != nil {
		// The logger may not exist yet.
		os.Stderr.WriteString("ecovision: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitWithFormat(cfg.LogFormat, os.Stdout); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, err := newService(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// newService builds the service from cfg without starting it.
func newService(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.Service, error) {
	policy, err := syncer.ParsePolicy(cfg.ConflictPolicy)
	if err != nil {
		return nil, err
	}

	var store repository.Store
	switch cfg.CacheBackend {
	case config.CacheRedis:
		rs := repository.NewRedisStore(
			repository.NewRedisPool(cfg.RedisAddr, cfg.RedisMaxIdle),
			repository.WithKeyPrefix(cfg.RedisKeyPrefix),
		)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("redis cache at %s: %w", cfg.RedisAddr, err)
		}
		store = rs
	default:
		store = repository.NewMemoryStore()
	}

	client := backend.New(
		backend.WithBaseURL(cfg.BackendBaseURL),
		backend.WithToken(cfg.BackendToken),
		backend.WithCredentials(cfg.BackendUsername, cfg.BackendPassword),
		backend.WithTimeout(cfg.SyncTimeout),
		backend.WithBackoff(cfg.SyncBaseDelay, cfg.SyncMaxDelay),
		backend.WithMaxRetries(cfg.MaxSyncRetries),
		backend.WithLogger(log.Named("backend")),
	)

	return app.New(
		app.WithLogger(log.Named("service")),
		app.WithRuntime(ortruntime.Options{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.ORTLibraryPath,
			Contract:    cfg.Contract(),
			UseGPU:      cfg.UseGPU,
			Threads:     cfg.Threads,
		}),
		app.WithThreshold(cfg.ConfidenceThreshold),
		app.WithStore(store),
		app.WithUploader(client),
		app.WithAccounts(client),
		app.WithQueueSize(cfg.SyncQueueSize),
		app.WithWorkerCount(cfg.SyncWorkerCount),
		app.WithConflictPolicy(policy),
		app.WithStartOnline(cfg.StartOnline),
		app.WithCacheRetention(cfg.CacheTTL, cfg.CacheSweepInterval),
	), nil
}

// newMux registers the API docs and the business routes.
func newMux(ctx context.Context, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, maxUploadBytes).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
