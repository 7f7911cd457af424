// nostrmartd is the NostrMart ingest service: it accepts signed protocol
// events over HTTP, validates and de-duplicates them, and serves
// paginated reads.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/nostrmart/core/pkg/admission"
	"github.com/nostrmart/core/pkg/api"
	"github.com/nostrmart/core/pkg/audit"
	"github.com/nostrmart/core/pkg/config"
	"github.com/nostrmart/core/pkg/crypto"
	"github.com/nostrmart/core/pkg/ingest"
	"github.com/nostrmart/core/pkg/observability"
	"github.com/nostrmart/core/pkg/ratelimit"
	"github.com/nostrmart/core/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:  "nostrmart-ingest",
		Environment:  "production",
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		Enabled:      cfg.OTelEnabled,
		Insecure:     true,
	})
	if err != nil {
		return fmt.Errorf("observability init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	eventStore, cleanup, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer cleanup()

	registry := admission.DefaultRegistry()
	if cfg.RuleFile != "" {
		if err := admission.LoadRuleFile(registry, cfg.RuleFile); err != nil {
			return fmt.Errorf("kind rule file: %w", err)
		}
		logger.Info("loaded kind rules", "file", cfg.RuleFile)
	}

	policy := admission.NewPolicy(
		crypto.NewSchnorrVerifier(),
		admission.WithMaxPayloadBytes(cfg.MaxEventBytes),
		admission.WithMaxFutureSkew(cfg.MaxFutureSkew),
		admission.WithKindRegistry(registry),
	)

	var limiter ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisAddr != "" {
		limiter = ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		logger.Info("rate limiting via redis", "addr", cfg.RedisAddr)
	}

	coordinator := ingest.NewCoordinator(eventStore, policy,
		ingest.WithRateLimiter(limiter, ratelimit.Policy{
			EventsPerMinute: cfg.RateLimitRPM,
			Burst:           cfg.RateLimitBurst,
		}),
		ingest.WithAuditLogger(audit.NewLogger()),
		ingest.WithMaxPageSize(cfg.MaxPageSize),
	)

	// Request bodies get headroom over the payload bound so oversized
	// events are rejected with the disclosed limit, not a read error.
	server := api.NewServer(coordinator, logger, cfg.MaxEventBytes*2+4096, api.WithMetrics(obs))
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port, "store", cfg.StoreBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildStore(cfg *config.Config) (store.EventStore, func(), error) {
	nop := func() {}
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nop, nil
	case config.BackendSQLite:
		s, err := store.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nop, err
		}
		s, err := store.NewPostgresStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nop, err
		}
		return s, func() { _ = db.Close() }, nil
	case config.BackendPostgREST:
		if cfg.PostgRESTURL == "" {
			return nil, nop, fmt.Errorf("POSTGREST_URL is required for the postgrest backend")
		}
		return store.NewPostgRESTStore(cfg.PostgRESTURL, cfg.PostgRESTKey), nop, nil
	default:
		return nil, nop, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
