// Package bootstrap wires the process-wide runtime shared by the commands:
// database, Redis and tracing.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"parley/internal/cache"
	"parley/internal/config"
	"parley/internal/database"
	"parley/internal/middleware"
	"parley/internal/observability"
	"parley/internal/repository"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ServiceName labels traces.
	ServiceName string
	// Accounts are created up front when missing.
	Accounts []string
}

// Runtime is an initialized set of process dependencies.
type Runtime struct {
	DB    *gorm.DB
	Redis *redis.Client

	shutdownTracing func(context.Context) error
}

// InitRuntime connects to the database and Redis and starts tracing. A
// missing Redis leaves the runtime without cache and change feed.
func InitRuntime(cfg *config.Config, opts Options) (*Runtime, error) {
	name := opts.ServiceName
	if name == "" {
		name = "parley"
	}
	shutdown, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    name,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing setup failed: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)

	rt := &Runtime{DB: db, Redis: cache.GetClient(), shutdownTracing: shutdown}
	if err := rt.ensureAccounts(context.Background(), opts.Accounts); err != nil {
		_ = rt.Close(context.Background())
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) ensureAccounts(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	repo := repository.NewAccountRepository(rt.DB)
	for _, address := range addresses {
		account, err := repo.GetOrCreate(ctx, address)
		if err != nil {
			return fmt.Errorf("failed to bootstrap account %q: %w", address, err)
		}
		middleware.Logger.Info("account ready", slog.String("account", account.Address), slog.Uint64("id", uint64(account.ID)))
	}
	return nil
}

// Close flushes traces and closes Redis and the database.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.shutdownTracing != nil {
		if err := rt.shutdownTracing(ctx); err != nil {
			middleware.Logger.WarnContext(ctx, "tracing shutdown failed", slog.String("error", err.Error()))
		}
	}
	if err := cache.Close(); err != nil {
		middleware.Logger.WarnContext(ctx, "redis close failed", slog.String("error", err.Error()))
	}
	sqlDB, err := rt.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
