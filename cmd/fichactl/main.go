package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/fichaclinica/intake-api/internal/app/bootstrap"
	"github.com/fichaclinica/intake-api/internal/audit"
	"github.com/fichaclinica/intake-api/internal/cli"
	appconfig "github.com/fichaclinica/intake-api/internal/config"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	// Diagnostics go to stderr so --format json stays parseable.
	logger := logging.NewWithOptions(logging.Options{Level: "warn", Format: "text", Output: os.Stderr})

	if err := cli.NewRootCommand(connector(cfg, logger)).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connector(cfg *appconfig.Config, logger *logging.Logger) cli.Connector {
	return func(ctx context.Context) (*cli.Backend, func(), error) {
		var closers []func()
		release := func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}

		pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		b := &cli.Backend{Records: bootstrap.BuildRepository(pool, logger)}
		if pool != nil {
			closers = append(closers, pool.Close)
			sqlDB := bootstrap.OpenSQLDB(pool)
			closers = append(closers, func() { _ = sqlDB.Close() })
			b.Audit = audit.NewStore(sqlDB)
		}

		redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, cfg.DraftBackend == appconfig.DraftBackendRedis)
		if redisClient != nil {
			closers = append(closers, func() { _ = redisClient.Close() })
		}
		store, closeDrafts, err := bootstrap.BuildDraftStore(cfg, redisClient, logger)
		if err != nil {
			release()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = closeDrafts() })
		b.Drafts = store

		return b, release, nil
	}
}
