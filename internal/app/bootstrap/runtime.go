// Package bootstrap builds the runtime dependencies shared by the API server
// and the operator CLI.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/fichaclinica/intake-api/internal/config"
	"github.com/fichaclinica/intake-api/internal/drafts"
	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool opens and pings a pgx pool. An empty URL returns nil so
// the server can run on in-memory records during local development.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("connected to postgres")
	return pool, nil
}

// OpenSQLDB exposes the pool through database/sql for the audit store.
func OpenSQLDB(pool *pgxpool.Pool) *sql.DB {
	if pool == nil {
		return nil
	}
	return stdlib.OpenDBFromPool(pool)
}

// BuildRepository returns the Postgres repository when a pool is available and
// the in-memory one otherwise.
func BuildRepository(pool *pgxpool.Pool, logger *logging.Logger) records.Repository {
	if pool == nil {
		if logger != nil {
			logger.Warn("DATABASE_URL not set; patient records are kept in memory")
		}
		return records.NewInMemoryRepository()
	}
	return records.NewPostgresRepository(pool)
}

// BuildDraftStore selects the draft backend. The returned close func is never
// nil. A redis backend without a reachable client falls back to memory.
func BuildDraftStore(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (drafts.Store, func() error, error) {
	noop := func() error { return nil }
	if logger == nil {
		logger = logging.Default()
	}
	backend := appconfig.DraftBackendMemory
	if cfg != nil && cfg.DraftBackend != "" {
		backend = cfg.DraftBackend
	}

	switch backend {
	case appconfig.DraftBackendMemory:
		return drafts.NewMemoryStore(), noop, nil
	case appconfig.DraftBackendRedis:
		if redisClient == nil {
			logger.Warn("draft backend redis unavailable; falling back to memory")
			return drafts.NewMemoryStore(), noop, nil
		}
		logger.Info("draft store using redis", "ttl", cfg.DraftTTL.String())
		return drafts.NewRedisStore(redisClient, cfg.DraftTTL), noop, nil
	case appconfig.DraftBackendSQLite:
		store, err := drafts.NewSQLiteStore(cfg.DraftSQLitePath)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("draft store using sqlite", "path", cfg.DraftSQLitePath)
		return store, store.Close, nil
	default:
		return nil, noop, fmt.Errorf("bootstrap: unknown draft backend %q", backend)
	}
}
