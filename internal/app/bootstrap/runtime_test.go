package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/fichaclinica/intake-api/internal/config"
	"github.com/fichaclinica/intake-api/internal/drafts"
	"github.com/fichaclinica/intake-api/internal/records"
	"github.com/fichaclinica/intake-api/pkg/logging"
)

func TestBuildRedisClient(t *testing.T) {
	ctx := context.Background()
	logger := logging.Discard()

	assert.Nil(t, BuildRedisClient(ctx, nil, logger, true))
	assert.Nil(t, BuildRedisClient(ctx, &appconfig.Config{}, logger, true))

	mr := miniredis.RunT(t)
	client := BuildRedisClient(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, logger, true)
	require.NotNil(t, client)
	defer client.Close()

	mr.Close()
	assert.Nil(t, BuildRedisClient(ctx, &appconfig.Config{RedisAddr: mr.Addr()}, logger, true))
}

func TestConnectPostgresPoolSkipsEmptyURL(t *testing.T) {
	pool, err := ConnectPostgresPool(context.Background(), "  ", logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, pool)
	assert.Nil(t, OpenSQLDB(pool))
}

func TestBuildRepositoryWithoutPool(t *testing.T) {
	repo := BuildRepository(nil, logging.Discard())
	_, ok := repo.(*records.InMemoryRepository)
	assert.True(t, ok)
}

func TestBuildDraftStore(t *testing.T) {
	logger := logging.Discard()

	t.Run("memory by default", func(t *testing.T) {
		store, closeFn, err := BuildDraftStore(&appconfig.Config{}, nil, logger)
		require.NoError(t, err)
		defer closeFn()
		_, ok := store.(*drafts.MemoryStore)
		assert.True(t, ok)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &appconfig.Config{DraftBackend: appconfig.DraftBackendRedis, RedisAddr: mr.Addr(), DraftTTL: time.Hour}
		client := BuildRedisClient(context.Background(), cfg, logger, true)
		require.NotNil(t, client)
		defer client.Close()

		store, closeFn, err := BuildDraftStore(cfg, client, logger)
		require.NoError(t, err)
		defer closeFn()
		_, ok := store.(*drafts.RedisStore)
		require.True(t, ok)

		slot := drafts.SlotFor("ter-1")
		require.NoError(t, store.Save(context.Background(), slot, drafts.Draft{Version: "1.0.0"}))
		assert.True(t, mr.Exists(slot))
	})

	t.Run("redis unavailable falls back", func(t *testing.T) {
		store, _, err := BuildDraftStore(&appconfig.Config{DraftBackend: appconfig.DraftBackendRedis}, nil, logger)
		require.NoError(t, err)
		_, ok := store.(*drafts.MemoryStore)
		assert.True(t, ok)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &appconfig.Config{
			DraftBackend:    appconfig.DraftBackendSQLite,
			DraftSQLitePath: filepath.Join(t.TempDir(), "drafts.db"),
		}
		store, closeFn, err := BuildDraftStore(cfg, nil, logger)
		require.NoError(t, err)
		defer closeFn()
		_, ok := store.(*drafts.SQLiteStore)
		assert.True(t, ok)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, _, err := BuildDraftStore(&appconfig.Config{DraftBackend: "etcd"}, nil, logger)
		assert.Error(t, err)
	})
}
