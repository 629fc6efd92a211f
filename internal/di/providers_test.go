package di

import (
	"context"
	"testing"
	"time"

	internalrepo "Rewind/internal/repository"
	pkgcache "Rewind/pkg/cache"
	"Rewind/pkg/config"
	"Rewind/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Storage.Dir = t.TempDir()
	cfg.Log.Level = "error"
	return cfg
}

func TestInitializeRuntimeWithDefaults(t *testing.T) {
	cfg := testConfig(t)

	rt, err := InitializeRuntime(cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Orchestrator)
	assert.Equal(t, "openai/gpt-4o", rt.DefaultModel)

	items, err := rt.Orchestrator.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))
}

func TestOptionalInfrastructureDisabled(t *testing.T) {
	cfg := testConfig(t)

	rc, err := ProvideRedisCache(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)

	assert.Nil(t, ProvideQueue(cfg, rc, logger.Nop()))
	assert.Nil(t, ProvideCache(cfg, rc))
	assert.IsType(t, internalrepo.NoopEventPublisher{}, ProvideEventPublisher(cfg, producer))
}

func TestProvideCacheMemoryOnlyWithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Enabled = true

	store := ProvideCache(cfg, nil)
	require.IsType(t, &pkgcache.MemoryCache{}, store)

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	var got string
	require.NoError(t, store.Get(ctx, "k", &got))
	assert.Equal(t, "v", got)
}

func TestProvideResultStoreFileBackend(t *testing.T) {
	cfg := testConfig(t)

	store, err := ProvideResultStore(cfg, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &internalrepo.FileResultStore{}, store)
	assert.NoError(t, store.Close())
}

func TestProvideResultStorePostgresNeedsDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StoragePostgres

	_, err := ProvideResultStore(cfg, logger.Nop())
	assert.Error(t, err)
}
