package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRepositoryFactory_MemoryByDefault(t *testing.T) {
	cfg := config.DefaultConfig()

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, BackendMemory, f.Backend())
	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))
}

func TestRepositoryFactory_SQLite(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = BackendSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "nested", "liveclass.db")

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, BackendSQLite, f.Backend())
	require.NoError(t, f.HealthCheck(context.Background()))

	ctx := context.Background()
	streams := f.CreateStreamRepository()
	stream := &domain.Stream{
		ID:                "sqlite-stream",
		HostID:            "host-1",
		State:             domain.StreamScheduled,
		BandwidthSettings: domain.DefaultBandwidthSettings(),
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, streams.Create(ctx, stream))
	got, err := streams.GetByID(ctx, "sqlite-stream")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("host-1"), got.HostID)

	recordings := f.CreateRecordingRepository()
	list, err := recordings.ListByStream(ctx, "sqlite-stream")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRepositoryFactory_UnreachableRedisFallsBack(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = BackendRedis
	cfg.Redis.Address = "127.0.0.1:1"

	f, err := NewRepositoryFactory(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, BackendMemory, f.Backend())
	assert.Nil(t, f.RedisClient())
}
