package repositories

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"liveclass/internal/core/ports"
	"liveclass/internal/infrastructure/repositories/memory"
	redisrepo "liveclass/internal/infrastructure/repositories/redis"
	"liveclass/internal/infrastructure/repositories/sqlite"
	"liveclass/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// RepositoryFactory creates repositories for the configured backend. A
// Redis backend that cannot be reached falls back to memory.
type RepositoryFactory struct {
	backend     string
	redisClient *redis.Client
	db          *sqlite.DB
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		backend: cfg.Storage.Backend,
		logger:  logger,
	}

	// The event bus needs Redis even when state lives elsewhere.
	if cfg.Redis.Enabled || factory.backend == BackendRedis {
		client, err := redisrepo.Connect(context.Background(), cfg.Redis, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis", "error", err)
			if factory.backend == BackendRedis {
				logger.Warn("falling back to memory repositories")
				factory.backend = BackendMemory
			}
		} else {
			factory.redisClient = client
		}
	}

	switch factory.backend {
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := sqlite.NewDB(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db.DB); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		factory.db = db
	case BackendRedis:
	default:
		factory.backend = BackendMemory
	}

	logger.Infow("repositories configured", "backend", factory.backend)
	return factory, nil
}

func (f *RepositoryFactory) Backend() string {
	return f.backend
}

// RedisClient returns the shared client, or nil when Redis is unavailable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) CreateStreamRepository() ports.StreamRepository {
	switch f.backend {
	case BackendRedis:
		return redisrepo.NewRedisStreamRepository(f.redisClient)
	case BackendSQLite:
		return sqlite.NewStreamRepository(f.db)
	}
	return memory.NewMemoryStreamRepository()
}

func (f *RepositoryFactory) CreateRecordingRepository() ports.RecordingRepository {
	switch f.backend {
	case BackendRedis:
		return redisrepo.NewRedisRecordingRepository(f.redisClient)
	case BackendSQLite:
		return sqlite.NewRecordingRepository(f.db)
	}
	return memory.NewMemoryRecordingRepository()
}

// HealthCheck pings whichever backend holds session state.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	switch f.backend {
	case BackendRedis:
		return f.redisClient.Ping(ctx).Err()
	case BackendSQLite:
		return f.db.PingContext(ctx)
	}
	return nil
}

func (f *RepositoryFactory) Close() error {
	var firstErr error
	if f.db != nil {
		firstErr = f.db.Close()
	}
	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
