package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"liveclass/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options maps the shared Redis settings onto client options.
func Options(cfg config.RedisConfig) *redis.Options {
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	return &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dial,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Connect opens a client, verifies it answers PING and applies the key
// migrations. The client is closed again if either step fails.
func Connect(ctx context.Context, cfg config.RedisConfig, logger *zap.SugaredLogger) (*redis.Client, error) {
	opts := Options(cfg)
	client := redis.NewClient(opts)
	if cfg.SlowThreshold > 0 && logger != nil {
		client.AddHook(newSlowCommandHook(cfg.SlowThreshold, logger))
	}

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	if err := Migrate(ctx, client, logger); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to Redis",
			"address", cfg.Address,
			"db", cfg.DB,
			"pool_size", cfg.PoolSize,
		)
	}
	return client, nil
}

// slowCommandHook logs commands and pipelines that take longer than
// threshold. Cache misses are not failures.
type slowCommandHook struct {
	threshold time.Duration
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func newSlowCommandHook(threshold time.Duration, logger *zap.SugaredLogger) *slowCommandHook {
	return &slowCommandHook{threshold: threshold, logger: logger, now: time.Now}
}

func (h *slowCommandHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Warnw("redis dial failed", "address", addr, "error", err)
		}
		return conn, err
	}
}

func (h *slowCommandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := h.now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), h.now().Sub(start), err)
		return err
	}
}

func (h *slowCommandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := h.now()
		err := next(ctx, cmds)
		names := make([]string, 0, len(cmds))
		for _, cmd := range cmds {
			names = append(names, cmd.Name())
		}
		h.observe("pipeline("+strings.Join(names, ",")+")", h.now().Sub(start), err)
		return err
	}
}

func (h *slowCommandHook) observe(name string, elapsed time.Duration, err error) {
	if err != nil && !errors.Is(err, redis.Nil) {
		h.logger.Warnw("redis command failed", "command", name, "duration", elapsed, "error", err)
		return
	}
	if elapsed >= h.threshold {
		h.logger.Warnw("slow redis command", "command", name, "duration", elapsed)
	}
}
