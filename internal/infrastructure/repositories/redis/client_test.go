package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveclass/pkg/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestOptions(t *testing.T) {
	opts := Options(config.RedisConfig{
		Address:      "cache:6379",
		Password:     "secret",
		DB:           2,
		PoolSize:     8,
		MinIdleConns: 1,
	})

	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 8, opts.PoolSize)
	assert.Equal(t, 1, opts.MinIdleConns)
	assert.Equal(t, 5*time.Second, opts.DialTimeout)

	opts = Options(config.RedisConfig{DialTimeout: time.Second})
	assert.Equal(t, time.Second, opts.DialTimeout)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), config.RedisConfig{
		Address:     "127.0.0.1:1",
		PoolSize:    1,
		DialTimeout: 200 * time.Millisecond,
	}, zap.NewNop().Sugar())
	assert.Error(t, err)
}

// steppedClock advances by step on every reading.
type steppedClock struct {
	at   time.Time
	step time.Duration
}

func (c *steppedClock) Now() time.Time {
	c.at = c.at.Add(c.step)
	return c.at
}

func newObservedHook(step time.Duration) (*slowCommandHook, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newSlowCommandHook(50*time.Millisecond, zap.New(core).Sugar())
	clock := &steppedClock{at: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), step: step}
	h.now = clock.Now
	return h, logs
}

func TestSlowCommandHook_Process(t *testing.T) {
	ok := func(context.Context, redis.Cmder) error { return nil }

	t.Run("fast command is silent", func(t *testing.T) {
		h, logs := newObservedHook(time.Millisecond)
		require.NoError(t, h.ProcessHook(ok)(context.Background(), redis.NewStringCmd(context.Background(), "get", "k")))
		assert.Zero(t, logs.Len())
	})

	t.Run("slow command is logged", func(t *testing.T) {
		h, logs := newObservedHook(100 * time.Millisecond)
		require.NoError(t, h.ProcessHook(ok)(context.Background(), redis.NewStringCmd(context.Background(), "get", "k")))
		entries := logs.FilterMessage("slow redis command").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "get", entries[0].ContextMap()["command"])
	})

	t.Run("miss is not a failure", func(t *testing.T) {
		h, logs := newObservedHook(time.Millisecond)
		miss := func(context.Context, redis.Cmder) error { return redis.Nil }
		err := h.ProcessHook(miss)(context.Background(), redis.NewStringCmd(context.Background(), "get", "k"))
		assert.ErrorIs(t, err, redis.Nil)
		assert.Zero(t, logs.Len())
	})

	t.Run("failure is logged and returned", func(t *testing.T) {
		h, logs := newObservedHook(time.Millisecond)
		boom := errors.New("connection reset")
		fail := func(context.Context, redis.Cmder) error { return boom }
		err := h.ProcessHook(fail)(context.Background(), redis.NewStringCmd(context.Background(), "set", "k", "v"))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, logs.FilterMessage("redis command failed").Len())
	})
}

func TestSlowCommandHook_Pipeline(t *testing.T) {
	h, logs := newObservedHook(100 * time.Millisecond)
	ctx := context.Background()
	cmds := []redis.Cmder{
		redis.NewStatusCmd(ctx, "set", "k", "v"),
		redis.NewIntCmd(ctx, "expire", "k", 60),
	}
	err := h.ProcessPipelineHook(func(context.Context, []redis.Cmder) error { return nil })(ctx, cmds)
	require.NoError(t, err)

	entries := logs.FilterMessage("slow redis command").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline(set,expire)", entries[0].ContextMap()["command"])
}
