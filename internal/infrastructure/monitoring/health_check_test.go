package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"liveclass/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker_AllHealthy(t *testing.T) {
	h := NewHealthChecker()
	h.AddRepositoryCheck(memory.NewMemoryStreamRepository(), time.Second)
	h.AddCheck("static", func(context.Context) error { return nil }, time.Second)

	status := h.CheckAll(context.Background())
	assert.True(t, status.Healthy())
	assert.Equal(t, map[string]string{"repository": "healthy", "static": "healthy"}, status.Checks)
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingCheck(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(context.Context) error { return nil }, time.Second)
	h.AddCheck("broken", func(context.Context) error { return errors.New("connection refused") }, time.Second)

	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "connection refused", status.Checks["broken"])
	assert.Equal(t, "healthy", status.Checks["ok"])
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	start := time.Now()
	status := h.CheckAll(context.Background())
	assert.False(t, status.Healthy())
	assert.Less(t, time.Since(start), time.Second)
}
