package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"liveclass/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// LockManager hands out short-lived Redis locks keyed by stream
// transition. Locks expire on their own if the holder dies.
type LockManager struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.SugaredLogger
}

var _ ports.StreamLocker = (*LockManager)(nil)

func NewLockManager(client *redis.Client, prefix string, ttl time.Duration, logger *zap.SugaredLogger) *LockManager {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &LockManager{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (lm *LockManager) key(name string) string {
	return lm.prefix + name
}

// TryLock acquires key without waiting. The returned release is safe to call
// once the lock has expired or been taken over.
func (lm *LockManager) TryLock(ctx context.Context, name string) (func(), bool, error) {
	key := lm.key(name)
	token, err := lockToken()
	if err != nil {
		return nil, false, err
	}

	acquired, err := lm.client.SetNX(ctx, key, token, lm.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, lm.client, []string{key}, token).Err(); err != nil {
			lm.logger.Warnw("failed to release lock", "key", key, "error", err)
		}
	}
	return release, true, nil
}

func lockToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
