package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"liveclass/pkg/config"
	apperrors "liveclass/pkg/errors"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10000

// rateLimiterStore keeps one limiter per client key. The least recently seen
// clients are forgotten once the store is full.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

func newRateLimiterStore(r rate.Limit, burst, size int) *rateLimiterStore {
	limiters, err := lru.New[string, *rate.Limiter](size)
	if err != nil {
		panic(err)
	}
	return &rateLimiterStore{
		limiters: limiters,
		rate:     r,
		burst:    burst,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, ok := s.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(s.rate, s.burst)
		s.limiters.Add(key, limiter)
	}
	return limiter
}

// NewHTTPRateLimitMiddleware limits requests per client IP.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
		maxTrackedClients,
	)

	return func(c *gin.Context) {
		limiter := store.getLimiter(c.ClientIP())
		if !limiter.Allow() {
			retryAfter := 1.0
			if limiter.Limit() > 0 {
				retryAfter = math.Ceil(1 / float64(limiter.Limit()))
			}
			c.Header("Retry-After", strconv.Itoa(int(retryAfter)))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(apperrors.ErrCodeRateLimit),
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
