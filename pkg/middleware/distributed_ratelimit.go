package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter counts requests in Redis so the limit holds across
// every broker instance behind the load balancer.
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) bucketKey(key string) string {
	return rl.prefix + ":" + key
}

// Allow counts the request against its window. A Redis failure reports the
// request as allowed alongside the error; the caller decides whether to
// fail open.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	// INCR and EXPIRE must travel together, otherwise a key created right
	// before a crash would never expire.
	pipe := rl.redis.Pipeline()
	count := pipe.Incr(ctx, rl.bucketKey(key))
	pipe.Expire(ctx, rl.bucketKey(key), rl.config.WindowDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	return count.Val() <= int64(rl.config.RequestsPerWindow), nil
}

// Remaining returns the requests left in the key's current window.
func (rl *DistributedRateLimiter) Remaining(ctx context.Context, key string) (int, error) {
	count, err := rl.redis.Get(ctx, rl.bucketKey(key)).Int()
	switch {
	case err == redis.Nil:
		return rl.config.RequestsPerWindow, nil
	case err != nil:
		return 0, err
	}

	if remaining := rl.config.RequestsPerWindow - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// TTL returns the time until the key's window resets.
func (rl *DistributedRateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.bucketKey(key)).Result()
}

// Reset clears the window for a key.
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.bucketKey(key)).Err()
}

// DistributedRateLimitMiddleware applies the tiered Redis-backed limiters
// to requests.
type DistributedRateLimitMiddleware struct {
	redis            *redis.Client
	appLimiter       *DistributedRateLimiter
	adminLimiter     *DistributedRateLimiter
	anonymousLimiter *DistributedRateLimiter
	fallbackEnabled  bool
}

func NewDistributedRateLimitMiddleware(redisClient *redis.Client) *DistributedRateLimitMiddleware {
	return &DistributedRateLimitMiddleware{
		redis:            redisClient,
		appLimiter:       NewDistributedRateLimiter(redisClient, PerAppRateLimitConfig(), "ratelimit:app"),
		adminLimiter:     NewDistributedRateLimiter(redisClient, AdminRateLimitConfig(), "ratelimit:admin"),
		anonymousLimiter: NewDistributedRateLimiter(redisClient, DefaultRateLimitConfig(), "ratelimit:anon"),
		fallbackEnabled:  true,
	}
}

func (m *DistributedRateLimitMiddleware) tier(admin, authenticated bool) *DistributedRateLimiter {
	switch {
	case admin:
		return m.adminLimiter
	case authenticated:
		return m.appLimiter
	default:
		return m.anonymousLimiter
	}
}

// Handler wraps next with tiered distributed rate limiting. Redis outages
// fail open by default so the broker keeps serving logins and settings
// reads while the cache is down.
func (m *DistributedRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key, admin, authenticated := limitKey(r)
		limiter := m.tier(admin, authenticated)

		allowed, err := limiter.Allow(ctx, key)
		if err != nil {
			if m.fallbackEnabled {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		if !allowed {
			retryAfter := limiter.config.WindowDuration
			if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
				retryAfter = ttl
			}
			writeLimitExceeded(w, limiter.config.RequestsPerWindow, retryAfter, retryAfter)
			return
		}

		remaining, err := limiter.Remaining(ctx, key)
		if err != nil {
			// Serve without the informational headers.
			next.ServeHTTP(w, r)
			return
		}

		untilReset := time.Duration(0)
		if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
			untilReset = ttl
		}
		setLimitHeaders(w, limiter.config.RequestsPerWindow, remaining, untilReset)

		next.ServeHTTP(w, r)
	})
}

// SetFallbackEnabled controls whether Redis errors fail open (true) or
// closed (false).
func (m *DistributedRateLimitMiddleware) SetFallbackEnabled(enabled bool) {
	m.fallbackEnabled = enabled
}

// HealthCheck verifies Redis connectivity for rate limiting.
func (m *DistributedRateLimitMiddleware) HealthCheck(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

// GetStats reports the live bucket count per tier.
func (m *DistributedRateLimitMiddleware) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, limiter := range []*DistributedRateLimiter{m.appLimiter, m.adminLimiter, m.anonymousLimiter} {
		pattern := limiter.prefix + ":*"
		keys, err := m.redis.Keys(ctx, pattern).Result()
		if err != nil {
			return nil, err
		}
		stats[pattern] = int64(len(keys))
	}
	return stats, nil
}
