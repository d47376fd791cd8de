package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/crossfield/ssobroker/pkg/auth"
)

// RateLimitConfig defines one rate-limit tier.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// DefaultRateLimitConfig covers unauthenticated callers, keyed by client IP.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 100,
		WindowDuration:    time.Minute,
		BurstSize:         10,
	}
}

// PerAppRateLimitConfig covers authenticated applications.
func PerAppRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

// AdminRateLimitConfig covers admin-scoped callers. Imports and exports
// are batchy, so the window is more generous.
func AdminRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 5000,
		WindowDuration:    time.Minute,
		BurstSize:         100,
	}
}

// limitKey classifies a request into a rate-limit tier and returns the
// bucket key. Authenticated apps are keyed by app key so one busy app
// cannot starve the others; anonymous traffic is keyed by client IP.
// Runs after the auth middleware, which is what populates the context.
func limitKey(r *http.Request) (key string, admin bool, authenticated bool) {
	authCtx := GetAuthContext(r)
	if authCtx != nil && authCtx.Token != nil {
		return "app:" + authCtx.AppKey, authCtx.Token.HasScope(auth.ScopeAdmin), true
	}
	return "ip:" + getClientIP(r), false, false
}

// getClientIP prefers proxy headers over the socket address, since the
// broker normally sits behind an ingress.
func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// RateLimiter is an in-process token bucket, sufficient for single-instance
// deployments. Multi-instance deployments should use DistributedRateLimiter
// so the buckets are shared.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.RWMutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
	mu         sync.Mutex
}

// take refills the bucket for the time elapsed and consumes one token.
func (b *bucket) take(cfg *RateLimitConfig) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	refill := int(now.Sub(b.lastUpdate).Seconds() * float64(cfg.RequestsPerWindow) / cfg.WindowDuration.Seconds())
	if refill > 0 {
		b.tokens += refill
		if full := cfg.capacity(); b.tokens > full {
			b.tokens = full
		}
		b.lastUpdate = now
	}

	if b.tokens == 0 {
		return false
	}
	b.tokens--
	return true
}

func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether the key has budget left, consuming one token.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.config.capacity(), lastUpdate: time.Now()}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	return b.take(rl.config)
}

// Remaining returns the key's unconsumed tokens.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()

	if !ok {
		return rl.config.capacity()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Cleanup drops buckets idle for two windows. Without it, one bucket per
// client IP accumulates forever.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > rl.config.WindowDuration*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// StartCleanup runs Cleanup once per window until the context is canceled.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware applies the tiered in-process limiters to requests.
type RateLimitMiddleware struct {
	appLimiter       *RateLimiter
	adminLimiter     *RateLimiter
	anonymousLimiter *RateLimiter
}

func NewRateLimitMiddleware() *RateLimitMiddleware {
	return &RateLimitMiddleware{
		appLimiter:       NewRateLimiter(PerAppRateLimitConfig()),
		adminLimiter:     NewRateLimiter(AdminRateLimitConfig()),
		anonymousLimiter: NewRateLimiter(DefaultRateLimitConfig()),
	}
}

// StartCleanup starts the idle-bucket sweeper on every tier.
func (m *RateLimitMiddleware) StartCleanup(ctx context.Context) {
	m.appLimiter.StartCleanup(ctx)
	m.adminLimiter.StartCleanup(ctx)
	m.anonymousLimiter.StartCleanup(ctx)
}

func (m *RateLimitMiddleware) tier(admin, authenticated bool) *RateLimiter {
	switch {
	case admin:
		return m.adminLimiter
	case authenticated:
		return m.appLimiter
	default:
		return m.anonymousLimiter
	}
}

// Handler wraps next with tiered rate limiting.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, admin, authenticated := limitKey(r)
		limiter := m.tier(admin, authenticated)

		if !limiter.Allow(key) {
			writeLimitExceeded(w, limiter.config.RequestsPerWindow, limiter.config.WindowDuration, limiter.config.WindowDuration)
			return
		}

		setLimitHeaders(w, limiter.config.RequestsPerWindow, limiter.Remaining(key), limiter.config.WindowDuration)
		next.ServeHTTP(w, r)
	})
}

// setLimitHeaders attaches the informational X-RateLimit headers.
func setLimitHeaders(w http.ResponseWriter, limit, remaining int, untilReset time.Duration) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if untilReset > 0 {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(untilReset).Unix(), 10))
	}
}

// writeLimitExceeded answers 429 with Retry-After and a JSON body.
func writeLimitExceeded(w http.ResponseWriter, limit int, retryAfter, untilReset time.Duration) {
	seconds := fmt.Sprintf("%.0f", retryAfter.Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", seconds)
	setLimitHeaders(w, limit, 0, untilReset)
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + seconds + `}`))
}
