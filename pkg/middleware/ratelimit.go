package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/appvend/appvend/pkg/apperr"
	"github.com/appvend/appvend/pkg/httputil"
)

// RateLimitConfig defines a fixed-window rate limit.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultRateLimitConfig is the anonymous-client limit.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 120, WindowDuration: time.Minute}
}

// PerPrincipalRateLimitConfig is the limit for authenticated principals.
func PerPrincipalRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{RequestsPerWindow: 1000, WindowDuration: time.Minute}
}

// RateLimit is a Redis-backed fixed-window limiter shared across server
// instances. Redis errors fail open so a cache outage never blocks
// downloads.
type RateLimit struct {
	redis     *redis.Client
	principal *RateLimitConfig
	anonymous *RateLimitConfig
	prefix    string
}

// NewRateLimit creates a limiter with separate principal and anonymous
// windows. Nil configs fall back to the defaults.
func NewRateLimit(client *redis.Client, principal, anonymous *RateLimitConfig) *RateLimit {
	if principal == nil {
		principal = PerPrincipalRateLimitConfig()
	}
	if anonymous == nil {
		anonymous = DefaultRateLimitConfig()
	}
	return &RateLimit{
		redis:     client,
		principal: principal,
		anonymous: anonymous,
		prefix:    "ratelimit",
	}
}

// Allow counts one request against the key's window.
func (rl *RateLimit) allow(r *http.Request, key string, config *RateLimitConfig) (bool, int, error) {
	ctx := r.Context()
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, config.WindowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, err
	}

	count := int(incr.Val())
	remaining := config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= config.RequestsPerWindow, remaining, nil
}

// Handler wraps an HTTP handler with rate limiting. Authenticated
// requests are keyed by actor, anonymous requests by client IP.
func (rl *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, config := rl.keyFor(r)

		allowed, remaining, err := rl.allow(r, key, config)
		if err != nil {
			// Fail open on Redis errors.
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", config.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			retryAfter := int(config.WindowDuration.Seconds())
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			httputil.WriteAppError(w,
				apperr.New(apperr.CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded").
					WithData("retry_after", retryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimit) keyFor(r *http.Request) (string, *RateLimitConfig) {
	if principal := Principal(r); principal != nil {
		key := fmt.Sprintf("%s:%d", principal.Actor.Type(), principal.Actor.ActorID())
		return key, rl.principal
	}
	return "ip:" + clientIP(r), rl.anonymous
}

// clientIP prefers proxy headers over the raw remote address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
