// Package ratelimit is a fixed-window request limiter backed by Redis, so
// limits hold across every gateway process sharing the counter.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lanonasis/authgate/pkg/errx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrRegistry = errx.NewRegistry("RATELIMIT")

var CodeLimitExceeded = ErrRegistry.Register("LIMIT_EXCEEDED", errx.TypeRateLimit, http.StatusTooManyRequests, "Too many requests")

// Config is one endpoint's budget: Limit requests per Window.
type Config struct {
	Limit  int
	Window time.Duration
}

// Default budgets per endpoint class.
var (
	LoginLimit       = Config{Limit: 5, Window: 15 * time.Minute}
	AuthorizeLimit   = Config{Limit: 10, Window: time.Minute}
	TokenLimit       = Config{Limit: 10, Window: time.Minute}
	RevokeLimit      = Config{Limit: 20, Window: time.Minute}
	AdminBypassLimit = Config{Limit: 5, Window: 15 * time.Minute}
	APILimit         = Config{Limit: 100, Window: 15 * time.Minute}
)

// Limiter counts hits per (endpoint, ip) in fixed windows.
type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Result is one admission decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Allow increments the window counter and admits while it stays at or
// under the limit. A Redis failure admits the request: losing rate
// limiting briefly beats failing every login.
func (l *Limiter) Allow(ctx context.Context, endpoint, ip string, cfg Config) Result {
	window := time.Now().Unix() / int64(cfg.Window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%s:%d", endpoint, ip, window)

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("rate limiter unavailable, admitting request")
		return Result{Allowed: true, Remaining: cfg.Limit}
	}

	count := int(incr.Val())
	if count > cfg.Limit {
		windowEnd := time.Unix((window+1)*int64(cfg.Window.Seconds()), 0)
		return Result{Allowed: false, RetryAfter: time.Until(windowEnd)}
	}
	return Result{Allowed: true, Remaining: cfg.Limit - count}
}
