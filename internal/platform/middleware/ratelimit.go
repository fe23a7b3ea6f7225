package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
// Buckets idle for longer than idleTTL are evicted lazily.
type MemoryLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	visitors map[string]*visitor
	idleTTL  time.Duration
	lastGC   time.Time
	now      func() time.Time
}

func NewMemoryLimiter(cfg RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	if now.Sub(m.lastGC) > m.idleTTL {
		for k, v := range m.visitors {
			if now.Sub(v.lastSeen) > m.idleTTL {
				delete(m.visitors, k)
			}
		}
		m.lastGC = now
	}
	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(m.cfg.RequestsPerSecond), m.cfg.BurstSize)}
		m.visitors[key] = v
	}
	v.lastSeen = now
	m.mu.Unlock()

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{RetryAfter: time.Second}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(math.Max(0, v.limiter.TokensAt(now)))}, nil
}

// RedisLimiter counts requests per key in one-second windows shared by
// every replica.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, cfg RateLimitConfig) *RedisLimiter {
	limit := cfg.BurstSize
	if limit <= 0 {
		limit = int(math.Ceil(cfg.RequestsPerSecond))
	}
	return &RedisLimiter{client: client, limit: limit, prefix: "cardiodx:rl:", now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	windowKey := fmt.Sprintf("%s%s:%d", l.prefix, key, now.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	count := int(incr.Val())
	if count > l.limit {
		next := now.Truncate(time.Second).Add(time.Second)
		return Decision{RetryAfter: next.Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: l.limit - count}, nil
}

// RateLimit throttles by caller and client IP. Limiter failures let the
// request through.
func RateLimit(limiter Limiter, cfg RateLimitConfig, logger zerolog.Logger) echo.MiddlewareFunc {
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = uid + ":" + key
			}

			d, err := limiter.Allow(c.Request().Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("request_id", requestID(c)).Msg("rate limiter unavailable")
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				h.Set("Retry-After", strconv.Itoa(secs))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			return next(c)
		}
	}
}
