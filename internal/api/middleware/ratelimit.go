// ratelimit.go - ограничение частоты запросов по IP-адресу клиента.
// Token bucket (x/time/rate) на каждый адрес; неактивные адреса
// вытесняются из expirable LRU.
package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/project-assistant/internal/api/errors"
)

const (
	rateLimitCacheSize = 10000
	rateLimitIdleTTL   = 10 * time.Minute
)

// RateLimiter - ограничитель частоты запросов по IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *expirable.LRU[string, *rate.Limiter]
	logger   *slog.Logger
}

// NewRateLimiter создаёт ограничитель: rps запросов в секунду, burst - запас.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: expirable.NewLRU[string, *rate.Limiter](rateLimitCacheSize, nil, rateLimitIdleTTL),
		logger:   logger.With(slog.String("component", "rate_limit")),
	}
}

func (rl *RateLimiter) limiter(ip string) *rate.Limiter {
	if lim, ok := rl.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Add(ip, lim)
	return lim
}

// Middleware возвращает HTTP middleware. Превышение лимита - 429 с Retry-After.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			now := time.Now()
			res := rl.limiter(ip).ReserveN(now, 1)
			if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
				res.CancelAt(now)
				rl.logger.Warn("Превышен лимит запросов",
					slog.String("remote_addr", ip),
					slog.String("path", r.URL.Path),
				)
				apierrors.TooManyRequests(w, "Слишком много запросов, повторите позже",
					max(int(math.Ceil(delay.Seconds())), 1))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP - адрес клиента из RemoteAddr без порта.
// Заголовки X-Forwarded-For не учитываются: их подставляет chi RealIP на уровне роутера.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
