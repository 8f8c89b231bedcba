package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/tenantrouter/internal/api/response"
	"github.com/kiranshivaraju/tenantrouter/internal/cache"
)

const (
	defaultRequestsPerMinute = 60
	rateWindow               = time.Minute
)

// RateLimit throttles admin callers per API key using a fixed Redis window.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	now            func() time.Time
}

func NewRateLimit(c cache.Cache, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{cache: c, requestsPerMin: requestsPerMin, now: time.Now}
}

// Limit counts requests by the key prefix set by Authenticate. Requests without a key
// prefix pass through, and so do requests when Redis is unavailable.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix, ok := getKeyPrefix(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(prefix), rateWindow)
		if err != nil {
			slog.Warn("rate limit check failed, allowing request", "key_prefix", prefix, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(rl.requestsPerMin-int(count), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.now().Add(rateWindow).Unix(), 10))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rateWindow.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
