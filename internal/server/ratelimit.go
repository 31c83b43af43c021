package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/54b3r/semsearch/internal/logging"
	"github.com/54b3r/semsearch/internal/rag"
)

// defaultRateLimit is the sustained requests per second allowed per client
// and route class when no explicit limit is configured.
const defaultRateLimit = 10

// defaultRateBurst is the bucket size per client and route class when no
// explicit burst is configured.
const defaultRateBurst = 20

const (
	// maxBuckets bounds the number of tracked clients.
	maxBuckets = 10_000
	// bucketIdleTTL drops a client's bucket after this long without traffic.
	bucketIdleTTL = 5 * time.Minute
)

// codeRateLimited is the error code of a 429 response.
const codeRateLimited rag.Code = "rate-limited"

// bucketKey separates a client's search traffic from its admin traffic so
// a busy search client cannot starve its own reindex calls.
type bucketKey struct {
	ip    string
	class role
}

// rateLimiter enforces a token-bucket limit per client IP and route class.
// Buckets live in an expiring LRU so memory stays bounded without a
// janitor goroutine of our own.
type rateLimiter struct {
	buckets *expirable.LRU[bucketKey, *rate.Limiter]
	rps     rate.Limit
	burst   int
	log     *slog.Logger
}

// newRateLimiter builds a limiter allowing rps sustained requests with the
// given burst per client and route class.
func newRateLimiter(rps float64, burst int, log *slog.Logger) *rateLimiter {
	return &rateLimiter{
		buckets: expirable.NewLRU[bucketKey, *rate.Limiter](maxBuckets, nil, bucketIdleTTL),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}
}

// bucket returns the limiter for key, creating it on first use. Every access
// re-adds the entry so its idle TTL restarts.
func (rl *rateLimiter) bucket(key bucketKey) *rate.Limiter {
	lim, ok := rl.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.rps, rl.burst)
	}
	rl.buckets.Add(key, lim)
	return lim
}

// middleware rejects requests over the limit with 429, a Retry-After header
// derived from the bucket's refill time, and a JSON error body.
func (rl *rateLimiter) middleware(class role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		lim := rl.bucket(bucketKey{ip: ip, class: class})

		res := lim.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
				slog.Duration("retry_after", delay),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
			writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
				Code:    codeRateLimited,
				Message: "rate limit exceeded",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds delay up to whole seconds, at least 1. A limiter
// that never refills reports an infinite delay; cap it at an hour.
func retryAfterSeconds(delay time.Duration) int {
	if delay == rate.InfDuration || delay > time.Hour {
		return int(time.Hour / time.Second)
	}
	return max(1, int(math.Ceil(delay.Seconds())))
}

// clientIP extracts the remote IP from the request, stripping the port.
// X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
