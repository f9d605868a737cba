// README: Per-key token bucket rate limiting (e.g. one bucket per worker id).
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// idleTTL is how long an untouched bucket is kept before it is dropped.
const idleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds one token bucket per key.
type KeyedLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastPrune time.Time
}

// NewKeyedLimiter allows perSecond sustained events per key with the given
// burst. A non-positive rate disables limiting.
func NewKeyedLimiter(perSecond float64, burst int) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &KeyedLimiter{buckets: make(map[string]*bucket), limit: limit, burst: burst, now: time.Now}
}

func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > idleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > idleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// RateLimit rejects requests with 429 once the bucket for the route's :param
// value is empty. counter may be nil.
func RateLimit(l *KeyedLimiter, param string, counter prometheus.Counter, log *slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(c *gin.Context) {
		key := c.Param(param)
		if key == "" || l.Allow(key) {
			c.Next()
			return
		}
		if counter != nil {
			counter.Inc()
		}
		log.Warn("rate limit exceeded", "request_id", RequestID(c), "key", key, "path", c.Request.URL.Path)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	}
}
