package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SimpleTokenBucket rate-limits requests per client IP. The API mounts one
// instance globally and a much smaller one on pickup-token redemption, where
// every request is a guess at a live bearer secret.
type SimpleTokenBucket struct {
	capacity int
	perMin   int
	mu       sync.Mutex
	perIP    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewSimpleTokenBucket creates a limiter holding capacity tokens per IP,
// refilled at perMinute. In-memory only; a multi-instance deployment would
// move the buckets to redis.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity: capacity,
		perMin:   perMinute,
		perIP:    make(map[string]*bucket),
	}
}

// GinMiddleware rejects over-budget requests with 429.
func (l *SimpleTokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.perIP[ip]
	if !ok {
		l.perIP[ip] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	refill := int(now.Sub(b.last).Minutes() * float64(l.perMin))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
