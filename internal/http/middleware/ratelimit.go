package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ClientTagHeader lets trusted proxies tag requests with a stable client
// identity. Untagged requests are limited by client IP.
const ClientTagHeader = "X-Client-Tag"

// RateLimiter enforces a per-client sliding-window request limit.
// Windows are tracked in memory, so the limit is per process.
type RateLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	clients   map[string][]time.Time
	lastSweep time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string][]time.Time),
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(ClientTagHeader)
		if key == "" {
			key = c.ClientIP()
		}

		if !rl.allow(key, time.Now()) {
			slog.WarnContext(c.Request.Context(), "rate limit exceeded",
				"client", key,
				"path", c.Request.URL.Path)
			c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, try again shortly",
			})
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-rl.window)
	if now.Sub(rl.lastSweep) > rl.window {
		rl.sweep(cutoff)
		rl.lastSweep = now
	}

	kept := rl.clients[key][:0]
	for _, stamp := range rl.clients[key] {
		if stamp.After(cutoff) {
			kept = append(kept, stamp)
		}
	}
	if len(kept) >= rl.limit {
		rl.clients[key] = kept
		return false
	}
	rl.clients[key] = append(kept, now)
	return true
}

// sweep drops clients whose whole window has expired. Caller holds mu.
func (rl *RateLimiter) sweep(cutoff time.Time) {
	for key, stamps := range rl.clients {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(rl.clients, key)
		}
	}
}
