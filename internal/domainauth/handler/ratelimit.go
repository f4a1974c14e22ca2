package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/senderauth/internal/identity"
)

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges requests to the client IP.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// ByAccount charges requests to the authenticated account, falling back to
// the client IP before authentication has run.
func ByAccount(c *gin.Context) string {
	if id := identity.AccountID(c); id != "" {
		return "acct:" + id
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter returns a Gin middleware that enforces token-bucket rate
// limiting per key. rps is the steady-state requests per second; burst is
// the maximum burst size. Stale entries are cleaned every 5 minutes until ctx
// is done.
func RateLimiter(ctx context.Context, rps float64, burst int, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ByClientIP
	}
	var mu sync.Mutex
	limiters := make(map[string]*keyLimiter)

	// Background cleanup goroutine.
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			mu.Lock()
			for k, l := range limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(limiters, k)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		k := key(c)

		mu.Lock()
		l, ok := limiters[k]
		if !ok {
			l = &keyLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			limiters[k] = l
		}
		l.lastSeen = time.Now()
		mu.Unlock()

		if !l.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
