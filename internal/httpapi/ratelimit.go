package httpapi

import (
	"net/http"
	"sync"
	"time"

	"callsync/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const defaultLimiterIdleTTL = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client IP.
// Buckets untouched for longer than the idle TTL are swept on a later request.
type IPRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	rate      rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		idleTTL:  defaultLimiterIdleTTL,
		now:      time.Now,
	}
}

func (i *IPRateLimiter) allow(ip string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if now.Sub(i.lastSweep) >= i.idleTTL {
		for k, l := range i.limiters {
			if now.Sub(l.lastSeen) >= i.idleTTL {
				delete(i.limiters, k)
			}
		}
		i.lastSweep = now
	}

	l, ok := i.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(i.rate, i.burst)}
		i.limiters[ip] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// Len reports how many client buckets are tracked.
func (i *IPRateLimiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.limiters)
}

// Middleware answers 429 once a client exhausts its bucket.
func (i *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !i.allow(ip) {
			logger.FromGin(c).Warn("rate limit exceeded", "client_ip", ip, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "kind": "rate_limited"})
			return
		}
		c.Next()
	}
}
