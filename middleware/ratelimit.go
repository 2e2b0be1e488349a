package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const staleClientAfter = 3 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	perMin int
	burst  int
	now    func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(perMin, burst int) *RateLimiter {
	if perMin <= 0 {
		perMin = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perMin:   perMin,
		burst:    burst,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Cleanup forgets idle clients every minute until ctx is done.
func (l *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (l *RateLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if l.now().Sub(v.lastSeen) > staleClientAfter {
			delete(l.visitors, ip)
		}
	}
}

func (l *RateLimiter) reserve(ip string) time.Duration {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.burst)}
		l.visitors[ip] = v
	}
	now := l.now()
	v.lastSeen = now
	l.mu.Unlock()

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	return delay
}

// Handler rejects requests over the limit with 429 and a retry hint.
func (l *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		wait := l.reserve(c.ClientIP())
		if wait <= 0 {
			c.Next()
			return
		}
		retryAfter := int(math.Ceil(wait.Seconds()))
		log.WithFields(log.Fields{
			"ip":          c.ClientIP(),
			"path":        c.Request.URL.Path,
			"retry_after": retryAfter,
		}).Warn("Rate limit exceeded")
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Muitas denúncias em pouco tempo, tente novamente mais tarde",
			"retry_after": retryAfter,
		})
	}
}
