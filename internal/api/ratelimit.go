package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/naivechain/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// unthrottledPaths are polled by health checkers and metric scrapers.
var unthrottledPaths = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientBuckets holds one token bucket per client IP.
type clientBuckets struct {
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	buckets map[string]*clientBucket
}

func (b *clientBuckets) allow(ip string, now time.Time) bool {
	b.mu.Lock()
	bucket, ok := b.buckets[ip]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(b.rps, b.burst)}
		b.buckets[ip] = bucket
	}
	bucket.lastSeen = now
	b.mu.Unlock()
	return bucket.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than limiterIdleTTL.
func (b *clientBuckets) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ip, bucket := range b.buckets {
		if now.Sub(bucket.lastSeen) > limiterIdleTTL {
			delete(b.buckets, ip)
		}
	}
}

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting on the admin routes. rps is the steady-state requests per
// second; burst is the maximum burst size. /healthz and /metrics are never
// throttled. Idle buckets are swept until ctx is cancelled.
func RateLimiter(ctx context.Context, rps, burst int) gin.HandlerFunc {
	b := &clientBuckets{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*clientBucket),
	}

	go func() {
		ticker := time.NewTicker(limiterSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.sweep(now)
			}
		}
	}()

	return func(c *gin.Context) {
		if unthrottledPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		if !b.allow(c.ClientIP(), time.Now()) {
			metrics.RecordRateLimited(c.FullPath())
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
