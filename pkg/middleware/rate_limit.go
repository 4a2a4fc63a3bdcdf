package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// APIRateLimit bounds how often one caller may hit a route of the publishing API.
type APIRateLimit struct {
	Limit  int
	Window time.Duration
	// Exempt roles are never counted. Worker tokens drive the sweeps on their own cadence.
	Exempt []string
	Now    func() time.Time
}

// RateLimitMiddleware counts requests in fixed windows kept in Redis. Callers
// are told their remaining budget through X-RateLimit-* headers.
func RateLimitMiddleware(redisClient redis.UniversalClient, cfg APIRateLimit) gin.HandlerFunc {
	exempt := make(map[string]struct{}, len(cfg.Exempt))
	for _, r := range cfg.Exempt {
		exempt[r] = struct{}{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	return func(c *gin.Context) {
		role := c.GetString("role")
		if _, ok := exempt[role]; ok && role != "" {
			c.Next()
			return
		}

		start := now().Truncate(window)
		reset := start.Add(window)
		key := fmt.Sprintf("api_rate:%s:%s:%d", c.FullPath(), caller(c), start.Unix())

		ctx := c.Request.Context()
		pipe := redisClient.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, window)
		if _, err := pipe.Exec(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			c.Abort()
			return
		}
		count := incr.Val()

		remaining := int64(cfg.Limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(cfg.Limit) {
			wait := int(reset.Sub(now()).Seconds())
			if wait < 1 {
				wait = 1
			}
			c.Header("Retry-After", strconv.Itoa(wait))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			c.Abort()
			return
		}

		c.Next()
	}
}

// caller names the budget a request is charged to.
func caller(c *gin.Context) string {
	if id := c.GetString("user_id"); id != "" {
		return c.GetString("role") + "/" + id
	}
	return "ip/" + c.ClientIP()
}
