package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/questlog/questlog/pkg/errors"
	"github.com/questlog/questlog/pkg/response"
)

// RateLimit returns a fixed-window limiter keyed by (clientIP, path) backed
// by a process-local store. Suitable for single-instance deployments and
// tests.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return RateLimitWithStore(NewMemoryRateStore(), maxRequests, window, "rl")
}

// RateLimitWithStore returns a fixed-window limiter that shares counters
// through the provided store, so multiple instances enforce one budget when
// the store is Redis or database backed. A nil store falls back to a
// process-local one.
func RateLimitWithStore(store RateStore, maxRequests int, window time.Duration, keyPrefix string) gin.HandlerFunc {
	if store == nil {
		store = NewMemoryRateStore()
	}
	if keyPrefix == "" {
		keyPrefix = "rl"
	}

	return func(c *gin.Context) {
		if maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := keyPrefix + ":" + c.ClientIP() + "|" + c.FullPath()
		count, resetIn, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// A broken counter backend should not take the API down.
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(resetIn.Seconds())))

		if count > maxRequests {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
