package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blockhaven/server/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LoginLimiter is the limiter surface used for sign-in throttling.
type LoginLimiter interface {
	RateChecker
	Peek(ctx context.Context, identity, endpoint string) (ratelimit.Result, error)
	Reset(ctx context.Context, identity, endpoint string) error
}

// LoginThrottle limits sign-in traffic per client address and locks a client
// out once it has used up its failed sign-in budget. A successful sign-in
// clears both counters.
type LoginThrottle struct {
	limiter LoginLimiter
	now     func() time.Time
	log     logrus.FieldLogger
}

func NewLoginThrottle(limiter LoginLimiter, log logrus.FieldLogger) *LoginThrottle {
	return &LoginThrottle{
		limiter: limiter,
		now:     time.Now,
		log:     log.WithField("component", "login-throttle"),
	}
}

// throttleKey uses the engine's client address, which only honours
// forwarding headers from trusted proxies.
func throttleKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// Middleware counts every request under the sign-in routes.
func (t *LoginThrottle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := throttleKey(c)
		ctx := c.Request.Context()

		lockout, err := t.limiter.Peek(ctx, key, ratelimit.LoginFailureEndpoint)
		if err != nil {
			t.log.WithError(err).Warn("login lockout check failed, allowing request")
		} else if !lockout.Allowed {
			t.rejectLockedOut(c, key, lockout)
			return
		}

		result, err := t.limiter.Check(ctx, key, ratelimit.LoginEndpoint)
		if err != nil {
			t.log.WithError(err).Warn("login throttle check failed, allowing request")
			c.Next()
			return
		}
		if !writeRateLimit(c, result, t.now()) {
			t.log.WithField("client", key).Warn("sign-in attempts throttled")
			return
		}
		c.Next()
	}
}

func (t *LoginThrottle) rejectLockedOut(c *gin.Context, key string, result ratelimit.Result) {
	now := t.now()
	for k, v := range ratelimit.Headers(result, now) {
		c.Header(k, v)
	}
	retryAfter := ratelimit.RetryAfter(result, now)
	t.log.WithFields(logrus.Fields{
		"client":      key,
		"retry_after": retryAfter,
	}).Warn("sign-in rejected: client locked out")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":      "Too Many Requests",
		"message":    fmt.Sprintf("Too many failed sign-in attempts. Try again in %d seconds.", retryAfter),
		"retryAfter": retryAfter,
	})
}

// RecordFailure counts a failed sign-in by c's client.
func (t *LoginThrottle) RecordFailure(c *gin.Context) {
	key := throttleKey(c)
	result, err := t.limiter.Check(c.Request.Context(), key, ratelimit.LoginFailureEndpoint)
	if err != nil {
		t.log.WithError(err).Warn("failed to record failed sign-in")
		return
	}
	if result.Allowed && result.Remaining == 0 {
		t.log.WithFields(logrus.Fields{
			"client": key,
			"until":  result.ResetAt,
		}).Warn("client locked out after repeated failed sign-ins")
	}
}

// RecordSuccess clears the throttle and failure counters of c's client.
func (t *LoginThrottle) RecordSuccess(c *gin.Context) {
	key := throttleKey(c)
	for _, endpoint := range []string{ratelimit.LoginEndpoint, ratelimit.LoginFailureEndpoint} {
		if err := t.limiter.Reset(c.Request.Context(), key, endpoint); err != nil {
			t.log.WithError(err).WithField("endpoint", endpoint).Warn("failed to reset login throttle")
		}
	}
}
