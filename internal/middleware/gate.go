package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/blockhaven/server/internal/audit"
	"github.com/blockhaven/server/internal/auth"
	"github.com/blockhaven/server/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RouteClass is how the gate treats a request path.
type RouteClass int

const (
	RoutePublic RouteClass = iota
	RouteProtectedPage
	RouteProtectedAPI
)

func (r RouteClass) String() string {
	switch r {
	case RouteProtectedPage:
		return "protected-page"
	case RouteProtectedAPI:
		return "protected-api"
	default:
		return "public"
	}
}

const identityKey = "identity"

// SessionResolver maps a request to the signed-in operator, or nil.
type SessionResolver interface {
	Resolve(r *http.Request) (*auth.Identity, error)
}

// RateChecker admits or rejects one request.
type RateChecker interface {
	Check(ctx context.Context, identity, endpoint string) (ratelimit.Result, error)
}

// GateConfig lists the protected path prefixes.
type GateConfig struct {
	PagePrefixes []string
	APIPrefixes  []string
	LoginPath    string
}

// DefaultGateConfig protects the dashboard pages and the admin API.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		PagePrefixes: []string{"/dashboard"},
		APIPrefixes:  []string{"/api/admin"},
		LoginPath:    "/login",
	}
}

// Gate authenticates and rate-limits every protected request before it
// reaches a handler.
type Gate struct {
	cfg      GateConfig
	sessions SessionResolver
	limiter  RateChecker
	now      func() time.Time
	log      logrus.FieldLogger
}

// NewGate creates a Gate. A nil limiter means no counter store is configured
// and API requests pass without rate limiting.
func NewGate(cfg GateConfig, sessions SessionResolver, limiter RateChecker, log logrus.FieldLogger) *Gate {
	return &Gate{
		cfg:      cfg,
		sessions: sessions,
		limiter:  limiter,
		now:      time.Now,
		log:      log.WithField("component", "gate"),
	}
}

// Classify returns the class of path. API prefixes are checked first.
func (g *Gate) Classify(path string) RouteClass {
	if matchesAny(path, g.cfg.APIPrefixes) {
		return RouteProtectedAPI
	}
	if matchesAny(path, g.cfg.PagePrefixes) {
		return RouteProtectedPage
	}
	return RoutePublic
}

// matchesAny reports whether path equals a prefix or continues it with "/".
func matchesAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// Middleware returns the gin handler enforcing the gate.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		class := g.Classify(path)
		if class == RoutePublic {
			c.Next()
			return
		}

		identity, err := g.sessions.Resolve(c.Request)
		if err != nil {
			g.log.WithError(err).WithField("path", path).Debug("session rejected")
			identity = nil
		}

		if identity == nil {
			if class == RouteProtectedAPI {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "Unauthorized",
					"message": "Authentication required to access this endpoint",
				})
				return
			}
			c.Redirect(http.StatusFound, g.cfg.LoginPath)
			c.Abort()
			return
		}

		c.Set(identityKey, identity)
		c.Set(audit.ContextUserID, identity.UserID)
		c.Set(audit.ContextUsername, identity.Username)

		if class == RouteProtectedPage || g.limiter == nil {
			c.Next()
			return
		}

		result, err := g.limiter.Check(c.Request.Context(), identity.RateLimitKey(), path)
		if err != nil {
			// Counter store unavailable: let the request through.
			g.log.WithError(err).WithField("path", path).Warn("rate limit check failed, allowing request")
			c.Next()
			return
		}

		if !writeRateLimit(c, result, g.now()) {
			return
		}
		c.Next()
	}
}

// writeRateLimit sets the rate-limit headers and, on rejection, writes the
// 429 response. It reports whether the request may continue.
func writeRateLimit(c *gin.Context, result ratelimit.Result, now time.Time) bool {
	for k, v := range ratelimit.Headers(result, now) {
		c.Header(k, v)
	}
	if result.Allowed {
		return true
	}

	retryAfter := ratelimit.RetryAfter(result, now)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":      "Too Many Requests",
		"message":    ratelimit.RejectionMessage(retryAfter),
		"retryAfter": retryAfter,
	})
	return false
}

// IdentityFrom returns the operator the gate attached to c, or nil.
func IdentityFrom(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	id, _ := v.(*auth.Identity)
	return id
}
