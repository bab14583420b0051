package api

import (
	"context"
	"net/http"
	"time"

	"github.com/blockhaven/server/internal/logging"
	"github.com/blockhaven/server/internal/middleware"
	"github.com/blockhaven/server/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Router struct {
	config   *config.Config
	services *Services
	csrf     middleware.CSRFConfig
	throttle *middleware.LoginThrottle
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewRouter(s *Services) *gin.Engine {
	cfg := s.Config
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := &Router{
		config:   cfg,
		services: s,
		csrf:     middleware.DefaultCSRFConfig(cfg.IsProduction()),
		log:      s.Log.WithField("component", "api"),
	}
	router.upgrader = router.getUpgrader()

	// A nil *Limiter must not reach the gate as a non-nil interface.
	var checker middleware.RateChecker
	if s.Limiter != nil {
		checker = s.Limiter
		router.throttle = middleware.NewLoginThrottle(s.Limiter, s.Log)
	}
	gate := middleware.NewGate(middleware.DefaultGateConfig(), s.Sessions, checker, s.Log)

	r := gin.New()
	// Only configured proxies may set the client address.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		router.log.WithError(err).Error("invalid trusted proxies, ignoring forwarding headers")
		_ = r.SetTrustedProxies(nil)
	}
	if cfg.BehindCloudflare {
		r.TrustedPlatform = gin.PlatformCloudflare
	}
	r.Use(logging.GinMiddleware(s.Log))
	r.Use(gin.Recovery())
	if s.Metrics != nil {
		r.Use(s.Metrics.GinMiddleware())
	}
	r.Use(securityHeadersMiddleware())
	r.Use(corsMiddleware(cfg))
	r.Use(gate.Middleware())

	// Health check
	r.GET("/health", router.health)

	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		// Sign-in routes, throttled per client address
		authGroup := api.Group("/auth")
		if router.throttle != nil {
			authGroup.Use(router.throttle.Middleware())
		}
		{
			authGroup.GET("/signin", router.signIn)
			authGroup.GET("/callback", router.callback)
			authGroup.POST("/signout", router.signOut)
			authGroup.GET("/session", router.session)
		}

		// Admin routes; the gate has already authenticated and rate-limited them
		admin := api.Group("/admin")
		admin.Use(middleware.CSRFMiddleware(router.csrf))
		{
			admin.GET("/server/status", router.serverStatus)
			admin.POST("/server/start", router.startServer)
			admin.POST("/server/stop", router.stopServer)

			admin.GET("/logs", router.getLogs)
			admin.GET("/logs/stream", router.streamLogs)

			admin.GET("/rcon/commands", router.listCommands)
			admin.POST("/rcon", router.executeCommand)
		}
	}

	// Dashboard bundle, behind the gate
	if cfg.DashboardDir != "" {
		r.Static("/dashboard", cfg.DashboardDir)
	}

	return r
}

const healthCheckTimeout = 2 * time.Second

func (r *Router) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	checks := make(map[string]string, len(r.services.Checks))
	for name, checker := range r.services.Checks {
		if err := checker.Ping(ctx); err != nil {
			r.log.WithError(err).WithField("check", name).Warn("health check failed")
			checks[name] = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(code, gin.H{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

// securityHeadersMiddleware adds security headers to all responses
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

// originAllowed reports whether origin may call the API. Outside production
// every origin is allowed.
func originAllowed(cfg *config.Config, origin string) bool {
	if !cfg.IsProduction() {
		return true
	}
	for _, allowed := range cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// corsMiddleware handles CORS with configurable allowed origins
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" && originAllowed(cfg, origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-CSRF-Token, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
