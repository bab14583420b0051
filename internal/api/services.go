package api

import (
	"context"
	"net/http"

	"github.com/blockhaven/server/internal/audit"
	"github.com/blockhaven/server/internal/auth"
	"github.com/blockhaven/server/internal/gamestatus"
	"github.com/blockhaven/server/internal/instance"
	"github.com/blockhaven/server/internal/metrics"
	"github.com/blockhaven/server/internal/ratelimit"
	"github.com/blockhaven/server/internal/serverlogs"
	"github.com/blockhaven/server/internal/websocket"
	"github.com/blockhaven/server/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// InstanceController controls the game host
type InstanceController interface {
	InstanceID() string
	Describe(ctx context.Context) (*instance.Status, error)
	Start(ctx context.Context) (*instance.StateChange, error)
	Stop(ctx context.Context) (*instance.StateChange, error)
}

// GameStatusProber asks the game server about itself. It never fails.
type GameStatusProber interface {
	Status(ctx context.Context, address string) *gamestatus.Status
}

// LogSource returns the newest game-server log lines, oldest first
type LogSource interface {
	Recent(ctx context.Context, limit int) ([]serverlogs.Entry, error)
}

// CommandExecutor runs a whitelisted console command on the game host
type CommandExecutor interface {
	Execute(ctx context.Context, command, args string) (string, error)
}

// AuditLogger records sensitive actions without blocking the request
type AuditLogger interface {
	LogFromContext(c *gin.Context, action string, success bool, details map[string]interface{})
	LogAs(c *gin.Context, userID, username, action string, success bool, details map[string]interface{})
}

// SessionStore issues, clears and resolves operator sessions
type SessionStore interface {
	Enabled() bool
	Issue(w http.ResponseWriter, id *auth.Identity) error
	Clear(w http.ResponseWriter)
	Resolve(r *http.Request) (*auth.Identity, error)
}

// IdentityProvider runs the OAuth sign-in flow
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.Identity, error)
}

// HealthChecker is a backing service probed by the health endpoint
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services contains all service dependencies for the API
type Services struct {
	Config   *config.Config
	Instance InstanceController
	Game     GameStatusProber
	Logs     LogSource
	Executor CommandExecutor
	Audit    AuditLogger
	Sessions SessionStore
	OAuth    IdentityProvider
	Admins   *auth.Allowlist
	// Limiter is nil when no counter store is configured.
	Limiter *ratelimit.Limiter
	Hub     *websocket.Hub
	Metrics *metrics.Collector
	Checks  map[string]HealthChecker
	Log     logrus.FieldLogger
}

var _ AuditLogger = (*audit.Logger)(nil)
