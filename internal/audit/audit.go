// Package audit records security-relevant operator actions.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Action constants for audit logging
const (
	// Authentication actions
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
	ActionLogout      = "logout"

	// Server actions
	ActionServerStart = "server_start"
	ActionServerStop  = "server_stop"
	ActionRconCommand = "rcon_command"
)

// Retention is how long records are kept before the purge job removes them.
const Retention = 90 * 24 * time.Hour

// MaxOutputLength bounds command output copied into record details.
const MaxOutputLength = 200

// Context keys read by LogFromContext. The request gate sets them.
const (
	ContextUserID   = "userId"
	ContextUsername = "username"
)

// Entry represents an audit log entry
type Entry struct {
	ID        uuid.UUID              `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"userId"`
	Username  string                 `json:"githubUsername,omitempty"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Details   map[string]interface{} `json:"details,omitempty"`
	IPAddress string                 `json:"ip,omitempty"`
	UserAgent string                 `json:"userAgent,omitempty"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, entry Entry, expiresAt time.Time) error
}

// Observer is told about every write attempt. It may be nil.
type Observer interface {
	ObserveAuditWrite(action string, err error)
}

// Logger provides audit logging functionality
type Logger struct {
	store    Store
	log      logrus.FieldLogger
	now      func() time.Time
	observer Observer
	pending  sync.WaitGroup
}

// NewLogger creates a new audit logger. A nil store keeps records in the
// process log only.
func NewLogger(store Store, log logrus.FieldLogger) *Logger {
	return &Logger{
		store: store,
		log:   log.WithField("component", "audit"),
		now:   time.Now,
	}
}

// SetObserver attaches a write observer.
func (l *Logger) SetObserver(o Observer) {
	l.observer = o
}

// Log writes entry to the process log and then to the store. Missing ids
// and timestamps are filled in.
func (l *Logger) Log(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}

	l.console(entry)

	if l.store == nil {
		return nil
	}
	err := l.store.Insert(ctx, entry, entry.Timestamp.Add(Retention))
	if l.observer != nil {
		l.observer.ObserveAuditWrite(entry.Action, err)
	}
	if err != nil {
		l.log.WithError(err).WithField("action", entry.Action).Error("failed to write audit record")
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

func (l *Logger) console(entry Entry) {
	who := entry.Username
	if who == "" {
		who = entry.UserID
	}
	fields := logrus.Fields{
		"audit_id": entry.ID.String(),
		"action":   entry.Action,
		"user_id":  entry.UserID,
		"success":  entry.Success,
		"ip":       entry.IPAddress,
	}
	if len(entry.Details) > 0 {
		fields["details"] = entry.Details
	}

	msg := fmt.Sprintf("[AUDIT] %s by %s at %s", entry.Action, who, entry.Timestamp.Format(time.RFC3339))
	if entry.Success {
		l.log.WithFields(fields).Info(msg)
	} else {
		l.log.WithFields(fields).Warn(msg + " (FAILED)")
	}
}

// LogFromContext records action for the caller identified on c. The write
// runs in the background and never fails the request.
func (l *Logger) LogFromContext(c *gin.Context, action string, success bool, details map[string]interface{}) {
	l.LogAs(c, c.GetString(ContextUserID), c.GetString(ContextUsername), action, success, details)
}

// LogAs is LogFromContext with an explicit actor, used before a session exists.
func (l *Logger) LogAs(c *gin.Context, userID, username, action string, success bool, details map[string]interface{}) {
	// Capture all gin context values before the goroutine
	entry := Entry{
		ID:        uuid.New(),
		Timestamp: l.now().UTC(),
		UserID:    userID,
		Username:  username,
		Action:    action,
		Success:   success,
		Details:   details,
		IPAddress: ClientIP(c.Request, c.ClientIP()),
		UserAgent: c.GetHeader("User-Agent"),
	}
	if entry.UserID == "" {
		entry.UserID = "unknown"
	}

	l.pending.Add(1)
	go func(entry Entry) {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		// Errors are already logged by Log.
		_ = l.Log(ctx, entry)
	}(entry)
}

// Wait blocks until background writes started so far have finished.
func (l *Logger) Wait() {
	l.pending.Wait()
}

// ClientIP returns the originating address: CF-Connecting-IP, then the first
// X-Forwarded-For hop, then fallback.
func ClientIP(r *http.Request, fallback string) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return fallback
}

// TruncateOutput shortens command output for storage in record details.
func TruncateOutput(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxOutputLength {
		return s
	}
	return string(runes[:MaxOutputLength])
}
