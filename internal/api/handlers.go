package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/blockhaven/server/internal/audit"
	"github.com/blockhaven/server/internal/instance"
	"github.com/blockhaven/server/internal/middleware"
	"github.com/blockhaven/server/internal/models"
	"github.com/blockhaven/server/internal/serverlogs"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// getUpgrader returns a WebSocket upgrader with proper origin validation
func (r *Router) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(req *http.Request) bool {
			// Same-origin dashboards and native clients send no Origin header
			origin := req.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originAllowed(r.config, origin)
		},
	}
}

// Server lifecycle

func (r *Router) serverStatus(c *gin.Context) {
	ctrl := r.services.Instance
	status, err := ctrl.Describe(c.Request.Context())
	if err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":      "Instance not found",
				"instanceId": ctrl.InstanceID(),
			})
			return
		}
		r.log.WithError(err).Error("failed to describe instance")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to get server status",
			"message": err.Error(),
		})
		return
	}

	resp := models.ServerStatusResponse{
		EC2: models.EC2Status{
			State:         string(status.State),
			InstanceID:    status.InstanceID,
			LaunchTime:    status.LaunchTime,
			UptimeSeconds: status.UptimeSeconds,
		},
		Timestamp: time.Now().UTC(),
	}
	if status.PublicIP != "" {
		ip := status.PublicIP
		resp.EC2.PublicIP = &ip
	}

	if status.State == instance.StateRunning && status.PublicIP != "" && r.services.Game != nil {
		address := r.config.GameServerAddress
		if address == "" {
			address = status.PublicIP
		}
		resp.Minecraft = r.services.Game.Status(c.Request.Context(), address)
	}

	c.JSON(http.StatusOK, resp)
}

func (r *Router) startServer(c *gin.Context) {
	r.changeState(c, audit.ActionServerStart, "Failed to start server", r.services.Instance.Start, instance.StartMessage)
}

func (r *Router) stopServer(c *gin.Context) {
	r.changeState(c, audit.ActionServerStop, "Failed to stop server", r.services.Instance.Stop, instance.StopMessage)
}

func (r *Router) changeState(
	c *gin.Context,
	action, failure string,
	request func(ctx context.Context) (*instance.StateChange, error),
	message func(*instance.StateChange) string,
) {
	instanceID := r.services.Instance.InstanceID()

	change, err := request(c.Request.Context())
	if err != nil {
		r.log.WithError(err).WithField("action", action).Error("instance state change failed")
		r.services.Audit.LogFromContext(c, action, false, map[string]interface{}{
			"error":      err.Error(),
			"instanceId": instanceID,
		})
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   failure,
			"message": err.Error(),
		})
		return
	}

	r.services.Audit.LogFromContext(c, action, true, map[string]interface{}{
		"previousState": string(change.PreviousState),
		"currentState":  string(change.CurrentState),
		"instanceId":    instanceID,
	})

	c.JSON(http.StatusOK, models.StateChangeResponse{
		Success:       true,
		Message:       message(change),
		CurrentState:  string(change.CurrentState),
		PreviousState: string(change.PreviousState),
	})
}

// Logs

const defaultLogCount = 100

func (r *Router) getLogs(c *gin.Context) {
	count := defaultLogCount
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || !serverlogs.ValidCount(n) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid count. Must be one of: 100, 250, 500"})
			return
		}
		count = n
	}

	entries, err := r.services.Logs.Recent(c.Request.Context(), count)
	if err != nil {
		if errors.Is(err, serverlogs.ErrNotConfigured) {
			c.JSON(http.StatusOK, models.LogsResponse{
				Logs:      []serverlogs.Entry{},
				Count:     0,
				Message:   "CloudWatch logs not configured. See setup documentation.",
				Timestamp: time.Now().UTC(),
			})
			return
		}
		r.log.WithError(err).Error("failed to fetch logs")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "Failed to fetch logs",
			"message": err.Error(),
		})
		return
	}

	if entries == nil {
		entries = []serverlogs.Entry{}
	}
	c.JSON(http.StatusOK, models.LogsResponse{
		Logs:      entries,
		Count:     len(entries),
		Timestamp: time.Now().UTC(),
	})
}

func (r *Router) streamLogs(c *gin.Context) {
	if r.services.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Log streaming is not available"})
		return
	}

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	username := ""
	if id := middleware.IdentityFrom(c); id != nil {
		username = id.Username
	}

	ctx := c.Request.Context()
	client, err := r.services.Hub.Register(conn, username)
	if err != nil {
		r.log.WithError(err).Debug("log stream unavailable")
		conn.Close()
		return
	}
	go client.WritePump(ctx)
	client.ReadPump(ctx)
}
