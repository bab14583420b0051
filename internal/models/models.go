package models

import (
	"time"

	"github.com/blockhaven/server/internal/auth"
	"github.com/blockhaven/server/internal/gamestatus"
	"github.com/blockhaven/server/internal/serverlogs"
)

// EC2Status describes the game host as reported by the control plane
type EC2Status struct {
	State         string     `json:"state"`
	PublicIP      *string    `json:"publicIp"`
	InstanceID    string     `json:"instanceId"`
	LaunchTime    *time.Time `json:"launchTime"`
	UptimeSeconds *int64     `json:"uptimeSeconds"`
}

// ServerStatusResponse is returned by the status endpoint. Minecraft is nil
// unless the host is running with a reachable address.
type ServerStatusResponse struct {
	EC2       EC2Status          `json:"ec2"`
	Minecraft *gamestatus.Status `json:"minecraft"`
	Timestamp time.Time          `json:"timestamp"`
}

// StateChangeResponse is returned by the start and stop endpoints
type StateChangeResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	CurrentState  string `json:"currentState"`
	PreviousState string `json:"previousState"`
}

// LogsResponse is returned by the logs endpoint
type LogsResponse struct {
	Logs      []serverlogs.Entry `json:"logs"`
	Count     int                `json:"count"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// RconRequest is the body of a console command request
type RconRequest struct {
	Command string `json:"command"`
	Args    string `json:"args"`
}

// RconResponse is the result of a console command request
type RconResponse struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CommandInfo describes one allowed console command
type CommandInfo struct {
	Command     string `json:"command"`
	Description string `json:"description"`
	RequiresArg bool   `json:"requiresArg"`
	Example     string `json:"example,omitempty"`
}

// SessionResponse is returned by the session probe
type SessionResponse struct {
	User      *auth.Identity `json:"user"`
	CSRFToken string         `json:"csrfToken,omitempty"`
}
