package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/blockhaven/server/internal/audit"
	"github.com/blockhaven/server/internal/rcon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memoryAuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memoryAuditStore) Insert(_ context.Context, entry audit.Entry, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func TestExecuteCommand_EndToEnd(t *testing.T) {
	s := newTestServices()
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, "list", "").Return("There are 3 players", nil).Once()
	s.Executor = exec
	store := &memoryAuditStore{}
	logger := audit.NewLogger(store, quietLogger())
	s.Audit = logger

	w := doRequest(NewRouter(s), http.MethodPost, "/api/admin/rcon", `{"command":"list"}`)
	logger.Wait()

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"output":"There are 3 players"}`, w.Body.String())
	exec.AssertExpectations(t)

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, audit.ActionRconCommand, entry.Action)
	assert.True(t, entry.Success)
	assert.Equal(t, "alice", entry.Username)
	assert.Equal(t, "There are 3 players", entry.Details["output"])
}

func TestExecuteCommand_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing command",
			body:    `{"args":"Steve"}`,
			wantErr: "Command is required",
		},
		{
			name:    "not whitelisted",
			body:    `{"command":"op","args":"Steve"}`,
			wantErr: "Command not allowed. Allowed commands: whitelist add, whitelist remove, whitelist list, list, save-all, say",
		},
		{
			name:    "shell injection in argument",
			body:    `{"command":"whitelist add","args":"Steve; rm -rf /"}`,
			wantErr: "Invalid argument format. Example: PlayerName",
		},
		{
			name:    "missing required argument",
			body:    `{"command":"say"}`,
			wantErr: "This command requires an argument. Example: Hello everyone!",
		},
		{
			name:    "malformed body",
			body:    `{"command":`,
			wantErr: "Invalid request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServices()
			exec := &mockExecutor{}
			s.Executor = exec
			rec := &recordingAudit{}
			s.Audit = rec

			w := doRequest(NewRouter(s), http.MethodPost, "/api/admin/rcon", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantErr, body["error"])
			exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, rec.calls)
		})
	}
}

func TestExecuteCommand_Failures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr string
	}{
		{
			name:    "local timeout",
			err:     rcon.ErrLocalTimeout,
			wantErr: "Command timed out waiting for result",
		},
		{
			name:    "remote failure",
			err:     &rcon.ExecutionError{InvocationID: "cmd-1", Status: rcon.StatusFailed, Message: "Command execution failed"},
			wantErr: "Command execution failed",
		},
		{
			name:    "remote timeout",
			err:     &rcon.ExecutionError{InvocationID: "cmd-1", Status: rcon.StatusTimedOut, Message: "Command TimedOut: TimedOut"},
			wantErr: "Command TimedOut: TimedOut",
		},
		{
			name:    "submit error",
			err:     errors.New("submit command: AccessDenied"),
			wantErr: "submit command: AccessDenied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServices()
			exec := &mockExecutor{}
			exec.On("Execute", mock.Anything, "save-all", "").Return("", tt.err)
			s.Executor = exec
			rec := &recordingAudit{}
			s.Audit = rec

			w := doRequest(NewRouter(s), http.MethodPost, "/api/admin/rcon", `{"command":"save-all"}`)

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantErr, body["error"])

			require.Len(t, rec.calls, 1)
			assert.Equal(t, audit.ActionRconCommand, rec.calls[0].Action)
			assert.False(t, rec.calls[0].Success)
			assert.Equal(t, tt.wantErr, rec.calls[0].Details["error"])
		})
	}
}

func TestExecuteCommand_TruncatesAuditedOutput(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'a'
	}
	s := newTestServices()
	exec := &mockExecutor{}
	exec.On("Execute", mock.Anything, "whitelist list", "").Return(string(long), nil)
	s.Executor = exec
	rec := &recordingAudit{}
	s.Audit = rec

	w := doRequest(NewRouter(s), http.MethodPost, "/api/admin/rcon", `{"command":"whitelist list"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["output"], 500)
	require.Len(t, rec.calls, 1)
	assert.Len(t, rec.calls[0].Details["output"], audit.MaxOutputLength)
}

func TestListCommands(t *testing.T) {
	w := doRequest(NewRouter(newTestServices()), http.MethodGet, "/api/admin/rcon/commands", "")

	require.Equal(t, http.StatusOK, w.Code)
	commands := decode(t, w)["commands"].([]interface{})
	require.Len(t, commands, len(rcon.AllowedCommands()))
	first := commands[0].(map[string]interface{})
	assert.Equal(t, "whitelist add", first["command"])
	assert.Equal(t, true, first["requiresArg"])
	assert.Equal(t, "PlayerName", first["example"])
}
