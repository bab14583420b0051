package api

import (
	"errors"
	"net/http"

	"github.com/blockhaven/server/internal/audit"
	"github.com/blockhaven/server/internal/models"
	"github.com/blockhaven/server/internal/rcon"
	"github.com/gin-gonic/gin"
)

func (r *Router) listCommands(c *gin.Context) {
	specs := rcon.AllowedCommands()
	commands := make([]models.CommandInfo, 0, len(specs))
	for _, spec := range specs {
		commands = append(commands, models.CommandInfo{
			Command:     spec.Name,
			Description: spec.Description,
			RequiresArg: spec.RequiresArg(),
			Example:     spec.Example,
		})
	}
	c.JSON(http.StatusOK, gin.H{"commands": commands})
}

func (r *Router) executeCommand(c *gin.Context) {
	var req models.RconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.RconResponse{Success: false, Error: "Invalid request"})
		return
	}
	if req.Command == "" {
		c.JSON(http.StatusBadRequest, models.RconResponse{Success: false, Error: "Command is required"})
		return
	}

	if err := rcon.Validate(req.Command, req.Args); err != nil {
		c.JSON(http.StatusBadRequest, models.RconResponse{Success: false, Error: rcon.Message(err)})
		return
	}

	output, err := r.services.Executor.Execute(c.Request.Context(), req.Command, req.Args)
	if err != nil {
		message := rcon.Message(err)
		r.services.Audit.LogFromContext(c, audit.ActionRconCommand, false, map[string]interface{}{
			"command": req.Command,
			"args":    req.Args,
			"error":   message,
		})

		// The executor validates again; a rejection there is still the caller's fault.
		var verr *rcon.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, models.RconResponse{Success: false, Error: message})
			return
		}
		r.log.WithError(err).WithField("command", req.Command).Error("console command failed")
		c.JSON(http.StatusInternalServerError, models.RconResponse{Success: false, Error: message})
		return
	}

	r.services.Audit.LogFromContext(c, audit.ActionRconCommand, true, map[string]interface{}{
		"command": req.Command,
		"args":    req.Args,
		"output":  audit.TruncateOutput(output),
	})

	c.JSON(http.StatusOK, models.RconResponse{Success: true, Output: output})
}
