package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"field-control-backend/internal/commands"
	"field-control-backend/internal/model"
)

type issueCommandRequest struct {
	DeviceID string `json:"deviceId"`
	Actuator string `json:"actuator"`
	Action   string `json:"action"`
}

// PostCommand queues an actuator command.
func (h *Handler) PostCommand(c *gin.Context) {
	var req issueCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	cmd, err := h.commands.IssueCommand(c.Request.Context(), commands.IssueRequest{
		DeviceID: req.DeviceID,
		Actuator: req.Actuator,
		Action:   req.Action,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"commandId": cmd.ID, "status": cmd.Status})
}

// GetCommandStatus lists a device's commands, newest first.
func (h *Handler) GetCommandStatus(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		deviceID = c.Query("deviceId")
	}
	if strings.TrimSpace(deviceID) == "" {
		badRequest(c, "device_id is required")
		return
	}

	cmds, err := h.commands.ListByDevice(c.Request.Context(), deviceID, h.listSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if cmds == nil {
		cmds = []model.Command{}
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}
