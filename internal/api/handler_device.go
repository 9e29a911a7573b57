package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"field-control-backend/internal/commands"
)

type ackRequest struct {
	Status  string          `json:"status"`
	Payload json.RawMessage `json:"payload"`
	Message *string         `json:"message"`
}

func commandID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid command id")
		return 0, false
	}
	return id, true
}

// GetNextCommand hands a polling device its next command, or null.
func (h *Handler) GetNextCommand(c *gin.Context) {
	deviceID := c.Query("deviceId")
	if strings.TrimSpace(deviceID) == "" {
		badRequest(c, "deviceId is required")
		return
	}

	cmd, err := h.commands.ReserveNext(c.Request.Context(), deviceID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"command": cmd})
}

// PostAck records the device's outcome for a dispatched command.
func (h *Handler) PostAck(c *gin.Context) {
	id, ok := commandID(c)
	if !ok {
		return
	}

	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	payload := req.Payload
	if bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		payload = nil
	}

	cmd, err := h.commands.Acknowledge(c.Request.Context(), id, commands.AckRequest{
		Outcome: req.Status,
		Message: req.Message,
		Payload: payload,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"command": cmd})
}

// PostReclaim clears a command stuck in dispatched.
func (h *Handler) PostReclaim(c *gin.Context) {
	id, ok := commandID(c)
	if !ok {
		return
	}

	cmd, err := h.commands.Reclaim(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"command": cmd})
}
