package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"field-control-backend/internal/model"
)

// GetLatestTelemetry returns the latest snapshot per sensor of a device.
func (h *Handler) GetLatestTelemetry(c *gin.Context) {
	deviceID := strings.TrimSpace(c.Query("deviceId"))
	if deviceID == "" {
		badRequest(c, "deviceId is required")
		return
	}

	snaps, err := h.snapshots.LatestSnapshots(c.Request.Context(), deviceID)
	if err != nil {
		h.log.Error().Err(err).Str("device", deviceID).Msg("failed to load snapshots")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "StoreUnavailable"})
		return
	}
	if snaps == nil {
		snaps = []model.TelemetrySnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps})
}
