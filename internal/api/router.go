package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"field-control-backend/config"
	"field-control-backend/internal/metrics"
	"field-control-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, cfg config.ServerConfig, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(mw.RequestID(), mw.AccessLog(log), mw.Recoverer(log))

	// device polling routes are limited per client IP
	deviceLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst, mw.HeaderIP(cfg.RequestIPHeader))

	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	caching := mw.Cache(cache.New(ttl, 10*ttl), ttl)

	r.POST("/command", h.PostCommand)
	r.GET("/command/status", h.GetCommandStatus)

	device := r.Group("/device-commands")
	device.Use(deviceLimiter)
	{
		device.GET("/next", h.GetNextCommand)
		device.POST("/:id/ack", h.PostAck)
		device.POST("/:id/reclaim", h.PostReclaim)
	}

	r.GET("/telemetry/latest", caching, h.GetLatestTelemetry)
	r.GET("/healthz", h.GetHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
