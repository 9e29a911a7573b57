package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"field-control-backend/internal/commands"
	"field-control-backend/internal/model"
	"field-control-backend/internal/store"
)

// CommandService is the command lifecycle used by the handlers.
type CommandService interface {
	IssueCommand(ctx context.Context, req commands.IssueRequest) (*model.Command, error)
	ReserveNext(ctx context.Context, deviceID string) (*model.Command, error)
	Acknowledge(ctx context.Context, id uint64, req commands.AckRequest) (*model.Command, error)
	Reclaim(ctx context.Context, id uint64) (*model.Command, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]model.Command, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	commands  CommandService
	snapshots store.SnapshotStore
	db        Pinger
	listSize  int
	log       zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(cmds CommandService, snapshots store.SnapshotStore, db Pinger, listSize int, log zerolog.Logger) *Handler {
	return &Handler{
		commands:  cmds,
		snapshots: snapshots,
		db:        db,
		listSize:  listSize,
		log:       log,
	}
}

// respondError maps service errors onto status codes and error names.
func (h *Handler) respondError(c *gin.Context, err error) {
	var blocked *commands.InterlockError
	switch {
	case errors.As(err, &blocked):
		c.JSON(http.StatusConflict, gin.H{"error": "InterlockBlocked", "reason": blocked.Reason})
	case errors.Is(err, commands.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidInput", "message": err.Error()})
	case errors.Is(err, commands.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "InvalidTransition", "message": err.Error()})
	case errors.Is(err, commands.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "NotFound"})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "StoreUnavailable"})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "InvalidInput", "message": message})
}
