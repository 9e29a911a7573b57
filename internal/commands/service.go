package commands

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"field-control-backend/internal/events"
	"field-control-backend/internal/interlock"
	"field-control-backend/internal/metrics"
	"field-control-backend/internal/model"
	"field-control-backend/internal/store"
)

// ReclaimMessage is stored on commands forced to done by Reclaim.
const ReclaimMessage = "cleared"

// Ack outcomes reported by devices.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Checker decides whether an actuator command is safe to queue.
type Checker interface {
	Check(ctx context.Context, deviceID, actuator string, action model.CommandAction) interlock.Decision
}

// IssueRequest is a request to queue one actuator command.
type IssueRequest struct {
	DeviceID string
	Actuator string
	Action   string
}

// AckRequest is a device's report on a dispatched command.
type AckRequest struct {
	Outcome string
	Message *string
	Payload json.RawMessage
}

// Service owns the command lifecycle. It keeps no state between calls:
// every status change is a conditional update at the store.
type Service struct {
	store     store.CommandStore
	interlock Checker
	events    events.Emitter
	log       zerolog.Logger
	now       func() time.Time
}

// NewService constructs a command service.
func NewService(st store.CommandStore, il Checker, em events.Emitter, log zerolog.Logger) *Service {
	if em == nil {
		em = events.Nop{}
	}
	return &Service{
		store:     st,
		interlock: il,
		events:    em,
		log:       log,
		now:       time.Now,
	}
}

// IssueCommand validates the request, consults the interlock and queues a pending command.
func (s *Service) IssueCommand(ctx context.Context, req IssueRequest) (*model.Command, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	actuator := strings.TrimSpace(req.Actuator)
	action := model.CommandAction(strings.ToLower(strings.TrimSpace(req.Action)))

	if deviceID == "" {
		return nil, invalidInput("deviceId is required")
	}
	if actuator == "" {
		return nil, invalidInput("actuator is required")
	}
	if !action.Valid() {
		return nil, invalidInput("action must be %q or %q", model.ActionOn, model.ActionOff)
	}

	if s.interlock != nil {
		if d := s.interlock.Check(ctx, deviceID, actuator, action); !d.Allowed {
			metrics.IncInterlockBlock()
			s.log.Warn().
				Str("device", deviceID).
				Str("actuator", actuator).
				Str("reason", d.Reason).
				Msg("command blocked by interlock")
			return nil, &InterlockError{Reason: d.Reason}
		}
	}

	now := s.now().UTC()
	cmd := &model.Command{
		DeviceID:  deviceID,
		Actuator:  actuator,
		Action:    action,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertCommand(ctx, cmd); err != nil {
		return nil, storeError(err)
	}

	metrics.IncCommandIssued()
	s.events.Emit(events.CommandCreated, events.CommandPayloadOf(cmd))
	s.log.Info().Uint64("command_id", cmd.ID).Str("device", deviceID).Str("actuator", actuator).Str("action", string(action)).Msg("command queued")
	return cmd, nil
}

// ReserveNext hands the device its oldest pending command, or nil when there is
// nothing to do. While the device holds a dispatched command it gets nil.
func (s *Service) ReserveNext(ctx context.Context, deviceID string) (*model.Command, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, invalidInput("deviceId is required")
	}

	busy, err := s.store.HasDispatched(ctx, deviceID)
	if err != nil {
		return nil, storeError(err)
	}
	if busy {
		return nil, nil
	}

	// one re-select after a lost race, then give up until the next poll
	for attempt := 0; attempt < 2; attempt++ {
		cand, err := s.store.FindOldestPending(ctx, deviceID)
		if err != nil {
			return nil, storeError(err)
		}
		if cand == nil {
			return nil, nil
		}

		applied, err := s.store.TransitionCommand(ctx, cand.ID, model.StatusPending, store.CommandUpdate{Status: model.StatusDispatched})
		if errors.Is(err, store.ErrConflict) {
			s.log.Debug().Str("device", deviceID).Msg("reservation slot taken concurrently")
			return nil, nil
		}
		if err != nil {
			return nil, storeError(err)
		}
		if !applied {
			continue
		}

		cand.Status = model.StatusDispatched
		cand.UpdatedAt = s.now().UTC()
		s.transitioned(cand)
		return cand, nil
	}
	return nil, nil
}

// Acknowledge records the device's outcome for a dispatched command. Acks for
// commands already done or failed return the stored record unchanged.
func (s *Service) Acknowledge(ctx context.Context, id uint64, req AckRequest) (*model.Command, error) {
	var target model.CommandStatus
	switch strings.ToLower(strings.TrimSpace(req.Outcome)) {
	case OutcomeCompleted:
		target = model.StatusDone
	case OutcomeFailed:
		target = model.StatusFailed
	default:
		return nil, invalidInput("status must be %q or %q", OutcomeCompleted, OutcomeFailed)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, invalidInput("payload must be valid JSON")
	}

	upd := store.CommandUpdate{
		Status:          target,
		ResponseMessage: req.Message,
		AckPayload:      datatypes.JSON(req.Payload),
	}
	return s.finish(ctx, id, upd)
}

// Reclaim forces a dispatched command to done so the device slot frees up.
func (s *Service) Reclaim(ctx context.Context, id uint64) (*model.Command, error) {
	msg := ReclaimMessage
	return s.finish(ctx, id, store.CommandUpdate{Status: model.StatusDone, ResponseMessage: &msg})
}

// finish applies a dispatched -> terminal transition.
func (s *Service) finish(ctx context.Context, id uint64, upd store.CommandUpdate) (*model.Command, error) {
	cur, err := s.store.FindCommand(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if cur.Status.Terminal() {
		return cur, nil
	}
	if cur.Status == model.StatusPending {
		return nil, ErrInvalidTransition
	}

	applied, err := s.store.TransitionCommand(ctx, id, model.StatusDispatched, upd)
	if err != nil {
		return nil, storeError(err)
	}

	after, err := s.store.FindCommand(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if !applied {
		// someone else finished it first
		if after.Status.Terminal() {
			return after, nil
		}
		return nil, ErrInvalidTransition
	}

	s.transitioned(after)
	return after, nil
}

func (s *Service) transitioned(cmd *model.Command) {
	metrics.IncCommandTransition(string(cmd.Status))
	s.events.Emit(events.CommandUpdated, events.CommandPayloadOf(cmd))
	s.log.Info().Uint64("command_id", cmd.ID).Str("device", cmd.DeviceID).Str("status", string(cmd.Status)).Msg("command status changed")
}

// ListByDevice returns the device's commands, newest first.
func (s *Service) ListByDevice(ctx context.Context, deviceID string, limit int) ([]model.Command, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, invalidInput("device_id is required")
	}
	cmds, err := s.store.ListCommandsByDevice(ctx, deviceID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return cmds, nil
}
