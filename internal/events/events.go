package events

import (
	"time"

	"field-control-backend/internal/model"
)

// Event names emitted by the service.
const (
	CommandCreated   = "command.created"
	CommandUpdated   = "command.updated"
	TelemetryUpdated = "telemetry.updated"
)

// Event is one status notification handed to the sinks.
type Event struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	Emit(name string, payload any)
}

// CommandPayload describes a command state change.
type CommandPayload struct {
	CommandID uint64              `json:"commandId"`
	DeviceID  string              `json:"deviceId"`
	Actuator  string              `json:"actuator"`
	Action    model.CommandAction `json:"action"`
	Status    model.CommandStatus `json:"status"`
}

// CommandPayloadOf builds the payload for cmd.
func CommandPayloadOf(cmd *model.Command) CommandPayload {
	return CommandPayload{
		CommandID: cmd.ID,
		DeviceID:  cmd.DeviceID,
		Actuator:  cmd.Actuator,
		Action:    cmd.Action,
		Status:    cmd.Status,
	}
}

// TelemetryPayload announces fresh readings for a device.
type TelemetryPayload struct {
	DeviceID   string    `json:"deviceId"`
	Records    int       `json:"records"`
	ObservedAt time.Time `json:"observedAt"`
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(string, any) {}
