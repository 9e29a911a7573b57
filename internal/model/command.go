package model

import (
	"time"

	"gorm.io/datatypes"
)

// CommandStatus is the lifecycle state of a device command.
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusDispatched CommandStatus = "dispatched"
	StatusDone       CommandStatus = "done"
	StatusFailed     CommandStatus = "failed"
)

// Terminal reports whether no further transition can leave this status.
func (s CommandStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CommandAction is the requested actuator state.
type CommandAction string

const (
	ActionOn  CommandAction = "on"
	ActionOff CommandAction = "off"
)

// Valid reports whether a is one of the supported actions.
func (a CommandAction) Valid() bool {
	return a == ActionOn || a == ActionOff
}

// Command is one queued instruction for a device actuator. Rows are never deleted.
type Command struct {
	ID              uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceID        string         `gorm:"size:128;not null;index:idx_commands_device_status,priority:1" json:"deviceId"`
	Actuator        string         `gorm:"size:64;not null" json:"actuator"`
	Action          CommandAction  `gorm:"size:8;not null" json:"action"`
	Status          CommandStatus  `gorm:"size:16;not null;index:idx_commands_device_status,priority:2" json:"status"`
	ResponseMessage *string        `gorm:"size:1024" json:"responseMessage"`
	AckPayload      datatypes.JSON `json:"ackPayload,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"createdAt"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updatedAt"`
}
