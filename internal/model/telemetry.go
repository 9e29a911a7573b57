package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SensorType is the normalized measurement family of a reading.
type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorHumidity    SensorType = "humidity"
	SensorMoisture    SensorType = "moisture"
	SensorBattery     SensorType = "battery"
	SensorOther       SensorType = "other"
)

// TelemetryRecord is one normalized reading as appended to the telemetry log.
// State holds the lower-cased text of a non-numeric value such as "safe" or "empty";
// Value is 0 for those readings.
type TelemetryRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	SensorID  string          `json:"sensorId"`
	DeviceID  string          `json:"deviceId"`
	Type      SensorType      `json:"type"`
	Value     float64         `json:"value"`
	State     string          `json:"state,omitempty"`
	Unit      string          `json:"unit"`
	Meta      json.RawMessage `json:"meta"`
}

// TelemetrySnapshot is the latest value per (device, sensor) (hot table).
type TelemetrySnapshot struct {
	DeviceID   string         `gorm:"primaryKey;size:128" json:"deviceId"`
	SensorID   string         `gorm:"primaryKey;size:128" json:"sensorId"`
	Type       SensorType     `gorm:"size:32;not null" json:"type"`
	Value      float64        `gorm:"not null" json:"value"`
	State      string         `gorm:"size:64;not null;default:''" json:"state,omitempty"`
	Unit       string         `gorm:"size:32;not null;default:''" json:"unit"`
	Meta       datatypes.JSON `json:"meta"`
	ObservedAt time.Time      `gorm:"not null;index" json:"observedAt"`
}

// SnapshotFromRecord builds the hot-table row for a normalized record.
func SnapshotFromRecord(r TelemetryRecord) TelemetrySnapshot {
	return TelemetrySnapshot{
		DeviceID:   r.DeviceID,
		SensorID:   r.SensorID,
		Type:       r.Type,
		Value:      r.Value,
		State:      r.State,
		Unit:       r.Unit,
		Meta:       datatypes.JSON(r.Meta),
		ObservedAt: r.Timestamp,
	}
}
