package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"field-control-backend/internal/model"
)

// UnknownSensorID is used for readings that carry no sensor identifier at all.
const UnknownSensorID = "unknown"

var (
	sensorIDKeys = []string{"id", "sensorId", "sensor_id", "sensor"}
	deviceIDKeys = []string{"deviceId", "device_id", "device"}
	typeKeys     = []string{"type", "measurement", "sensor_type", "sensorType", "kind"}
)

// classifier is checked in order; the first keyword found in the type text wins.
var classifier = []struct {
	keyword string
	typ     model.SensorType
}{
	{"temp", model.SensorTemperature},
	{"humid", model.SensorHumidity},
	{"moist", model.SensorMoisture},
	{"soil", model.SensorMoisture},
	{"batt", model.SensorBattery},
	{"volt", model.SensorBattery},
}

// Classify maps free-form type text onto the closed set of sensor types.
func Classify(text string) model.SensorType {
	text = strings.ToLower(text)
	for _, c := range classifier {
		if strings.Contains(text, c.keyword) {
			return c.typ
		}
	}
	return model.SensorOther
}

// Normalizer turns upstream payloads into TelemetryRecords.
type Normalizer struct {
	defaultDeviceID string
	log             zerolog.Logger
}

// NewNormalizer creates a Normalizer. defaultDeviceID is used for items that do not
// name their device.
func NewNormalizer(defaultDeviceID string, log zerolog.Logger) *Normalizer {
	return &Normalizer{defaultDeviceID: defaultDeviceID, log: log}
}

// Decode accepts a single JSON object or a list of them. Non-object list items are
// skipped. Every record is stamped with the ingestion time at.
func (n *Normalizer) Decode(body []byte, at time.Time) ([]model.TelemetryRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty telemetry payload")
	}

	var raws []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("failed to decode telemetry list: %w", err)
		}
	} else {
		raws = []json.RawMessage{body}
	}

	records := make([]model.TelemetryRecord, 0, len(raws))
	for i, raw := range raws {
		item, err := decodeObject(raw)
		if err != nil {
			if body[0] != '[' {
				return nil, fmt.Errorf("failed to decode telemetry object: %w", err)
			}
			n.log.Warn().Int("index", i).Err(err).Msg("skipping non-object telemetry item")
			continue
		}
		records = append(records, n.Normalize(item, raw, at))
	}
	return records, nil
}

// Normalize builds one record from a decoded item. raw is kept verbatim as meta.
func (n *Normalizer) Normalize(item map[string]any, raw json.RawMessage, at time.Time) model.TelemetryRecord {
	sensorID := firstString(item, sensorIDKeys...)
	if sensorID == "" {
		sensorID = UnknownSensorID
	}

	deviceID := firstString(item, deviceIDKeys...)
	if deviceID == "" {
		deviceID = n.defaultDeviceID
	}
	if deviceID == "" {
		deviceID = sensorID
	}

	var typeText []string
	for _, k := range typeKeys {
		if v, ok := item[k]; ok {
			typeText = append(typeText, stringify(v))
		}
	}

	meta := append(json.RawMessage(nil), raw...)

	value, state := n.readValue(sensorID, item["value"])

	return model.TelemetryRecord{
		Timestamp: at.UTC(),
		SensorID:  sensorID,
		DeviceID:  deviceID,
		Type:      Classify(strings.Join(typeText, " ")),
		Value:     value,
		State:     state,
		Unit:      firstString(item, "unit"),
		Meta:      meta,
	}
}

// readValue returns the numeric reading, or 0 plus the state text for string values
// like "safe". Any other non-numeric value reads as 0 and is logged.
func (n *Normalizer) readValue(sensorID string, v any) (float64, string) {
	if f, ok := toFloat(v); ok {
		return f, ""
	}
	if s, ok := v.(string); ok {
		if state := strings.ToLower(strings.TrimSpace(s)); state != "" {
			return 0, state
		}
	}
	n.log.Warn().
		Str("sensor", sensorID).
		Str("value", stringify(v)).
		Msg("non-numeric telemetry value stored as 0")
	return 0, ""
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var item map[string]any
	if err := dec.Decode(&item); err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item is null")
	}
	return item, nil
}

func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := item[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// toFloat reads numbers, numeric strings and booleans. ok is false for anything else.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
