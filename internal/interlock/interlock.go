package interlock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"field-control-backend/config"
	"field-control-backend/internal/model"
)

// SnapshotReader is the part of the store the interlock needs.
type SnapshotReader interface {
	LatestSnapshots(ctx context.Context, deviceID string) ([]model.TelemetrySnapshot, error)
}

// Decision is the outcome of a safety check. Reason is set when Allowed is false.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Interlock vetoes switching on pumps and valves while the float sensor reports an
// empty reservoir.
type Interlock struct {
	snapshots    SnapshotReader
	actuators    []string
	floatKeyword string
	unsafe       []float64
	unsafeStates []string
	safeStates   []string
	maxAge       time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// New builds an Interlock from configuration.
func New(cfg config.InterlockConfig, snapshots SnapshotReader, log zerolog.Logger) *Interlock {
	actuators := make([]string, 0, len(cfg.Actuators))
	for _, a := range cfg.Actuators {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			actuators = append(actuators, a)
		}
	}
	return &Interlock{
		snapshots:    snapshots,
		actuators:    actuators,
		floatKeyword: strings.ToLower(cfg.FloatSensor),
		unsafe:       cfg.UnsafeValues,
		unsafeStates: lowerAll(cfg.UnsafeStates),
		safeStates:   lowerAll(cfg.SafeStates),
		maxAge:       time.Duration(cfg.MaxAgeSeconds) * time.Second,
		now:          time.Now,
		log:          log,
	}
}

// Sensitive reports whether actuator is gated by the float sensor.
func (i *Interlock) Sensitive(actuator string) bool {
	actuator = strings.ToLower(strings.TrimSpace(actuator))
	for _, prefix := range i.actuators {
		if strings.HasPrefix(actuator, prefix) {
			return true
		}
	}
	return false
}

// Check decides whether the command may be queued. Any doubt denies.
func (i *Interlock) Check(ctx context.Context, deviceID, actuator string, action model.CommandAction) Decision {
	if !i.Sensitive(actuator) || action != model.ActionOn {
		return allow()
	}

	snaps, err := i.snapshots.LatestSnapshots(ctx, deviceID)
	if err != nil {
		i.log.Error().Err(err).Str("device", deviceID).Msg("interlock could not read telemetry")
		return deny("float sensor state unavailable for device %s", deviceID)
	}

	float, ok := i.floatSnapshot(snaps)
	if !ok {
		return deny("no float sensor reading for device %s", deviceID)
	}

	if i.maxAge > 0 {
		if age := i.now().Sub(float.ObservedAt); age > i.maxAge {
			return deny("float sensor %s reading is stale (%s old)", float.SensorID, age.Truncate(time.Second))
		}
	}

	if float.State != "" {
		state := strings.ToLower(float.State)
		switch {
		case slices.Contains(i.unsafeStates, state):
			return deny("float sensor %s reports low water (state %q)", float.SensorID, state)
		case slices.Contains(i.safeStates, state):
			return allow()
		default:
			return deny("float sensor %s reports unrecognized state %q", float.SensorID, state)
		}
	}

	for _, v := range i.unsafe {
		if float.Value == v {
			return deny("float sensor %s reports low water (value %g)", float.SensorID, float.Value)
		}
	}
	return allow()
}

// floatSnapshot picks the most recent snapshot whose sensor id names the float sensor.
func (i *Interlock) floatSnapshot(snaps []model.TelemetrySnapshot) (model.TelemetrySnapshot, bool) {
	var (
		best  model.TelemetrySnapshot
		found bool
	)
	for _, s := range snaps {
		if !strings.Contains(strings.ToLower(s.SensorID), i.floatKeyword) {
			continue
		}
		if !found || s.ObservedAt.After(best.ObservedAt) {
			best, found = s, true
		}
	}
	return best, found
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
