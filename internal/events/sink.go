package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, ev Event) error {
	s.log.Info().
		Str("event", ev.Name).
		Str("event_id", ev.ID).
		Time("occurred_at", ev.OccurredAt).
		Interface("payload", ev.Payload).
		Msg("status event")
	return nil
}
