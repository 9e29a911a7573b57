package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"field-control-backend/internal/metrics"
)

// Sink receives events from the dispatcher workers.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to sinks from a pool of workers over a bounded buffer.
type Dispatcher struct {
	size  int
	jobs  chan Event
	sinks []Sink
	log   zerolog.Logger
	wg    sync.WaitGroup
	now   func() time.Time
}

// NewDispatcher creates a dispatcher with size workers and a buffer of buffer events.
func NewDispatcher(size, buffer int, log zerolog.Logger, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if buffer <= 0 {
		buffer = size
	}
	return &Dispatcher{
		size:  size,
		jobs:  make(chan Event, buffer),
		sinks: sinks,
		log:   log,
		now:   time.Now,
	}
}

// Start launches the worker goroutines. They drain the buffer and exit once ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.size; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	d.log.Debug().Int("worker", id).Msg("event worker started")
	for {
		select {
		case ev := <-d.jobs:
			d.deliver(ctx, ev)
		case <-ctx.Done():
			d.drain()
			d.log.Debug().Int("worker", id).Msg("event worker shutting down")
			return
		}
	}
}

func (d *Dispatcher) drain() {
	// sinks still get the buffered events, detached from the cancelled context
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		select {
		case ev := <-d.jobs:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			d.log.Warn().Err(err).Str("event", ev.Name).Str("event_id", ev.ID).Msg("event sink failed")
		}
	}
	metrics.IncEventEmitted(ev.Name)
}

// Emit queues an event. It never blocks: when the buffer is full the event is dropped.
func (d *Dispatcher) Emit(name string, payload any) {
	ev := Event{
		ID:         uuid.NewString(),
		Name:       name,
		OccurredAt: d.now().UTC(),
		Payload:    payload,
	}
	select {
	case d.jobs <- ev:
	default:
		metrics.IncEventDropped(name)
		d.log.Warn().Str("event", name).Msg("event buffer full, dropping event")
	}
}

// Pending returns the number of buffered events.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}
