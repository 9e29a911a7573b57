package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"field-control-backend/config"
	"field-control-backend/internal/events"
	"field-control-backend/internal/metrics"
	"field-control-backend/internal/model"
	"field-control-backend/internal/store"
	"field-control-backend/internal/telemetry"
)

// ErrMalformedPayload is returned when the source answers with something that is not telemetry.
var ErrMalformedPayload = errors.New("poller: malformed telemetry payload")

// Appender persists normalized records durably.
type Appender interface {
	Append(records []model.TelemetryRecord) error
}

// RetryResult reports how a retried poll went.
type RetryResult struct {
	Attempts int
	Success  bool
	Records  int
	Err      error
}

// Poller periodically pulls telemetry, updates the latest snapshots and appends
// every reading to the telemetry log.
type Poller struct {
	cfg        config.PollerConfig
	source     Fetcher
	normalizer *telemetry.Normalizer
	snapshots  store.SnapshotStore
	appender   Appender
	events     events.Emitter
	log        zerolog.Logger

	inFlight *semaphore.Weighted
	wg       sync.WaitGroup
	now      func() time.Time
}

// New creates a Poller. em may be nil.
func New(cfg config.PollerConfig, source Fetcher, snapshots store.SnapshotStore, appender Appender, em events.Emitter, log zerolog.Logger) *Poller {
	if em == nil {
		em = events.Nop{}
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Poller{
		cfg:        cfg,
		source:     source,
		normalizer: telemetry.NewNormalizer(cfg.Source.DefaultDeviceID, log),
		snapshots:  snapshots,
		appender:   appender,
		events:     em,
		log:        log,
		inFlight:   semaphore.NewWeighted(int64(maxInFlight)),
		now:        time.Now,
	}
}

// Run polls once immediately and then on every tick until ctx is cancelled. It
// returns after in-flight cycles have finished.
func (p *Poller) Run(ctx context.Context) {
	if !p.cfg.Enabled {
		p.log.Info().Msg("poller is disabled, not starting")
		return
	}
	p.log.Info().Dur("interval", p.cfg.Interval).Msg("starting telemetry poller")

	p.tick(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.log.Info().Msg("telemetry poller shutting down")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick starts a cycle unless max_in_flight cycles are already running.
func (p *Poller) tick(ctx context.Context) bool {
	if !p.inFlight.TryAcquire(1) {
		metrics.IncPollSkipped()
		p.log.Debug().Msg("previous poll cycle still running, skipping tick")
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.log.Error().Interface("panic", r).Msg("poll cycle panicked")
			}
		}()
		p.cycle(ctx)
	}()
	return true
}

func (p *Poller) cycle(ctx context.Context) {
	start := p.now()
	res := p.RetryPollWithBackoff(ctx, p.cfg.Retry.MaxAttempts, p.cfg.Retry.BaseDelay)

	result := metrics.ResultSuccess
	if !res.Success {
		result = metrics.ResultError
	}
	metrics.ObservePollCycle(result, p.now().Sub(start))

	if !res.Success {
		p.log.Error().Err(res.Err).Int("attempts", res.Attempts).Msg("poll cycle failed, waiting for next tick")
		return
	}
	p.log.Info().Int("attempts", res.Attempts).Int("records", res.Records).Msg("poll cycle finished")
}

// RetryPollWithBackoff calls PollOnce until it succeeds or maxAttempts is reached,
// waiting min(cap, baseDelay*2^attempt) between attempts.
func (p *Poller) RetryPollWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration) RetryResult {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	b := newBackOff(baseDelay, p.cfg.Retry.CapDelay)

	var res RetryResult
	for attempt := 0; attempt < maxAttempts; attempt++ {
		res.Attempts++
		metrics.IncPollAttempt()

		n, err := p.PollOnce(ctx)
		if err == nil {
			res.Success = true
			res.Records = n
			res.Err = nil
			return res
		}
		res.Err = err

		if attempt == maxAttempts-1 {
			break
		}
		wait := b.NextBackOff()
		p.log.Warn().Err(err).Int("attempt", res.Attempts).Dur("retry_in", wait).Msg("poll attempt failed")
		if err := sleep(ctx, wait); err != nil {
			break
		}
	}
	return res
}

// PollOnce fetches, normalizes and persists one batch. The log append comes last:
// a batch reaches the log only after its snapshots are stored.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	fetchCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	body, err := p.source.Fetch(fetchCtx)
	if err != nil {
		return 0, err
	}

	records, err := p.normalizer.Decode(body, p.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(records) == 0 {
		p.log.Debug().Msg("poll returned no telemetry items")
		return 0, nil
	}

	if err := p.snapshots.UpsertSnapshots(ctx, latestSnapshots(records)); err != nil {
		return 0, err
	}
	if err := p.appender.Append(records); err != nil {
		return 0, fmt.Errorf("failed to append telemetry log: %w", err)
	}

	p.publish(records)
	return len(records), nil
}

func (p *Poller) publish(records []model.TelemetryRecord) {
	perDevice := make(map[string]int)
	var order []string
	perType := make(map[model.SensorType]int)
	for _, r := range records {
		if _, ok := perDevice[r.DeviceID]; !ok {
			order = append(order, r.DeviceID)
		}
		perDevice[r.DeviceID]++
		perType[r.Type]++
	}

	for t, n := range perType {
		metrics.AddTelemetryRecords(string(t), n)
	}

	at := records[0].Timestamp
	for _, deviceID := range order {
		p.events.Emit(events.TelemetryUpdated, events.TelemetryPayload{
			DeviceID:   deviceID,
			Records:    perDevice[deviceID],
			ObservedAt: at,
		})
	}
}

// latestSnapshots keeps the last record per (device, sensor) so one upsert batch
// never touches the same row twice.
func latestSnapshots(records []model.TelemetryRecord) []model.TelemetrySnapshot {
	type key struct{ device, sensor string }
	index := make(map[key]int, len(records))
	snaps := make([]model.TelemetrySnapshot, 0, len(records))
	for _, r := range records {
		k := key{r.DeviceID, r.SensorID}
		if i, ok := index[k]; ok {
			snaps[i] = model.SnapshotFromRecord(r)
			continue
		}
		index[k] = len(snaps)
		snaps = append(snaps, model.SnapshotFromRecord(r))
	}
	return snaps
}
