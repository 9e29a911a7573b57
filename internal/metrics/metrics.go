package metrics

import (
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "fieldctl_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	commandsIssued     prometheus.Counter
	commandTransitions *prometheus.CounterVec
	interlockBlocks    prometheus.Counter

	pollCycles       *prometheus.CounterVec
	pollCycleLatency *prometheus.HistogramVec
	pollAttempts     prometheus.Counter
	pollSkipped      prometheus.Counter
	telemetryRecords *prometheus.CounterVec

	eventsEmitted *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec
)

// Init registers the service metrics. db may be nil; when set, pool gauges are exported.
func Init(db *sql.DB) {
	registerOnce.Do(func() {
		commandsIssued = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_issued_total",
				Help: "Total commands accepted into the queue",
			},
		)
		commandTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_transitions_total",
				Help: "Total applied command status transitions by new status",
			},
			[]string{"status"},
		)
		interlockBlocks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "interlock_blocks_total",
				Help: "Total commands vetoed by the safety interlock",
			},
		)

		pollCycles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_cycles_total",
				Help: "Total telemetry poll cycles by result",
			},
			[]string{"result"},
		)
		pollCycleLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "poll_cycle_latency_seconds",
				Help:    "Telemetry poll cycle duration including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		pollAttempts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_attempts_total",
				Help: "Total telemetry fetch attempts",
			},
		)
		pollSkipped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "poll_ticks_skipped_total",
				Help: "Total poll ticks skipped because a cycle was still running",
			},
		)
		telemetryRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "telemetry_records_total",
				Help: "Total normalized telemetry records by type",
			},
			[]string{"type"},
		)

		eventsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_emitted_total",
				Help: "Total status events delivered by name",
			},
			[]string{"event"},
		)
		eventsDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_dropped_total",
				Help: "Total status events dropped because the buffer was full",
			},
			[]string{"event"},
		)

		prometheus.MustRegister(
			commandsIssued,
			commandTransitions,
			interlockBlocks,
			pollCycles,
			pollCycleLatency,
			pollAttempts,
			pollSkipped,
			telemetryRecords,
			eventsEmitted,
			eventsDropped,
		)

		if db != nil {
			registerDBMetrics(db)
		}
	})
}

func registerDBMetrics(db *sql.DB) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_open_connections",
				Help: "Open database connections",
			},
			func() float64 { return float64(db.Stats().OpenConnections) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_in_use_connections",
				Help: "Database connections currently in use",
			},
			func() float64 { return float64(db.Stats().InUse) },
		),
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncCommandIssued() {
	if commandsIssued != nil {
		commandsIssued.Inc()
	}
}

// IncCommandTransition counts an applied transition into status.
func IncCommandTransition(status string) {
	if status == "" {
		status = "unknown"
	}
	if commandTransitions != nil {
		commandTransitions.WithLabelValues(status).Inc()
	}
}

func IncInterlockBlock() {
	if interlockBlocks != nil {
		interlockBlocks.Inc()
	}
}

// ObservePollCycle records one scheduled cycle and its total duration.
func ObservePollCycle(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if pollCycles != nil {
		pollCycles.WithLabelValues(result).Inc()
	}
	if pollCycleLatency != nil {
		pollCycleLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

func IncPollAttempt() {
	if pollAttempts != nil {
		pollAttempts.Inc()
	}
}

func IncPollSkipped() {
	if pollSkipped != nil {
		pollSkipped.Inc()
	}
}

// AddTelemetryRecords counts normalized records of one type.
func AddTelemetryRecords(sensorType string, count int) {
	if count <= 0 {
		return
	}
	if telemetryRecords != nil {
		telemetryRecords.WithLabelValues(sensorType).Add(float64(count))
	}
}

func IncEventEmitted(name string) {
	if eventsEmitted != nil {
		eventsEmitted.WithLabelValues(name).Inc()
	}
}

func IncEventDropped(name string) {
	if eventsDropped != nil {
		eventsDropped.WithLabelValues(name).Inc()
	}
}
