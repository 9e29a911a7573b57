package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Poller    PollerConfig    `yaml:"poller"`
	Interlock InterlockConfig `yaml:"interlock"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	CommandListSize int     `yaml:"command_list_size"`
	RequestIPHeader string  `yaml:"request_ip_header"` // e.g. X-Real-IP behind a reverse proxy
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Dialect                string `yaml:"dialect"` // postgres or sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PollerConfig holds the telemetry poller configuration.
type PollerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	IntervalMS     int           `yaml:"interval_ms"`
	Interval       time.Duration `yaml:"-"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	HTTPProxy      string        `yaml:"http_proxy"`
	LogPath        string        `yaml:"log_path"`
	Source         SourceConfig  `yaml:"source"`
	Retry          RetryConfig   `yaml:"retry"`
}

// SourceConfig defines the upstream telemetry request.
type SourceConfig struct {
	URL             string            `yaml:"url"`
	Method          string            `yaml:"method"`
	Token           string            `yaml:"token"`
	Headers         map[string]string `yaml:"headers"`
	Payload         map[string]any    `yaml:"payload"`
	DefaultDeviceID string            `yaml:"default_device_id"`
}

// RetryConfig bounds the in-cycle retry helper.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelayMS int           `yaml:"base_delay_ms"`
	CapDelayMS  int           `yaml:"cap_delay_ms"`
	BaseDelay   time.Duration `yaml:"-"`
	CapDelay    time.Duration `yaml:"-"`
}

// InterlockConfig describes which actuators are gated by the float sensor.
type InterlockConfig struct {
	Actuators     []string  `yaml:"actuators"`
	FloatSensor   string    `yaml:"float_sensor"`
	UnsafeValues  []float64 `yaml:"unsafe_values"`
	UnsafeStates  []string  `yaml:"unsafe_states"`
	SafeStates    []string  `yaml:"safe_states"`
	MaxAgeSeconds int       `yaml:"max_age_seconds"`
}

// EventsConfig holds the configuration for the event fan-out worker pool.
type EventsConfig struct {
	Workers int `yaml:"workers"`
	Buffer  int `yaml:"buffer"`
}

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Load reads the configuration from the given path, applies environment overrides
// and fills in defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("DATABASE_DSN"); ok {
		c.Database.DSN = v
	}
	if v, ok := os.LookupEnv("DATABASE_DIALECT"); ok {
		c.Database.Dialect = v
	}
	if v, ok := os.LookupEnv("TELEMETRY_SOURCE_URL"); ok {
		c.Poller.Source.URL = v
	}
	if v, ok := os.LookupEnv("TELEMETRY_SOURCE_TOKEN"); ok {
		c.Poller.Source.Token = v
	}
	if v, ok := os.LookupEnv("POLL_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Poller.IntervalMS = ms
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimitPerSec <= 0 {
		c.Server.RateLimitPerSec = 10
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 5
	}
	if c.Server.CacheTTLSeconds <= 0 {
		c.Server.CacheTTLSeconds = 2
	}
	if c.Server.CommandListSize <= 0 {
		c.Server.CommandListSize = 50
	}

	c.Database.Dialect = strings.ToLower(strings.TrimSpace(c.Database.Dialect))
	if c.Database.Dialect == "" {
		c.Database.Dialect = "postgres"
	}

	if c.Poller.IntervalMS <= 0 {
		c.Poller.IntervalMS = 30000
	}
	c.Poller.Interval = time.Duration(c.Poller.IntervalMS) * time.Millisecond
	if c.Poller.TimeoutSeconds <= 0 {
		c.Poller.TimeoutSeconds = 10
	}
	c.Poller.Timeout = time.Duration(c.Poller.TimeoutSeconds) * time.Second
	if c.Poller.MaxInFlight <= 0 {
		c.Poller.MaxInFlight = 1
	}
	if c.Poller.LogPath == "" {
		c.Poller.LogPath = "./data/telemetry.jsonl"
	}
	if c.Poller.Source.Method == "" {
		c.Poller.Source.Method = "GET"
	}
	c.Poller.Source.Method = strings.ToUpper(c.Poller.Source.Method)

	if c.Poller.Retry.MaxAttempts <= 0 {
		c.Poller.Retry.MaxAttempts = 3
	}
	if c.Poller.Retry.BaseDelayMS <= 0 {
		c.Poller.Retry.BaseDelayMS = 500
	}
	if c.Poller.Retry.CapDelayMS <= 0 {
		c.Poller.Retry.CapDelayMS = 10000
	}
	c.Poller.Retry.BaseDelay = time.Duration(c.Poller.Retry.BaseDelayMS) * time.Millisecond
	c.Poller.Retry.CapDelay = time.Duration(c.Poller.Retry.CapDelayMS) * time.Millisecond

	if len(c.Interlock.Actuators) == 0 {
		c.Interlock.Actuators = []string{"pump", "solenoid"}
	}
	if c.Interlock.FloatSensor == "" {
		c.Interlock.FloatSensor = "float"
	}
	if len(c.Interlock.UnsafeValues) == 0 {
		c.Interlock.UnsafeValues = []float64{0}
	}
	if len(c.Interlock.UnsafeStates) == 0 {
		c.Interlock.UnsafeStates = []string{"empty", "unsafe", "low", "dry"}
	}
	if len(c.Interlock.SafeStates) == 0 {
		c.Interlock.SafeStates = []string{"safe", "full", "ok", "high"}
	}

	if c.Events.Workers <= 0 {
		c.Events.Workers = 1
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 256
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}
