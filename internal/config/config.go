// Package config loads process configuration for the three tiers from an
// optional YAML file followed by SATLINK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/satlink/internal/authority"
	"github.com/signalsfoundry/satlink/internal/events"
	"github.com/signalsfoundry/satlink/internal/ground"
	"github.com/signalsfoundry/satlink/internal/monitor"
	"github.com/signalsfoundry/satlink/internal/satellite"
	"github.com/signalsfoundry/satlink/orbit"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SATLINK_"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full configuration. Each binary reads the sections it needs.
type Config struct {
	Logging   Logging   `yaml:"logging"`
	Events    Events    `yaml:"events"`
	Satellite Satellite `yaml:"satellite"`
	Ground    Ground    `yaml:"ground"`
	Monitor   Monitor   `yaml:"monitor"`
}

// Logging selects the process log format.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Events configures the event forwarder used by the satellite and ground
// tiers.
type Events struct {
	// Sink is "http" or "nats".
	Sink              string        `yaml:"sink"`
	MonitorURL        string        `yaml:"monitor_url"`
	NATSURL           string        `yaml:"nats_url"`
	NATSSubject       string        `yaml:"nats_subject"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	MaxRetries        int           `yaml:"max_retries"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
}

// Satellite configures the satellite tier.
type Satellite struct {
	Addr             string        `yaml:"addr"`
	ReplayPolicy     string        `yaml:"replay_policy"`
	LocalLogCapacity int           `yaml:"local_log_capacity"`
	OrbitRefresh     time.Duration `yaml:"orbit_refresh"`
	// TLEFile replaces the embedded element sets when set.
	TLEFile string `yaml:"tle_file"`
}

// Ground configures the ground tier.
type Ground struct {
	Addr            string            `yaml:"addr"`
	TelemetryURL    string            `yaml:"telemetry_url"`
	CommandURL      string            `yaml:"command_url"`
	PollInterval    time.Duration     `yaml:"poll_interval"`
	ConnectTimeout  time.Duration     `yaml:"connect_timeout"`
	ReadTimeout     time.Duration     `yaml:"read_timeout"`
	JournalCapacity int               `yaml:"journal_capacity"`
	JournalTail     int               `yaml:"journal_tail"`
	OverrideUses    int               `yaml:"override_uses"`
	HistoryCapacity int               `yaml:"history_capacity"`
	Credentials     map[string]string `yaml:"credentials"`
	DemoCredentials bool              `yaml:"demo_credentials"`
}

// Monitor configures the monitoring tier.
type Monitor struct {
	Addr            string        `yaml:"addr"`
	LogCapacity     int           `yaml:"log_capacity"`
	AlertCapacity   int           `yaml:"alert_capacity"`
	RateWindow      time.Duration `yaml:"rate_window"`
	RateLimit       int           `yaml:"rate_limit"`
	SummaryInterval time.Duration `yaml:"summary_interval"`
	// NATSURL enables ingest from NATS in addition to HTTP.
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: Logging{Level: "info", Format: "text"},
		Events: Events{
			Sink:              "http",
			MonitorURL:        "http://localhost:5003/api/logs",
			NATSSubject:       events.DefaultNATSSubject,
			QueueCapacity:     events.DefaultQueueCapacity,
			MaxRetries:        events.DefaultMaxRetries,
			BackoffInitial:    events.DefaultBackoffInitial,
			BackoffMultiplier: events.DefaultBackoffMultiple,
			BackoffMax:        events.DefaultBackoffMax,
			ConnectTimeout:    events.DefaultConnectTimeout,
			ReadTimeout:       events.DefaultReadTimeout,
		},
		Satellite: Satellite{
			Addr:             ":5001",
			ReplayPolicy:     satellite.ReplayExact.String(),
			LocalLogCapacity: satellite.DefaultLocalLogCapacity,
			OrbitRefresh:     orbit.DefaultRefreshInterval,
		},
		Ground: Ground{
			Addr:            ":5002",
			TelemetryURL:    "http://localhost:5001/api/telemetry_ccsds",
			CommandURL:      "http://localhost:5001/api/command",
			PollInterval:    ground.DefaultPollInterval,
			ConnectTimeout:  events.DefaultConnectTimeout,
			ReadTimeout:     events.DefaultReadTimeout,
			JournalCapacity: ground.DefaultJournalCapacity,
			JournalTail:     ground.DefaultJournalTail,
			OverrideUses:    authority.DefaultOverrideUses,
			HistoryCapacity: authority.DefaultHistoryCapacity,
			DemoCredentials: true,
		},
		Monitor: Monitor{
			Addr:            ":5003",
			LogCapacity:     monitor.DefaultLogCapacity,
			AlertCapacity:   monitor.DefaultAlertCapacity,
			RateWindow:      monitor.DefaultRateWindow,
			RateLimit:       monitor.DefaultRateLimit,
			SummaryInterval: monitor.DefaultSummaryInterval,
			NATSSubject:     events.DefaultNATSSubject,
		},
	}
}

// Load reads path (when non-empty), applies environment overrides from the
// process environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type override struct {
	name string
	set  func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func (c *Config) overrides() []override {
	return []override{
		{"LOG_LEVEL", str(&c.Logging.Level)},
		{"LOG_FORMAT", str(&c.Logging.Format)},

		{"EVENTS_SINK", str(&c.Events.Sink)},
		{"MONITOR_URL", str(&c.Events.MonitorURL)},
		{"NATS_URL", str(&c.Events.NATSURL)},
		{"NATS_SUBJECT", str(&c.Events.NATSSubject)},
		{"EVENTS_QUEUE_CAPACITY", integer(&c.Events.QueueCapacity)},
		{"EVENTS_MAX_RETRIES", integer(&c.Events.MaxRetries)},

		{"SATELLITE_ADDR", str(&c.Satellite.Addr)},
		{"REPLAY_POLICY", str(&c.Satellite.ReplayPolicy)},
		{"ORBIT_REFRESH", duration(&c.Satellite.OrbitRefresh)},
		{"TLE_FILE", str(&c.Satellite.TLEFile)},

		{"GROUND_ADDR", str(&c.Ground.Addr)},
		{"SATELLITE_URL", str(&c.Ground.TelemetryURL)},
		{"COMMAND_URL", str(&c.Ground.CommandURL)},
		{"POLL_INTERVAL", duration(&c.Ground.PollInterval)},
		{"OVERRIDE_USES", integer(&c.Ground.OverrideUses)},

		{"MONITOR_ADDR", str(&c.Monitor.Addr)},
		{"MONITOR_NATS_URL", str(&c.Monitor.NATSURL)},
		{"RATE_WINDOW", duration(&c.Monitor.RateWindow)},
		{"RATE_LIMIT", integer(&c.Monitor.RateLimit)},
		{"SUMMARY_INTERVAL", duration(&c.Monitor.SummaryInterval)},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	for _, o := range c.overrides() {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := o.set(strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, o.name, err)
		}
	}
	return nil
}

// Validate reports every invalid setting in one error wrapping ErrInvalid.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	switch c.Events.Sink {
	case "http":
		check(validURL(c.Events.MonitorURL), "events.monitor_url %q is not an http(s) URL", c.Events.MonitorURL)
	case "nats":
		check(c.Events.NATSURL != "", "events.nats_url is required for the nats sink")
		check(c.Events.NATSSubject != "", "events.nats_subject is required for the nats sink")
	default:
		check(false, "events.sink must be http or nats, got %q", c.Events.Sink)
	}
	check(c.Events.QueueCapacity > 0, "events.queue_capacity must be positive")
	check(c.Events.MaxRetries >= 0, "events.max_retries must not be negative")
	check(c.Events.BackoffInitial > 0, "events.backoff_initial must be positive")
	check(c.Events.BackoffMultiplier >= 1, "events.backoff_multiplier must be at least 1")
	check(c.Events.BackoffMax >= c.Events.BackoffInitial, "events.backoff_max must not be below backoff_initial")

	if _, err := satellite.ParseReplayPolicy(c.Satellite.ReplayPolicy); err != nil {
		check(false, "satellite.replay_policy: %v", err)
	}
	check(c.Satellite.LocalLogCapacity > 0, "satellite.local_log_capacity must be positive")
	check(c.Satellite.OrbitRefresh > 0, "satellite.orbit_refresh must be positive")

	check(validURL(c.Ground.TelemetryURL), "ground.telemetry_url %q is not an http(s) URL", c.Ground.TelemetryURL)
	check(validURL(c.Ground.CommandURL), "ground.command_url %q is not an http(s) URL", c.Ground.CommandURL)
	check(c.Ground.PollInterval > 0, "ground.poll_interval must be positive")
	check(c.Ground.JournalCapacity > 0, "ground.journal_capacity must be positive")
	check(c.Ground.JournalTail > 0, "ground.journal_tail must be positive")
	check(c.Ground.OverrideUses > 0, "ground.override_uses must be positive")
	check(c.Ground.HistoryCapacity > 0, "ground.history_capacity must be positive")
	if _, err := authority.ParseCredentials(c.Ground.Credentials); err != nil {
		check(false, "ground.credentials: %v", err)
	}

	check(c.Monitor.LogCapacity > 0, "monitor.log_capacity must be positive")
	check(c.Monitor.AlertCapacity > 0, "monitor.alert_capacity must be positive")
	check(c.Monitor.RateWindow > 0, "monitor.rate_window must be positive")
	check(c.Monitor.RateLimit > 0, "monitor.rate_limit must be positive")
	check(c.Monitor.SummaryInterval > 0, "monitor.summary_interval must be positive")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ReplayPolicy returns the parsed satellite replay policy.
func (c Config) ReplayPolicy() satellite.ReplayPolicy {
	p, _ := satellite.ParseReplayPolicy(c.Satellite.ReplayPolicy)
	return p
}

// Credentials returns the configured credential table, merged over the
// demo set when demo credentials are enabled.
func (c Config) Credentials() (authority.Credentials, error) {
	out := authority.Credentials{}
	if c.Ground.DemoCredentials {
		for k, v := range authority.DemoCredentials() {
			out[k] = v
		}
	}
	parsed, err := authority.ParseCredentials(c.Ground.Credentials)
	if err != nil {
		return nil, err
	}
	for k, v := range parsed {
		out[k] = v
	}
	return out, nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
