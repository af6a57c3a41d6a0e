// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/permitstream/harvester/internal/permit"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig                   `mapstructure:"server"`
	Logging   LoggingConfig                  `mapstructure:"logging"`
	Fetch     FetchConfig                    `mapstructure:"fetch"`
	Headless  HeadlessConfig                 `mapstructure:"headless"`
	Session   SessionConfig                  `mapstructure:"session"`
	Scheduler SchedulerConfig                `mapstructure:"scheduler"`
	Storage   StorageConfig                  `mapstructure:"storage"`
	DB        DBConfig                       `mapstructure:"db"`
	PubSub    PubSubConfig                   `mapstructure:"pubsub"`
	Alerts    AlertConfig                    `mapstructure:"alerts"`
	Targets   []permit.Target                `mapstructure:"targets"`
	Routing   map[string]permit.RoutingEntry `mapstructure:"routing"`
}

// ServerConfig controls HTTP status server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig configures the shared HTTP fetching layer.
type FetchConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelaySeconds int     `mapstructure:"retry_delay_seconds"`
	HostRPS           float64 `mapstructure:"host_rps"`
	HostBurst         int     `mapstructure:"host_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// SessionConfig governs per-target harvest sessions.
type SessionConfig struct {
	PageSize         int    `mapstructure:"page_size"`
	LookbackDays     int    `mapstructure:"lookback_days"`
	MaxRecords       int    `mapstructure:"max_records"`
	PagePauseMs      int    `mapstructure:"page_pause_ms"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	State            string `mapstructure:"state"`
}

// SchedulerConfig governs the outer harvest loop.
type SchedulerConfig struct {
	MaxAttempts       int `mapstructure:"max_attempts"`
	RetryDelaySeconds int `mapstructure:"retry_delay_seconds"`
	MaxPacingSeconds  int `mapstructure:"max_pacing_seconds"`
	StatusEvery       int `mapstructure:"status_every"`
	AlertEvery        int `mapstructure:"alert_every"`
}

// StorageConfig sets destinations for harvested batches.
type StorageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database. An empty DSN
// disables the database sink.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// AlertConfig configures failure alert delivery. An empty webhook URL
// keeps alerts in the logs only.
type AlertConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("fetch.user_agent", "permitstream-harvester/0.1")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.retry_delay_seconds", 5)
	v.SetDefault("fetch.host_rps", 1.0)
	v.SetDefault("fetch.host_burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("session.page_size", 1000)
	v.SetDefault("session.lookback_days", 90)
	v.SetDefault("session.page_pause_ms", 500)
	v.SetDefault("session.failure_threshold", 3)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.retry_delay_seconds", 5)
	v.SetDefault("scheduler.max_pacing_seconds", 1800)
	v.SetDefault("scheduler.status_every", 10)
	v.SetDefault("scheduler.alert_every", 3)
	v.SetDefault("storage.output_dir", "harvests")
	v.SetDefault("storage.prefix", "batches")
	v.SetDefault("alerts.timeout_seconds", 10)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target must be configured")
	}

	seen := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("every target needs a name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Name] = true
		if len(t.Endpoints) == 0 && !t.Discovery.Enabled {
			return fmt.Errorf("target %q has no endpoints and discovery disabled", t.Name)
		}
		for _, ep := range t.Endpoints {
			if ep.Kind == permit.KindRendered && !c.Headless.Enabled {
				return fmt.Errorf("target %q endpoint %q needs headless.enabled", t.Name, ep.Name)
			}
		}
	}
	return nil
}

// TargetNames returns the set of configured target names, for routing
// validation.
func (c Config) TargetNames() map[string]bool {
	names := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		names[t.Name] = true
	}
	return names
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// PagePause converts the inter-page pause into a duration.
func (c Config) PagePause() time.Duration {
	return time.Duration(c.Session.PagePauseMs) * time.Millisecond
}

// MaxPacing converts the pacing ceiling into a duration.
func (c Config) MaxPacing() time.Duration {
	return time.Duration(c.Scheduler.MaxPacingSeconds) * time.Second
}
