// Package config defines the dispatcher's runtime configuration and the
// loaders that populate it.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config represents the top-level configuration.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator" mapstructure:"coordinator"`
	Archive     ArchiveConfig     `yaml:"archive" mapstructure:"archive"`
	Postgres    PostgresConfig    `yaml:"postgres" mapstructure:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka" mapstructure:"kafka"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" mapstructure:"telemetry"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// CoordinatorConfig tunes the dispatch coordinator.
type CoordinatorConfig struct {
	// ConcurrencyThreshold caps the summed weight of running calls.
	ConcurrencyThreshold int64 `yaml:"concurrency_threshold" mapstructure:"concurrency_threshold" validate:"gte=1"`

	// CompletedCallLifetime is how long completed calls stay queryable in memory.
	CompletedCallLifetime time.Duration `yaml:"completed_call_lifetime" mapstructure:"completed_call_lifetime" validate:"gte=0"`
	CullInterval          time.Duration `yaml:"cull_interval" mapstructure:"cull_interval" validate:"gte=0"`

	// CancelTimeout bounds how long a cancel waits for the call to confirm.
	CancelTimeout         time.Duration `yaml:"cancel_timeout" mapstructure:"cancel_timeout" validate:"gt=0"`
	InterruptPollInterval time.Duration `yaml:"interrupt_poll_interval" mapstructure:"interrupt_poll_interval" validate:"gte=0"`

	ProgressEventsPerSecond float64 `yaml:"progress_events_per_second" mapstructure:"progress_events_per_second" validate:"gte=0"`
	ProgressEventBurst      int     `yaml:"progress_event_burst" mapstructure:"progress_event_burst" validate:"gte=0"`
}

// ArchiveConfig controls how long archived call reports are retained.
// A zero Retention keeps them forever.
type ArchiveConfig struct {
	Retention     time.Duration `yaml:"retention" mapstructure:"retention" validate:"gte=0"`
	PurgeInterval time.Duration `yaml:"purge_interval" mapstructure:"purge_interval" validate:"required_with=Retention,gte=0"`
}

// PostgresConfig locates the call report archive. An empty DSN keeps the
// archive in memory.
type PostgresConfig struct {
	DSN           string `yaml:"dsn" mapstructure:"dsn"`
	MinConns      int32  `yaml:"min_conns" mapstructure:"min_conns" validate:"gte=0"`
	MaxConns      int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=1,gtefield=MinConns"`
	RunMigrations bool   `yaml:"run_migrations" mapstructure:"run_migrations"`

	// MigrationsSource is a golang-migrate source URL.
	MigrationsSource string `yaml:"migrations_source" mapstructure:"migrations_source" validate:"required_if=RunMigrations true"`
}

// KafkaConfig configures call event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers         []string `yaml:"brokers" mapstructure:"brokers" validate:"omitempty,dive,hostname_port"`
	ClientID        string   `yaml:"client_id" mapstructure:"client_id" validate:"required_with=Brokers"`
	CallEventsTopic string   `yaml:"call_events_topic" mapstructure:"call_events_topic" validate:"required_with=Brokers"`
	ProgressTopic   string   `yaml:"progress_topic" mapstructure:"progress_topic"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	ServiceName      string        `yaml:"service_name" mapstructure:"service_name" validate:"required"`
	ExporterEndpoint string        `yaml:"exporter_endpoint" mapstructure:"exporter_endpoint" validate:"required_if=Enabled true"`
	SamplingRatio    float64       `yaml:"sampling_ratio" mapstructure:"sampling_ratio" validate:"gte=0,lte=1"`
	Insecure         bool          `yaml:"insecure" mapstructure:"insecure"`
	MetricInterval   time.Duration `yaml:"metric_interval" mapstructure:"metric_interval" validate:"gte=0"`
}

// ServerConfig holds the listen addresses of the operator endpoints.
type ServerConfig struct {
	HealthAddr string `yaml:"health_addr" mapstructure:"health_addr" validate:"required"`
	DebugAddr  string `yaml:"debug_addr" mapstructure:"debug_addr" validate:"required"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Coordinator: CoordinatorConfig{
			ConcurrencyThreshold:    64,
			CompletedCallLifetime:   5 * time.Minute,
			CullInterval:            30 * time.Second,
			CancelTimeout:           10 * time.Second,
			InterruptPollInterval:   50 * time.Millisecond,
			ProgressEventsPerSecond: 10,
			ProgressEventBurst:      20,
		},
		Archive: ArchiveConfig{
			Retention:     30 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
		Postgres: PostgresConfig{
			MinConns:         5,
			MaxConns:         20,
			RunMigrations:    true,
			MigrationsSource: "file:///app/db/migrations",
		},
		Kafka: KafkaConfig{
			ClientID:        "dispatcher",
			CallEventsTopic: "dispatch.call-events",
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "dispatcher",
			SamplingRatio: 0.1,
			Insecure:      true,
		},
		Server: ServerConfig{
			HealthAddr:      ":8080",
			DebugAddr:       ":6060",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
