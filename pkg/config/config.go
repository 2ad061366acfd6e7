// Package config provides the service configuration for datasync.
// It defines a single AppConfig structure organized into logical sections:
//   - Server: HTTP listener settings
//   - Database: persistence (empty DSN keeps everything in memory)
//   - Queue, Batch, Scheduler: sync orchestration tuning
//   - Cache: data-source catalog read cache
//   - Logging, Metrics, Tracing, Events: observability and fan-out
//
// Example usage:
//
//	cfg, err := config.Load("datasync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Batch.Workers)
package config

import (
	"fmt"
	"time"
)

// AppConfig is the root configuration for the datasync service.
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Queue     QueueConfig     `mapstructure:"queue" yaml:"queue"`
	Batch     BatchConfig     `mapstructure:"batch" yaml:"batch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Poller    PollerConfig    `mapstructure:"poller" yaml:"poller"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address
	Addr string `mapstructure:"addr" yaml:"addr"`
	// ReadTimeout for incoming requests
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout for responses
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// BodyLimit caps request bodies in bytes
	BodyLimit int64 `mapstructure:"body_limit" yaml:"body_limit"`
}

// DatabaseConfig contains persistence settings.
type DatabaseConfig struct {
	// DSN is a Postgres connection string; empty selects in-memory stores
	DSN string `mapstructure:"dsn" yaml:"dsn"`
	// MaxOpenConns limits the SQL pool
	MaxOpenConns int `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	// MigrateOnStart runs embedded migrations before serving
	MigrateOnStart bool `mapstructure:"migrate_on_start" yaml:"migrate_on_start"`
}

// QueueConfig tunes the sync queue manager.
type QueueConfig struct {
	// Retention is how many terminal items snapshots keep
	Retention int `mapstructure:"retention" yaml:"retention"`
}

// BatchConfig tunes the batch coordinator.
type BatchConfig struct {
	// Workers bounds concurrent executor calls
	Workers int `mapstructure:"workers" yaml:"workers"`
	// ItemTimeout is the per-item executor budget
	ItemTimeout time.Duration `mapstructure:"item_timeout" yaml:"item_timeout"`
	// SampleSize caps sample records kept in a log entry
	SampleSize int `mapstructure:"sample_size" yaml:"sample_size"`
}

// SchedulerConfig controls periodic syncing of due sources.
type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Spec is a robfig/cron schedule, e.g. "@every 1m"
	Spec string `mapstructure:"spec" yaml:"spec"`
}

// PollerConfig controls CLI status polling.
type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// CacheConfig sizes the catalog read cache.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	NumCounters int64         `mapstructure:"num_counters" yaml:"num_counters"`
	MaxCost     int64         `mapstructure:"max_cost" yaml:"max_cost"`
	TTL         time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level       string   `mapstructure:"level" yaml:"level"`
	Development bool     `mapstructure:"development" yaml:"development"`
	Encoding    string   `mapstructure:"encoding" yaml:"encoding"`
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName  string  `mapstructure:"service_name" yaml:"service_name"`
	Environment  string  `mapstructure:"environment" yaml:"environment"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`
}

// EventsConfig controls sync-completion events.
type EventsConfig struct {
	// NATSURL enables the NATS publisher when set
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`
	// Subject prefix for published events
	Subject string `mapstructure:"subject" yaml:"subject"`
}

// Default returns an AppConfig with production-ready defaults.
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			BodyLimit:       1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MigrateOnStart: true,
		},
		Queue: QueueConfig{Retention: 500},
		Batch: BatchConfig{
			Workers:     5,
			ItemTimeout: 30 * time.Second,
			SampleSize:  20,
		},
		Scheduler: SchedulerConfig{Enabled: true, Spec: "@every 1m"},
		Poller:    PollerConfig{Interval: time.Second},
		Cache: CacheConfig{
			Enabled:     true,
			NumCounters: 10000,
			MaxCost:     1000,
			TTL:         30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Encoding: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Tracing: TracingConfig{ServiceName: "datasync", Environment: "development", SamplingRate: 0.1},
		Events:  EventsConfig{Subject: "datasync"},
	}
}

// Validate validates the configuration for correctness.
func (c *AppConfig) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}
	if c.Batch.ItemTimeout <= 0 {
		return fmt.Errorf("batch.item_timeout must be positive")
	}
	if c.Queue.Retention < 0 {
		return fmt.Errorf("queue.retention cannot be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler.spec is required when the scheduler is enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be within [0,1]")
	}
	return nil
}

// UsesPostgres reports whether a database DSN is configured.
func (d *DatabaseConfig) UsesPostgres() bool {
	return d.DSN != ""
}
