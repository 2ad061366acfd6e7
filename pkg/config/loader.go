package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DATASYNC_BATCH_WORKERS.
const EnvPrefix = "DATASYNC"

// Load reads the service configuration. path may be empty, in which case
// only defaults and environment overrides apply.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.body_limit", d.Server.BodyLimit)

	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.migrate_on_start", d.Database.MigrateOnStart)

	v.SetDefault("queue.retention", d.Queue.Retention)

	v.SetDefault("batch.workers", d.Batch.Workers)
	v.SetDefault("batch.item_timeout", d.Batch.ItemTimeout)
	v.SetDefault("batch.sample_size", d.Batch.SampleSize)

	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.spec", d.Scheduler.Spec)

	v.SetDefault("poller.interval", d.Poller.Interval)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.num_counters", d.Cache.NumCounters)
	v.SetDefault("cache.max_cost", d.Cache.MaxCost)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.output_paths", d.Logging.OutputPaths)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)

	v.SetDefault("events.nats_url", d.Events.NATSURL)
	v.SetDefault("events.subject", d.Events.Subject)
}
