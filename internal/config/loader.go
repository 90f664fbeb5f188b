package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads the configuration from an optional YAML file plus
// FLEETHUB_-prefixed environment variables, with defaults for everything.
// Pass an empty path to skip the file and use environment and defaults
// only.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("grpc.addr", "0.0.0.0:9090")
	v.SetDefault("grpc.shutdown_timeout", "20s")
	v.SetDefault("http.addr", "0.0.0.0:8080")
	v.SetDefault("http.read_timeout", "5s")
	v.SetDefault("http.write_timeout", "0")
	v.SetDefault("http.idle_timeout", "120s")
	v.SetDefault("http.shutdown_timeout", "20s")
	v.SetDefault("debug.addr", "0.0.0.0:6060")
	v.SetDefault("dispatch.session_buffer", 32)
	v.SetDefault("dispatch.command_timeout", "30s")
	v.SetDefault("dispatch.content_timeout", "60s")
	v.SetDefault("fleet.store", string(FleetStoreMemory))
	v.SetDefault("analytics.max_batch_size", 500)
	v.SetDefault("analytics.batches_per_second", 1.0)
	v.SetDefault("analytics.burst", 5)
	v.SetDefault("analytics.store_capacity", 1024)
	v.SetDefault("kafka.audit_topic", "fleethub.audit")
	v.SetDefault("kafka.client_id", "fleethub")
	v.SetDefault("otel.service_name", "fleet-hub")
	v.SetDefault("otel.probability", 0.05)
	// Empty defaults register these keys so environment overrides for them
	// reach Unmarshal.
	v.SetDefault("fleet.postgres_dsn", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("otel.exporter_endpoint", "")

	v.SetEnvPrefix("FLEETHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Fleet.Store != FleetStoreMemory && cfg.Fleet.Store != FleetStorePostgres {
		return nil, fmt.Errorf("unknown fleet store: %q", cfg.Fleet.Store)
	}
	if cfg.Fleet.Store == FleetStorePostgres && cfg.Fleet.PostgresDSN == "" {
		return nil, errors.New("fleet.postgres_dsn is required when fleet.store is postgres")
	}

	return &cfg, nil
}
