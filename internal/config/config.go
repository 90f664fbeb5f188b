// Package config defines the hub's configuration and its loader.
package config

import "time"

// Config represents the top-level hub configuration.
type Config struct {
	GRPC      GRPCConfig      `mapstructure:"grpc" yaml:"grpc"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" yaml:"dispatch"`
	Fleet     FleetConfig     `mapstructure:"fleet" yaml:"fleet"`
	Analytics AnalyticsConfig `mapstructure:"analytics" yaml:"analytics"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Otel      OtelConfig      `mapstructure:"otel" yaml:"otel"`
}

// GRPCConfig configures the device-facing gRPC listener.
type GRPCConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HTTPConfig configures the admin HTTP listener.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DebugConfig configures the private debug listener.
type DebugConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DispatchConfig configures the dispatch engine and ingress defaults.
type DispatchConfig struct {
	SessionBuffer  int           `mapstructure:"session_buffer" yaml:"session_buffer"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	ContentTimeout time.Duration `mapstructure:"content_timeout" yaml:"content_timeout"`
}

// FleetStoreKind selects the fleet store backend.
type FleetStoreKind string

const (
	FleetStoreMemory   FleetStoreKind = "memory"
	FleetStorePostgres FleetStoreKind = "postgres"
)

// FleetConfig configures fleet storage.
type FleetConfig struct {
	Store       FleetStoreKind `mapstructure:"store" yaml:"store"`
	PostgresDSN string         `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// AnalyticsConfig configures the telemetry ingestion service.
type AnalyticsConfig struct {
	MaxBatchSize     int     `mapstructure:"max_batch_size" yaml:"max_batch_size"`
	BatchesPerSecond float64 `mapstructure:"batches_per_second" yaml:"batches_per_second"`
	Burst            int     `mapstructure:"burst" yaml:"burst"`
	StoreCapacity    int     `mapstructure:"store_capacity" yaml:"store_capacity"`
}

// KafkaConfig configures the optional audit publisher. Leaving Brokers
// empty disables it.
type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers" yaml:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic" yaml:"audit_topic"`
	ClientID   string   `mapstructure:"client_id" yaml:"client_id"`
}

// OtelConfig configures telemetry export.
type OtelConfig struct {
	ServiceName      string  `mapstructure:"service_name" yaml:"service_name"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint" yaml:"exporter_endpoint"`
	Probability      float64 `mapstructure:"probability" yaml:"probability"`
}
