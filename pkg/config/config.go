// Package config provides the unified configuration system for pgcdc.
// It defines a single Config structure covering the whole pipeline,
// loaded from YAML with ${VAR_NAME} environment variable substitution.
//
// The configuration is organized into logical sections:
//   - Source: PostgreSQL connection and logical replication settings
//   - Kafka: producer, topic routing, and delivery guarantees
//   - Streaming: in-process event processing (workers, batching, retries)
//   - Offsets: replication position persistence and commit policy
//   - Observability: metrics, tracing, logging
//
// Example usage:
//
//	cfg, err := config.LoadConfig("pgcdc.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Source.ConnectionString())
package config

import (
	"fmt"
	"net/url"
	"runtime"
	"strconv"
	"time"

	"github.com/ajitpratap0/pgcdc/pkg/cdc"
)

// Config is the top-level configuration for a pgcdc pipeline.
type Config struct {
	// Name identifies the pipeline instance
	Name string `yaml:"name" json:"name"`
	// Environment tags the deployment (development, staging, production)
	Environment string `yaml:"environment" json:"environment"`

	// Source configures the PostgreSQL replication connection
	Source SourceConfig `yaml:"source" json:"source"`

	// Kafka configures the change event producer
	Kafka cdc.KafkaConfig `yaml:"kafka" json:"kafka"`

	// Streaming configures in-process event handling
	Streaming cdc.StreamingConfig `yaml:"streaming" json:"streaming"`

	// Offsets configures replication position persistence
	Offsets OffsetConfig `yaml:"offsets" json:"offsets"`

	// Observability configures metrics, tracing, and logging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// SourceConfig contains the PostgreSQL connection and logical
// replication settings.
type SourceConfig struct {
	// Connection fields
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode"`

	// Replication fields
	SlotName       string        `yaml:"slot_name" json:"slot_name"`
	Publication    string        `yaml:"publication" json:"publication"`
	Tables         []string      `yaml:"tables" json:"tables"`
	Plugin         cdc.Plugin    `yaml:"plugin" json:"plugin"`
	StartLSN       string        `yaml:"start_lsn,omitempty" json:"start_lsn,omitempty"`
	TemporarySlot  bool          `yaml:"temporary_slot" json:"temporary_slot"`
	StatusInterval time.Duration `yaml:"status_interval" json:"status_interval"`
	BufferSize     int           `yaml:"buffer_size" json:"buffer_size"`
}

// OffsetConfig controls how replication positions are persisted and
// acknowledged back to PostgreSQL.
type OffsetConfig struct {
	// Path is the offset file location; empty keeps offsets in memory only
	Path string `yaml:"path" json:"path"`
	// CommitPolicy selects when offsets are committed (periodic, every_batch)
	CommitPolicy string `yaml:"commit_policy" json:"commit_policy"`
	// CommitInterval sets the period for the periodic policy
	CommitInterval time.Duration `yaml:"commit_interval" json:"commit_interval"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates Prometheus metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates OpenTelemetry tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// MetricsInterval sets how often pipeline metrics are logged
	MetricsInterval time.Duration `yaml:"metrics_interval" json:"metrics_interval"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// New creates a Config with production-ready defaults. Loading a YAML
// file over it only overrides the fields the file names.
func New() *Config {
	return &Config{
		Name:        "pgcdc",
		Environment: "development",
		Source: SourceConfig{
			Host:           "localhost",
			Port:           5432,
			SSLMode:        "prefer",
			SlotName:       "pgcdc_slot",
			Publication:    "pgcdc_pub",
			Plugin:         cdc.PluginPgoutput,
			StatusInterval: 10 * time.Second,
			BufferSize:     10000,
		},
		Kafka: cdc.KafkaConfig{
			Brokers:             []string{"localhost:9092"},
			ProducerAcks:        "all",
			ProducerRetries:     3,
			ProducerCompression: "snappy",
			EnableIdempotence:   true,
			TopicPrefix:         "pgcdc.",
			MessageFormat:       "json",
		},
		Streaming: cdc.StreamingConfig{
			MaxBatchSize:    1000,
			BatchTimeout:    5 * time.Second,
			MaxRetries:      3,
			RetryBackoff:    time.Second,
			DeadLetterQueue: true,
			ParallelWorkers: runtime.NumCPU(),
		},
		Offsets: OffsetConfig{
			Path:           "pgcdc.offsets.json",
			CommitPolicy:   "periodic",
			CommitInterval: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     true,
			EnableTracing:     false,
			MetricsInterval:   30 * time.Second,
			LogLevel:          "info",
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness and fills
// section defaults. Call this after loading configuration to catch
// errors early.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	if err := c.Streaming.Validate(); err != nil {
		return fmt.Errorf("streaming: %w", err)
	}
	if err := c.Offsets.Validate(); err != nil {
		return fmt.Errorf("offsets: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	return nil
}

// Validate checks the source section and fills defaults.
func (s *SourceConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("host is required")
	}
	if s.Database == "" {
		return fmt.Errorf("database is required")
	}
	if s.Username == "" {
		return fmt.Errorf("username is required")
	}
	if len(s.Tables) == 0 {
		return fmt.Errorf("at least one table is required")
	}
	if s.Port <= 0 {
		s.Port = 5432
	}
	if s.SSLMode == "" {
		s.SSLMode = "prefer"
	}
	switch s.Plugin {
	case "":
		s.Plugin = cdc.PluginPgoutput
	case cdc.PluginPgoutput, cdc.PluginWal2JSON:
	default:
		return fmt.Errorf("unsupported plugin: %s", s.Plugin)
	}
	return nil
}

// Validate checks the offsets section and fills defaults.
func (o *OffsetConfig) Validate() error {
	switch o.CommitPolicy {
	case "":
		o.CommitPolicy = "periodic"
	case "periodic", "every_batch":
	default:
		return fmt.Errorf("unsupported commit policy: %s", o.CommitPolicy)
	}
	if o.CommitInterval <= 0 {
		o.CommitInterval = 5 * time.Second
	}
	return nil
}

// Validate checks the observability section and fills defaults.
func (o *ObservabilityConfig) Validate() error {
	switch o.LogLevel {
	case "":
		o.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", o.LogLevel)
	}
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = 30 * time.Second
	}
	if o.TracingSampleRate < 0 || o.TracingSampleRate > 1 {
		return fmt.Errorf("tracing_sample_rate must be between 0.0 and 1.0")
	}
	return nil
}

// ConnectionString builds a PostgreSQL connection URL from the discrete
// connection fields. Credentials are URL-escaped.
func (s *SourceConfig) ConnectionString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   s.Host,
		Path:   "/" + s.Database,
	}
	if s.Port > 0 {
		u.Host = s.Host + ":" + strconv.Itoa(s.Port)
	}
	if s.Username != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.Username, s.Password)
		} else {
			u.User = url.User(s.Username)
		}
	}
	if s.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", s.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// CDCConfig maps the source section onto the connector configuration.
func (s *SourceConfig) CDCConfig() cdc.CDCConfig {
	return cdc.CDCConfig{
		ConnectionString: s.ConnectionString(),
		Database:         s.Database,
		Tables:           s.Tables,
		SlotName:         s.SlotName,
		Publication:      s.Publication,
		Plugin:           s.Plugin,
		StartLSN:         s.StartLSN,
		TemporarySlot:    s.TemporarySlot,
		StatusInterval:   s.StatusInterval,
		BufferSize:       s.BufferSize,
	}
}
