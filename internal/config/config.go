// Package config provides configuration management for the orchestration service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "ORCHESTRATOR"

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the orchestration service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Temporal contains durable execution engine settings.
	Temporal TemporalConfig `mapstructure:"temporal"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Kafka contains broker settings for the event and signal bridges.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Outbox contains outbox relay settings.
	Outbox OutboxConfig `mapstructure:"outbox"`
	// Redis contains the inbound deduplication store settings.
	Redis RedisConfig `mapstructure:"redis"`
	// RateLimit contains request throttling settings.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	// Workflows contains per-workflow tuning knobs.
	Workflows WorkflowsConfig `mapstructure:"workflows"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout is the keep-alive idle timeout.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (loaded from the environment only).
	Password string `mapstructure:"-"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is a directory of migration files. Empty uses the
	// migrations embedded in the binary.
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup.
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
	// StatementCacheCapacity is the size of the prepared statement cache.
	StatementCacheCapacity int `mapstructure:"statement_cache_capacity"`
}

// TemporalConfig holds durable execution engine configuration.
type TemporalConfig struct {
	// HostPort is the Temporal frontend address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// APIKey authenticates against Temporal Cloud (environment only).
	APIKey string `mapstructure:"-"`
	// TLSEnabled turns on TLS for the frontend connection.
	TLSEnabled bool `mapstructure:"tls_enabled"`
	// TLSCertPath and TLSKeyPath configure mTLS client certificates.
	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`
	// TLSCAPath is an optional CA bundle for the server certificate.
	TLSCAPath string `mapstructure:"tls_ca_path"`
	// TLSServerName overrides the expected server name.
	TLSServerName string `mapstructure:"tls_server_name"`
	// Component selects which worker component this process runs (see temporal.Components).
	Component string `mapstructure:"component"`
	// MaxConcurrentActivities bounds activity executions per worker.
	MaxConcurrentActivities int `mapstructure:"max_concurrent_activities"`
	// MaxConcurrentWorkflowTasks bounds workflow task executions per worker.
	MaxConcurrentWorkflowTasks int `mapstructure:"max_concurrent_workflow_tasks"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// KafkaConfig holds Kafka settings shared by the outbox relay and the inbound signal listener.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing and consuming are active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// EventsTopic receives lifecycle events relayed from the outbox.
	EventsTopic string `mapstructure:"events_topic"`
	// InboundTopic carries human responses and webhooks destined for workflows.
	InboundTopic string `mapstructure:"inbound_topic"`
	// ConsumerGroup is the consumer group for the inbound listener.
	ConsumerGroup string `mapstructure:"consumer_group"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// OutboxConfig holds outbox relay settings.
type OutboxConfig struct {
	// PollInterval is how often the relay polls for pending events.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// BatchSize is the number of events claimed per poll.
	BatchSize int `mapstructure:"batch_size"`
	// MaxAttempts is how many publish attempts an event gets before it is parked.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// RedisConfig holds settings for the inbound message deduplication store.
type RedisConfig struct {
	// Enabled turns deduplication on. When off, every inbound message is processed.
	Enabled bool `mapstructure:"enabled"`
	// Addr is the Redis address.
	Addr string `mapstructure:"addr"`
	// Password is loaded from the environment only.
	Password string `mapstructure:"-"`
	// DB is the Redis database number.
	DB int `mapstructure:"db"`
	// DedupTTL is how long an idempotency key is remembered.
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
}

// RateLimitConfig holds token bucket settings.
type RateLimitConfig struct {
	// HTTPRequestsPerSecond limits API requests per tenant.
	HTTPRequestsPerSecond float64 `mapstructure:"http_rps"`
	// HTTPBurst is the bucket size for API requests.
	HTTPBurst int `mapstructure:"http_burst"`
	// InboundMessagesPerSecond limits signal deliveries from the inbound topic.
	InboundMessagesPerSecond float64 `mapstructure:"inbound_rps"`
	// InboundBurst is the bucket size for inbound deliveries.
	InboundBurst int `mapstructure:"inbound_burst"`
}

// WorkflowsConfig holds workflow tuning values passed to workflow inputs as defaults.
type WorkflowsConfig struct {
	// ContentExecutionTimeout bounds a content production run.
	ContentExecutionTimeout time.Duration `mapstructure:"content_execution_timeout"`
	// IdentityExecutionTimeout bounds an identity evaluation run.
	IdentityExecutionTimeout time.Duration `mapstructure:"identity_execution_timeout"`
	// PerformanceExecutionTimeout bounds a performance assessment run.
	PerformanceExecutionTimeout time.Duration `mapstructure:"performance_execution_timeout"`
	// VoiceThreshold is the minimum voice alignment score that skips revision.
	VoiceThreshold float64 `mapstructure:"voice_threshold"`
	// MaxRevisions bounds automatic revise/evaluate loops.
	MaxRevisions int `mapstructure:"max_revisions"`
	// ApprovalDue is how long a human approval task stays open.
	ApprovalDue time.Duration `mapstructure:"approval_due"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	if c.StatementCacheCapacity > 0 {
		params.Set("statement_cache_capacity", fmt.Sprintf("%d", c.StatementCacheCapacity))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/orchestrator")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loadSecrets(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields from the environment. Each secret can
// also be read from a file named by the same variable with a _FILE suffix.
func loadSecrets(cfg *Config) error {
	var err error
	if cfg.Database.Password, err = secretFromEnv(EnvPrefix + "_DATABASE_PASSWORD"); err != nil {
		return err
	}
	if cfg.Temporal.APIKey, err = secretFromEnv(EnvPrefix + "_TEMPORAL_API_KEY"); err != nil {
		return err
	}
	if cfg.Redis.Password, err = secretFromEnv(EnvPrefix + "_REDIS_PASSWORD"); err != nil {
		return err
	}
	return nil
}

func secretFromEnv(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	path := os.Getenv(key + "_FILE")
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", key+"_FILE", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "orchestrator")
	v.SetDefault("database.name", "orchestrator")
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "")
	v.SetDefault("database.migration_auto_run", false)
	v.SetDefault("database.statement_cache_capacity", 512)

	// Temporal defaults
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.tls_enabled", false)
	v.SetDefault("temporal.component", "all")
	v.SetDefault("temporal.max_concurrent_activities", 100)
	v.SetDefault("temporal.max_concurrent_workflow_tasks", 100)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "orchestrator")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.events_topic", "orchestrator.events")
	v.SetDefault("kafka.inbound_topic", "orchestrator.inbound")
	v.SetDefault("kafka.consumer_group", "orchestrator-signal-bridge")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	// Outbox relay defaults
	v.SetDefault("outbox.poll_interval", "1s")
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dedup_ttl", "24h")

	// Rate limit defaults
	v.SetDefault("rate_limit.http_rps", 50.0)
	v.SetDefault("rate_limit.http_burst", 100)
	v.SetDefault("rate_limit.inbound_rps", 20.0)
	v.SetDefault("rate_limit.inbound_burst", 40)

	// Workflow defaults
	v.SetDefault("workflows.content_execution_timeout", "72h")
	v.SetDefault("workflows.identity_execution_timeout", "1h")
	v.SetDefault("workflows.performance_execution_timeout", "2h")
	v.SetDefault("workflows.voice_threshold", 0.75)
	v.SetDefault("workflows.max_revisions", 3)
	v.SetDefault("workflows.approval_due", "48h")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	if c.Temporal.HostPort == "" {
		return fmt.Errorf("temporal host_port is required")
	}
	if c.Temporal.Namespace == "" {
		return fmt.Errorf("temporal namespace is required")
	}
	if (c.Temporal.TLSCertPath == "") != (c.Temporal.TLSKeyPath == "") {
		return fmt.Errorf("temporal tls_cert_path and tls_key_path must be set together")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}
	if c.Outbox.BatchSize <= 0 {
		return fmt.Errorf("outbox batch_size must be positive")
	}

	if c.Workflows.VoiceThreshold < 0 || c.Workflows.VoiceThreshold > 1 {
		return fmt.Errorf("workflows voice_threshold must be between 0 and 1")
	}
	if c.Workflows.MaxRevisions < 0 {
		return fmt.Errorf("workflows max_revisions must not be negative")
	}

	return nil
}
