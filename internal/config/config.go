package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the greeter service.
// Values are loaded from environment variables; see printUsage() in
// cmd/greeter for the full list.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"development"`

	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	DBOpTimeout       time.Duration `envconfig:"DB_OP_TIMEOUT" default:"5s"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`

	RabbitMQURL      string `envconfig:"RABBITMQ_URL"`
	RabbitMQPrefetch int    `envconfig:"RABBITMQ_PREFETCH" default:"1"`
	DeliveryQueue    string `envconfig:"DELIVERY_QUEUE" default:"greeting_message"`

	GreetingConfigName string `envconfig:"GREETING_CONFIG_NAME" default:"greetingSystem"`

	EmailServiceURL string        `envconfig:"EMAIL_SERVICE_URL"`
	EmailTimeout    time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`

	// RunTimeout bounds one (event, timezone) producer run, including the
	// cohort query, every publish and the history bulk insert.
	RunTimeout time.Duration `envconfig:"RUN_TIMEOUT" default:"5m"`

	DefaultEvent    string `envconfig:"DEFAULT_EVENT" default:"birthday"`
	DefaultTimezone string `envconfig:"DEFAULT_TIMEZONE" default:"Asia/Jakarta"`

	// Timezones overrides zoneinfo enumeration when non-empty.
	Timezones []string `envconfig:"TIMEZONES"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:":8080"`

	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9090"`
	MetricsPath    string `envconfig:"METRICS_PATH" default:"/metrics"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int           `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
	CircuitBreakerCooldown  time.Duration `envconfig:"CIRCUIT_BREAKER_COOLDOWN" default:"2m"`

	// LeaderLockKey: all replicas sharing the same database must use the same key.
	LeaderElectionEnabled   bool          `envconfig:"LEADER_ELECTION_ENABLED" default:"false"`
	LeaderLockKey           int64         `envconfig:"LEADER_LOCK_KEY" default:"728380"`
	LeaderRetryInterval     time.Duration `envconfig:"LEADER_RETRY_INTERVAL" default:"5s"`
	LeaderHeartbeatInterval time.Duration `envconfig:"LEADER_HEARTBEAT_INTERVAL" default:"2s"`

	// SchedulerInitRetry paces Init retries while the greeting
	// configuration is missing or invalid.
	SchedulerInitRetry time.Duration `envconfig:"SCHEDULER_INIT_RETRY" default:"30s"`

	ReconcileEnabled   bool          `envconfig:"RECONCILE_ENABLED" default:"false"`
	ReconcileInterval  time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
	ReconcileThreshold time.Duration `envconfig:"RECONCILE_THRESHOLD" default:"30m"`
	ReconcileBatchSize int           `envconfig:"RECONCILE_BATCH_SIZE" default:"100"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads configuration from environment variables with defaults.
// Only malformed values (e.g. an unparsable duration) fail here; semantic
// checks are left to Validate so the validate command can report all of them.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process config: %w", err)
	}
	return cfg, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		Environment             string   `json:"environment"`
		DatabaseURL             string   `json:"database_url"`
		DBOpTimeout             string   `json:"db_op_timeout"`
		DBMaxOpenConns          int      `json:"db_max_open_conns"`
		DBMaxIdleConns          int      `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string   `json:"db_conn_max_lifetime"`
		RabbitMQURL             string   `json:"rabbitmq_url"`
		RabbitMQPrefetch        int      `json:"rabbitmq_prefetch"`
		DeliveryQueue           string   `json:"delivery_queue"`
		GreetingConfigName      string   `json:"greeting_config_name"`
		EmailServiceURL         string   `json:"email_service_url"`
		EmailTimeout            string   `json:"email_timeout"`
		RunTimeout              string   `json:"run_timeout"`
		DefaultEvent            string   `json:"default_event"`
		DefaultTimezone         string   `json:"default_timezone"`
		Timezones               []string `json:"timezones,omitempty"`
		RedisAddr               string   `json:"redis_addr,omitempty"`
		HTTPAddr                string   `json:"http_addr"`
		MetricsEnabled          bool     `json:"metrics_enabled"`
		MetricsPort             string   `json:"metrics_port"`
		MetricsPath             string   `json:"metrics_path"`
		CircuitBreakerThreshold int      `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string   `json:"circuit_breaker_cooldown"`
		LeaderElectionEnabled   bool     `json:"leader_election_enabled"`
		LeaderLockKey           int64    `json:"leader_lock_key"`
		LeaderRetryInterval     string   `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string   `json:"leader_heartbeat_interval"`
		SchedulerInitRetry      string   `json:"scheduler_init_retry"`
		ReconcileEnabled        bool     `json:"reconcile_enabled"`
		ReconcileInterval       string   `json:"reconcile_interval"`
		ReconcileThreshold      string   `json:"reconcile_threshold"`
		ReconcileBatchSize      int      `json:"reconcile_batch_size"`
		ShutdownTimeout         string   `json:"shutdown_timeout"`
	}{
		Environment:             c.Environment,
		DatabaseURL:             maskSecret(c.DatabaseURL),
		DBOpTimeout:             c.DBOpTimeout.String(),
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetime.String(),
		RabbitMQURL:             maskSecret(c.RabbitMQURL),
		RabbitMQPrefetch:        c.RabbitMQPrefetch,
		DeliveryQueue:           c.DeliveryQueue,
		GreetingConfigName:      c.GreetingConfigName,
		EmailServiceURL:         c.EmailServiceURL,
		EmailTimeout:            c.EmailTimeout.String(),
		RunTimeout:              c.RunTimeout.String(),
		DefaultEvent:            c.DefaultEvent,
		DefaultTimezone:         c.DefaultTimezone,
		Timezones:               c.Timezones,
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPort:             c.MetricsPort,
		MetricsPath:             c.MetricsPath,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldown.String(),
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryInterval.String(),
		LeaderHeartbeatInterval: c.LeaderHeartbeatInterval.String(),
		SchedulerInitRetry:      c.SchedulerInitRetry.String(),
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileInterval.String(),
		ReconcileThreshold:      c.ReconcileThreshold.String(),
		ReconcileBatchSize:      c.ReconcileBatchSize,
		ShutdownTimeout:         c.ShutdownTimeout.String(),
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a connection string, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://", "amqp://", "amqps://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
