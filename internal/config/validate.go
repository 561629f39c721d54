package config

import (
	"fmt"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	required := []struct {
		field string
		value string
	}{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"RABBITMQ_URL", cfg.RabbitMQURL},
		{"EMAIL_SERVICE_URL", cfg.EmailServiceURL},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, ValidationError{Field: r.field, Message: "required"})
		}
	}

	if cfg.Environment != "development" && cfg.Environment != "production" {
		errs = append(errs, ValidationError{
			Field:   "APP_ENV",
			Message: fmt.Sprintf("must be 'development' or 'production', got %q", cfg.Environment),
		})
	}

	durations := []struct {
		field string
		value time.Duration
		check bool
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeout, true},
		{"EMAIL_TIMEOUT", cfg.EmailTimeout, true},
		{"RUN_TIMEOUT", cfg.RunTimeout, true},
		{"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout, true},
		{"SCHEDULER_INIT_RETRY", cfg.SchedulerInitRetry, true},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldown, cfg.CircuitBreakerThreshold > 0},
		{"LEADER_RETRY_INTERVAL", cfg.LeaderRetryInterval, cfg.LeaderElectionEnabled},
		{"LEADER_HEARTBEAT_INTERVAL", cfg.LeaderHeartbeatInterval, cfg.LeaderElectionEnabled},
		{"RECONCILE_INTERVAL", cfg.ReconcileInterval, cfg.ReconcileEnabled},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThreshold, cfg.ReconcileEnabled},
	}
	for _, d := range durations {
		if d.check && d.value <= 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: "must be positive"})
		}
	}

	if cfg.RabbitMQPrefetch < 1 {
		errs = append(errs, ValidationError{Field: "RABBITMQ_PREFETCH", Message: "must be at least 1"})
	}
	if cfg.CircuitBreakerThreshold < 0 {
		errs = append(errs, ValidationError{Field: "CIRCUIT_BREAKER_THRESHOLD", Message: "must not be negative"})
	}
	if cfg.ReconcileEnabled && cfg.ReconcileBatchSize <= 0 {
		errs = append(errs, ValidationError{Field: "RECONCILE_BATCH_SIZE", Message: "must be positive"})
	}
	if cfg.DeliveryQueue == "" {
		errs = append(errs, ValidationError{Field: "DELIVERY_QUEUE", Message: "required"})
	}

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		errs = append(errs, ValidationError{
			Field:   "DEFAULT_TIMEZONE",
			Message: fmt.Sprintf("unknown timezone %q", cfg.DefaultTimezone),
		})
	}
	for _, tz := range cfg.Timezones {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONES",
				Message: fmt.Sprintf("unknown timezone %q", tz),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
