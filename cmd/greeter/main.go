package main

import (
	"fmt"
	"os"

	"github.com/sulthonmb/greeting-app/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch cmd := os.Args[1]; cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`greeter - timezone-aware scheduled greeting delivery

Usage:
  greeter <command>

Commands:
  serve      Start the schedule triggers and the delivery consumer
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  APP_ENV                    development or production (default: "development")
  DATABASE_URL               PostgreSQL connection string (required)
  RABBITMQ_URL               RabbitMQ connection string (required)
  EMAIL_SERVICE_URL          Base URL of the email service (required)

  DB_OP_TIMEOUT              Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS          Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS          Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME       Max connection lifetime (default: "30m")

  RABBITMQ_PREFETCH          Unacknowledged messages per consumer (default: "1")
  DELIVERY_QUEUE             Delivery queue name (default: "greeting_message")
  GREETING_CONFIG_NAME       Name of the greeting configuration row (default: "greetingSystem")
  EMAIL_TIMEOUT              Per-request email timeout (default: "10s")
  RUN_TIMEOUT                Deadline of one (event, timezone) run (default: "5m")
  DEFAULT_EVENT              Event used when none is given (default: "birthday")
  DEFAULT_TIMEZONE           Timezone used when none is given (default: "Asia/Jakarta")
  TIMEZONES                  Comma-separated timezones; overrides zoneinfo enumeration

  HTTP_ADDR                  Health endpoint address (default: ":8080")
  REDIS_ADDR                 Redis address for delivery analytics (optional)
  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Metrics server port (default: "9090")

  CIRCUIT_BREAKER_THRESHOLD  Failures before the email circuit opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN   Open circuit cooldown (default: "2m")

  LEADER_ELECTION_ENABLED    Only the lock holder fires triggers (default: "false")
  LEADER_LOCK_KEY            Advisory lock key shared by replicas (default: "728380")
  LEADER_RETRY_INTERVAL      Follower lock retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL  Leader connection ping interval (default: "2s")

  SCHEDULER_INIT_RETRY       Retry interval while the greeting config is unusable (default: "30s")

  RECONCILE_ENABLED          Re-publish stale on_going deliveries (default: "false")
  RECONCILE_INTERVAL         How often to scan (default: "5m")
  RECONCILE_THRESHOLD        Age before a delivery is stale (default: "30m")
  RECONCILE_BATCH_SIZE       Max deliveries per cycle (default: "100")

  SHUTDOWN_TIMEOUT           Graceful shutdown timeout (default: "10s")`)
}

func loadConfig() (config.Config, int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return config.Config{}, exitInvalidConfig
	}
	return cfg, exitSuccess
}

func runValidate() int {
	cfg, code := loadConfig()
	if code != exitSuccess {
		return code
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg, code := loadConfig()
	if code != exitSuccess {
		return code
	}

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("greeter version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
