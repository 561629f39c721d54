// Command trigger runs one delivery on demand: the given event for one
// timezone, or for every timezone with -all. It publishes to the delivery
// queue and writes the history but does not consume.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/broker"
	"github.com/sulthonmb/greeting-app/internal/cohort"
	"github.com/sulthonmb/greeting-app/internal/compose"
	"github.com/sulthonmb/greeting-app/internal/config"
	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/greetconfig"
	"github.com/sulthonmb/greeting-app/internal/logger"
	"github.com/sulthonmb/greeting-app/internal/orchestrator"
	"github.com/sulthonmb/greeting-app/internal/store/postgres"
	"github.com/sulthonmb/greeting-app/internal/timezone"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

type options struct {
	event    string
	timezone string
	all      bool
}

func parseFlags(args []string, cfg config.Config) (options, error) {
	fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
	var opts options
	fs.StringVar(&opts.event, "event", cfg.DefaultEvent, "event to deliver")
	fs.StringVar(&opts.timezone, "timezone", cfg.DefaultTimezone, "recipient timezone")
	fs.BoolVar(&opts.all, "all", false, "deliver for every known timezone")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// producerErrors drops validation errors for settings only the consumer needs.
func producerErrors(err error) error {
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var kept config.ValidationErrors
	for _, v := range verrs {
		if v.Field == "EMAIL_SERVICE_URL" {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	if err := producerErrors(config.Validate(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	opts, err := parseFlags(args, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	log, err := logger.New(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitRuntimeError
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", zap.Error(err))
		return exitRuntimeError
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)

	store := postgres.New(db, cfg.DBOpTimeout)
	provider, err := greetconfig.NewProvider(store)
	if err != nil {
		log.Error("failed to build config provider", zap.Error(err))
		return exitRuntimeError
	}

	mq := broker.New(cfg.RabbitMQURL, log)
	if err := mq.Connect(ctx); err != nil {
		log.Error("failed to connect to broker", zap.Error(err))
		return exitRuntimeError
	}
	defer func() {
		if err := mq.Close(); err != nil {
			log.Warn("broker close error", zap.Error(err))
		}
	}()

	orch := orchestrator.New(
		orchestrator.Config{
			ConfigName:      cfg.GreetingConfigName,
			Queue:           cfg.DeliveryQueue,
			RunTimeout:      cfg.RunTimeout,
			DefaultEvent:    domain.EventType(cfg.DefaultEvent),
			DefaultTimezone: cfg.DefaultTimezone,
		},
		provider,
		cohort.NewSelector(provider, store, cfg.GreetingConfigName, log),
		compose.New(log),
		mq,
		store,
		log,
	)

	if !opts.all {
		if err := orch.Run(ctx, domain.EventType(opts.event), opts.timezone); err != nil {
			return exitRuntimeError
		}
		return exitSuccess
	}

	zones, err := timezone.Resolve(cfg.Timezones, cfg.DefaultTimezone)
	if err != nil {
		log.Warn("timezone enumeration failed, using default timezone only", zap.Error(err))
	}
	orch = orch.WithTimezones(func() []string { return zones })
	orch.Trigger(ctx, domain.EventType(opts.event), "", true)
	if err := orch.Wait(ctx); err != nil {
		log.Error("interrupted before all runs finished", zap.Error(err))
		return exitRuntimeError
	}
	log.Info("all timezone runs finished", zap.Int("timezones", len(zones)))
	return exitSuccess
}
