// Package scheduler registers one daily cron trigger per (event, timezone)
// pair and runs a delivery for that pair whenever its trigger fires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/cron"
	"github.com/sulthonmb/greeting-app/internal/domain"
)

// ErrAlreadyInitialized is returned by Init when triggers are registered.
var ErrAlreadyInitialized = errors.New("scheduler already initialized")

type ConfigSource interface {
	Load(ctx context.Context, name string) (domain.GreetingConfig, error)
}

// Runner performs one (event, timezone) delivery run.
type Runner interface {
	Run(ctx context.Context, event domain.EventType, tz string) error
}

type CronParser interface {
	Parse(expression string, timezone string) (cron.Schedule, error)
}

// MetricsSink records scheduler metrics.
type MetricsSink interface {
	TriggersRegistered(count int)
	TriggerFired(event string)
}

// TriggerKey identifies one trigger.
type TriggerKey struct {
	Event    domain.EventType
	Timezone string
}

// Trigger describes a registered trigger.
type Trigger struct {
	TriggerKey
	Expression string
	// Next is zero until the scheduler has started.
	Next time.Time
}

type Config struct {
	ConfigName string
}

type Scheduler struct {
	config  Config
	configs ConfigSource
	runner  Runner
	parser  CronParser
	zones   func() []string
	logger  *zap.Logger
	metrics MetricsSink // optional

	mu       sync.Mutex
	cron     *robfig.Cron
	triggers map[TriggerKey]robfig.EntryID
	exprs    map[TriggerKey]string
	started  bool

	runCtx     context.Context
	cancelRuns context.CancelFunc
}

func New(config Config, configs ConfigSource, runner Runner, parser CronParser, zones func() []string, logger *zap.Logger) *Scheduler {
	s := &Scheduler{
		config:  config,
		configs: configs,
		runner:  runner,
		parser:  parser,
		zones:   zones,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
	s.reset()
	return s
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// reset installs a fresh cron instance. Callers hold mu or own s exclusively.
func (s *Scheduler) reset() {
	s.cron = robfig.New(
		robfig.WithLogger(robfig.PrintfLogger(zap.NewStdLog(s.logger))),
		robfig.WithChain(robfig.Recover(robfig.PrintfLogger(zap.NewStdLog(s.logger)))),
	)
	s.triggers = make(map[TriggerKey]robfig.EntryID)
	s.exprs = make(map[TriggerKey]string)
	s.started = false
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())
}

// Init loads the configuration once and registers a trigger for every
// yearly rule with a time of day, in every timezone. Triggers are fixed
// until Stop; configuration changes need a new Init.
func (s *Scheduler) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.triggers) > 0 {
		return ErrAlreadyInitialized
	}

	cfg, err := s.configs.Load(ctx, s.config.ConfigName)
	if err != nil {
		return fmt.Errorf("load greeting config: %w", err)
	}

	events := make([]domain.EventType, 0, len(cfg.Schedule))
	for event := range cfg.Schedule {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i] < events[j] })

	zones := s.zones()
	for _, event := range events {
		rule := cfg.Schedule[event]
		log := s.logger.With(zap.String("event", string(event)))

		if rule.Frequency != domain.FrequencyYearly || rule.Time == "" {
			log.Info("rule not scheduled", zap.String("frequency", rule.Frequency), zap.String("time", rule.Time))
			continue
		}
		expr, err := cron.CronExpression(rule.Time)
		if err != nil {
			log.Error("rule has an invalid time", zap.Error(err))
			continue
		}

		registered := 0
		for _, tz := range zones {
			if err := s.register(event, tz, expr); err != nil {
				log.Warn("trigger not registered", zap.String("timezone", tz), zap.Error(err))
				continue
			}
			registered++
		}
		log.Info("triggers registered", zap.String("expression", expr), zap.Int("timezones", registered))
	}

	if s.metrics != nil {
		s.metrics.TriggersRegistered(len(s.triggers))
	}
	return nil
}

// InitWithRetry calls Init until it succeeds, retrying every interval, so a
// configuration row that is missing or invalid at boot is picked up once it
// is fixed. It returns ctx.Err() when ctx ends first. ErrAlreadyInitialized
// is returned as is.
func (s *Scheduler) InitWithRetry(ctx context.Context, interval time.Duration) error {
	for attempt := 1; ; attempt++ {
		err := s.Init(ctx)
		if err == nil || errors.Is(err, ErrAlreadyInitialized) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("scheduler init failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", interval),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Scheduler) register(event domain.EventType, tz, expr string) error {
	sched, err := s.parser.Parse(expr, tz)
	if err != nil {
		return err
	}
	key := TriggerKey{Event: event, Timezone: tz}
	ctx := s.runCtx
	id := s.cron.Schedule(sched, robfig.FuncJob(func() { s.fire(ctx, key) }))
	s.triggers[key] = id
	s.exprs[key] = expr
	return nil
}

// fire runs on robfig's goroutine. A failed run only affects its own
// timezone; the orchestrator has already logged the cause.
func (s *Scheduler) fire(ctx context.Context, key TriggerKey) {
	if s.metrics != nil {
		s.metrics.TriggerFired(string(key.Event))
	}
	if err := s.runner.Run(ctx, key.Event, key.Timezone); err != nil {
		s.logger.Debug("run failed",
			zap.String("event", string(key.Event)),
			zap.String("timezone", key.Timezone),
			zap.Error(err))
	}
}

// Start begins evaluating the registered triggers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", zap.Int("triggers", len(s.triggers)))
}

// Stop removes every trigger and waits for running deliveries to finish.
// When ctx ends first, running deliveries are cancelled and ctx.Err() is
// returned. The scheduler can be initialized again afterwards.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancelRuns := s.cron, s.cancelRuns
	s.reset()
	if s.metrics != nil {
		s.metrics.TriggersRegistered(0)
	}
	s.mu.Unlock()

	defer cancelRuns()
	select {
	case <-c.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, cancelling running deliveries")
		return ctx.Err()
	}
}

// Triggers returns the registered triggers ordered by event then timezone.
func (s *Scheduler) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Trigger, 0, len(s.triggers))
	for key, id := range s.triggers {
		out = append(out, Trigger{
			TriggerKey: key,
			Expression: s.exprs[key],
			Next:       s.cron.Entry(id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Event != out[j].Event {
			return out[i].Event < out[j].Event
		}
		return out[i].Timezone < out[j].Timezone
	})
	return out
}
