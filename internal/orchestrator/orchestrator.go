// Package orchestrator runs one (event, timezone) delivery: it selects the
// cohort, composes one draft per recipient and delivery method, publishes
// every draft to the delivery queue and persists the published drafts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/domain"
)

// ErrPersistenceFailed is returned when published drafts could not be
// written to the history. The queued messages stay valid.
var ErrPersistenceFailed = errors.New("persisting delivery history failed")

// ConfigSource loads the greeting configuration.
type ConfigSource interface {
	Load(ctx context.Context, name string) (domain.GreetingConfig, error)
}

// CohortSelector selects recipients from an already loaded configuration.
type CohortSelector interface {
	SelectFrom(ctx context.Context, cfg domain.GreetingConfig, event domain.EventType, tz string) ([]domain.Candidate, error)
}

// Composer renders drafts for one candidate.
type Composer interface {
	Compose(event domain.EventType, candidate domain.Candidate, template string, methods []domain.DeliveryMethod) []domain.DeliveryRecord
}

// Publisher publishes a payload to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any, headers map[string]any) error
}

// Store persists the history.
type Store interface {
	BulkInsertDeliveries(ctx context.Context, records []domain.DeliveryRecord) error
}

// MetricsSink records orchestrator metrics.
type MetricsSink interface {
	RunCompleted(event string, duration time.Duration, published int, err error)
	CohortSize(event string, size int)
	PublishFailed(event string)
	PersistenceFailed(event string)
}

type Config struct {
	ConfigName      string
	Queue           string
	RunTimeout      time.Duration
	DefaultEvent    domain.EventType
	DefaultTimezone string
}

type Orchestrator struct {
	config    Config
	configs   ConfigSource
	selector  CohortSelector
	composer  Composer
	publisher Publisher
	store     Store
	logger    *zap.Logger
	metrics   MetricsSink     // optional
	zones     func() []string // optional, needed for all-timezone triggers

	runs sync.WaitGroup
}

func New(
	config Config,
	configs ConfigSource,
	selector CohortSelector,
	composer Composer,
	publisher Publisher,
	store Store,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		config:    config,
		configs:   configs,
		selector:  selector,
		composer:  composer,
		publisher: publisher,
		store:     store,
		logger:    logger.With(zap.String("component", "orchestrator")),
	}
}

// WithMetrics attaches a metrics sink to the orchestrator.
func (o *Orchestrator) WithMetrics(sink MetricsSink) *Orchestrator {
	o.metrics = sink
	return o
}

// WithTimezones sets the timezone source used by Trigger with allTimezones.
func (o *Orchestrator) WithTimezones(zones func() []string) *Orchestrator {
	o.zones = zones
	return o
}

// Run performs one delivery run. An empty cohort is not an error. A failed
// publish excludes that draft and the run continues. Every failure is
// logged here; the returned error is for callers that report or count it.
func (o *Orchestrator) Run(ctx context.Context, event domain.EventType, tz string) error {
	if o.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	log := o.logger.With(zap.String("event", string(event)), zap.String("timezone", tz))

	published, err := o.run(ctx, event, tz, log)
	if o.metrics != nil {
		o.metrics.RunCompleted(string(event), time.Since(start), published, err)
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, event domain.EventType, tz string, log *zap.Logger) (int, error) {
	cfg, err := o.configs.Load(ctx, o.config.ConfigName)
	if err != nil {
		log.Error("skipping run: greeting config unavailable", zap.String("config", o.config.ConfigName), zap.Error(err))
		return 0, err
	}

	candidates, err := o.selector.SelectFrom(ctx, cfg, event, tz)
	if err != nil {
		log.Error("skipping run: cohort selection failed", zap.Error(err))
		return 0, err
	}
	if o.metrics != nil {
		o.metrics.CohortSize(string(event), len(candidates))
	}
	if len(candidates) == 0 {
		log.Debug("empty cohort")
		return 0, nil
	}

	template := cfg.MessageTemplates[event]
	methods := cfg.Delivery.Methods

	var batch []domain.DeliveryRecord
	for _, candidate := range candidates {
		for _, draft := range o.composer.Compose(event, candidate, template, methods) {
			if err := o.publisher.Publish(ctx, o.config.Queue, draft, nil); err != nil {
				log.Warn("draft not published, excluded from batch",
					zap.String("delivery_id", draft.ID.String()),
					zap.String("subject", draft.SubjectID),
					zap.Error(err))
				if o.metrics != nil {
					o.metrics.PublishFailed(string(event))
				}
				continue
			}
			batch = append(batch, draft)
		}
	}

	if len(batch) == 0 {
		log.Warn("no drafts published", zap.Int("cohort", len(candidates)))
		return 0, nil
	}

	if err := o.store.BulkInsertDeliveries(ctx, batch); err != nil {
		log.Error("published drafts not persisted", zap.Int("drafts", len(batch)), zap.Error(err))
		if o.metrics != nil {
			o.metrics.PersistenceFailed(string(event))
		}
		return len(batch), fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	log.Info("run complete", zap.Int("cohort", len(candidates)), zap.Int("published", len(batch)))
	return len(batch), nil
}

// Trigger starts runs in the background and returns at once; run outcomes
// are only logged. Empty event and timezone take the configured defaults.
// With allTimezones, one run is started per timezone.
func (o *Orchestrator) Trigger(ctx context.Context, event domain.EventType, tz string, allTimezones bool) {
	if event == "" {
		event = o.config.DefaultEvent
	}
	if tz == "" {
		tz = o.config.DefaultTimezone
	}

	zones := []string{tz}
	if allTimezones {
		if o.zones == nil {
			o.logger.Warn("no timezone source configured, triggering the given timezone only", zap.String("timezone", tz))
		} else {
			zones = o.zones()
		}
	}

	// Runs outlive the caller's request.
	runCtx := context.WithoutCancel(ctx)
	for _, zone := range zones {
		o.runs.Add(1)
		go func(zone string) {
			defer o.runs.Done()
			_ = o.Run(runCtx, event, zone)
		}(zone)
	}
	o.logger.Info("runs triggered", zap.String("event", string(event)), zap.Int("timezones", len(zones)))
}

// Wait blocks until every run started by Trigger has finished, or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
