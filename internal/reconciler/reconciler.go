// Package reconciler re-publishes delivery records stuck in on_going.
//
// A record stays on_going when its queue message never reached a consumer,
// for example when the broker lost it. Records are re-published to the delivery queue and touched so the
// next cycle skips them until the threshold passes again. A record already
// in success is protected by the store's status guard.
package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/domain"
)

// Store fetches and touches stale records.
type Store interface {
	GetStaleDeliveries(ctx context.Context, olderThan time.Time, limit int) ([]domain.DeliveryRecord, error)
	TouchDelivery(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Publisher publishes a record to the delivery queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any, headers map[string]any) error
}

// MetricsSink records reconciler metrics.
type MetricsSink interface {
	StaleRecordsUpdate(count int)
	RecordsRepublished(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is the age after which an on_going record is considered stale.
	Threshold time.Duration

	// BatchSize caps the records handled per cycle.
	BatchSize int

	// Queue is the delivery queue records are re-published to.
	Queue string
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
		Queue:     "greeting_message",
	}
}

type Reconciler struct {
	config    Config
	store     Store
	publisher Publisher
	logger    *zap.Logger
	metrics   MetricsSink // optional
	clock     func() time.Time
}

func New(config Config, store Store, publisher Publisher, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		config:    config,
		store:     store,
		publisher: publisher,
		logger:    logger.With(zap.String("component", "reconciler"), zap.String("queue", config.Queue)),
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run runs one cycle immediately, then one per interval, until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("threshold", r.config.Threshold),
		zap.Int("batch", r.config.BatchSize))

	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	olderThan := now.Add(-r.config.Threshold)

	stale, err := r.store.GetStaleDeliveries(ctx, olderThan, r.config.BatchSize)
	if err != nil {
		r.logger.Error("failed to fetch stale deliveries", zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.StaleRecordsUpdate(len(stale))
	}
	if len(stale) == 0 {
		return
	}

	r.logger.Info("found stale deliveries", zap.Int("count", len(stale)))

	republished, failed := 0, 0
	for _, rec := range stale {
		if ctx.Err() != nil {
			r.logger.Info("cycle interrupted", zap.Int("processed", republished+failed), zap.Int("total", len(stale)))
			break
		}

		log := r.logger.With(zap.String("delivery_id", rec.ID.String()), zap.String("event", string(rec.Event)))

		if err := r.publisher.Publish(ctx, r.config.Queue, rec, nil); err != nil {
			log.Warn("failed to re-publish delivery", zap.Error(err))
			failed++
			continue
		}
		if err := r.store.TouchDelivery(ctx, rec.ID, now); err != nil {
			// Published anyway; the next cycle may publish it again.
			log.Warn("failed to touch delivery", zap.Error(err))
		}
		log.Debug("re-published delivery", zap.Duration("age", now.Sub(rec.CreatedAt).Round(time.Second)))
		republished++
	}

	if r.metrics != nil && republished > 0 {
		r.metrics.RecordsRepublished(republished)
	}
	r.logger.Info("cycle complete", zap.Int("republished", republished), zap.Int("failed", failed))
}
