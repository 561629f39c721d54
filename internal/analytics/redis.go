// Package analytics keeps daily delivery counters in Redis.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/domain"
)

// DefaultRetention is how long a daily counter is kept.
const DefaultRetention = 30 * 24 * time.Hour

const keyPrefix = "greeter:deliveries"

// RedisSink increments one counter per (day, event, method, outcome).
// Writes are best-effort: failures are logged and never returned to the
// delivery path.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewRedisSink(client *redis.Client, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		logger:    logger,
		now:       time.Now,
	}
}

// WithRetention overrides DefaultRetention.
func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	s.retention = d
	return s
}

// Record counts one settled delivery of rec with the given outcome.
func (s *RedisSink) Record(ctx context.Context, rec domain.DeliveryRecord, outcome string) {
	if err := s.Write(ctx, rec, outcome); err != nil {
		s.logger.Warn("analytics write failed",
			zap.String("delivery_id", rec.ID.String()),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
	}
}

func (s *RedisSink) Write(ctx context.Context, rec domain.DeliveryRecord, outcome string) error {
	key := buildKey(s.now(), rec.Event, rec.Method, outcome)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Count returns the counter for the UTC day containing day.
func (s *RedisSink) Count(ctx context.Context, day time.Time, event domain.EventType, method domain.DeliveryMethod, outcome string) (int64, error) {
	n, err := s.client.Get(ctx, buildKey(day, event, method, outcome)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func buildKey(t time.Time, event domain.EventType, method domain.DeliveryMethod, outcome string) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", keyPrefix, t.UTC().Format("20060102"), event, method, outcome)
}
