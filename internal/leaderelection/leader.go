// Package leaderelection elects one greeter replica to own the schedule
// triggers, using a Postgres session-scoped advisory lock.
//
// The lock lives as long as the dedicated connection that took it. There is
// no TTL; when the connection dies Postgres releases the lock server-side.
// The heartbeat ping only detects local connection death so the leader can
// stop firing triggers promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Reasons reported to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// MetricsSink records leader election metrics.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Session is a dedicated connection able to hold the advisory lock.
type Session interface {
	TryLock(ctx context.Context, key int64) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// SessionOpener opens a new Session.
type SessionOpener func(ctx context.Context) (Session, error)

// Elector runs the election loop.
type Elector struct {
	open              SessionOpener
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func(ctx context.Context)
	onDemoted         func()
	logger            *zap.Logger
	metrics           MetricsSink // optional
}

// New creates an Elector backed by db.
//
// onElected runs in its own goroutine once the lock is held; its context is
// cancelled when leadership is lost. onDemoted runs synchronously after that
// and must block until leader duties have stopped. It must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
	logger *zap.Logger,
) *Elector {
	return NewWithOpener(PostgresSessions(db), lockKey, retryInterval, heartbeatInterval, onElected, onDemoted, logger)
}

// NewWithOpener is New with an explicit session source.
func NewWithOpener(
	open SessionOpener,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
	logger *zap.Logger,
) *Elector {
	return &Elector{
		open:              open,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		logger:            logger.With(zap.String("component", "leader"), zap.Int64("lock_key", lockKey)),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("election loop started",
		zap.Duration("retry", e.retryInterval),
		zap.Duration("heartbeat", e.heartbeatInterval))
	defer e.logger.Info("election loop stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if reason := e.runOnce(ctx); reason != "" && ctx.Err() == nil {
			e.logger.Warn("lost leadership", zap.String("reason", reason), zap.Duration("retry_in", e.retryInterval))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce tries to take the lock and holds it until it is lost.
// It returns "" when the lock was not acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	sess, err := e.open(ctx)
	if err != nil {
		e.logger.Warn("failed to open dedicated connection", zap.Error(err))
		return ""
	}
	defer sess.Close()

	acquired, err := sess.TryLock(ctx, e.lockKey)
	if err != nil {
		e.logger.Warn("advisory lock query failed", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("lock held by another instance")
		return ""
	}

	e.logger.Info("acquired leadership")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, sess)

	cancelLeader()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	e.logger.Info("released leadership", zap.String("reason", reason))
	return reason
}

func (e *Elector) holdLock(ctx context.Context, sess Session) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := sess.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				e.logger.Warn("dedicated connection ping failed", zap.Error(err))
				return ReasonConnLost
			}
		}
	}
}

// PostgresSessions opens sessions as dedicated connections from db.
func PostgresSessions(db *sql.DB) SessionOpener {
	return func(ctx context.Context) (Session, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, err
		}
		return &pgSession{conn: conn}, nil
	}
}

type pgSession struct {
	conn *sql.Conn
}

func (s *pgSession) TryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	err := s.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	return acquired, err
}

func (s *pgSession) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *pgSession) Close() error {
	return s.conn.Close()
}
