// Package dispatcher consumes delivery records from the queue, sends them
// over their delivery method and writes the resulting status back.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sulthonmb/greeting-app/internal/broker"
	"github.com/sulthonmb/greeting-app/internal/domain"
	"github.com/sulthonmb/greeting-app/internal/metrics"
)

var (
	// ErrMessageParseFailed marks a queue body that is not a delivery record.
	ErrMessageParseFailed = errors.New("message parse failed")
	// ErrDeliveryTransportFailed marks a failed send over a delivery method.
	ErrDeliveryTransportFailed = errors.New("delivery transport failed")
	// ErrUnsupportedMethod marks a record whose method has no transport.
	ErrUnsupportedMethod = errors.New("unsupported delivery method")
	// ErrStatusTransitionDenied is returned by Store when the record is
	// already in success.
	ErrStatusTransitionDenied = errors.New("status transition denied: delivery already succeeded")
)

// Store writes delivery status.
type Store interface {
	// UpdateDeliveryStatus sets the status of rec's history row, creating
	// the row from rec when the producer has not inserted it yet. It MUST
	// refuse to move a record out of success and return
	// ErrStatusTransitionDenied, so redelivered messages cannot regress it.
	UpdateDeliveryStatus(ctx context.Context, rec domain.DeliveryRecord, status domain.DeliveryStatus) error
}

type EmailSender interface {
	Send(ctx context.Context, req EmailRequest) EmailResult
}

type AnalyticsSink interface {
	Record(ctx context.Context, rec domain.DeliveryRecord, outcome string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(method, statusClass string, duration time.Duration)
	DeliveryOutcome(method, outcome string)
	MessagesInFlightIncr()
	MessagesInFlightDecr()
}

type EmailRequest struct {
	Email         string `json:"email"`
	Message       string `json:"message"`
	CorrelationID string `json:"-"`
}

type EmailResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r EmailResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Err describes a failed result, nil on success.
func (r EmailResult) Err() error {
	switch {
	case r.Error != nil:
		return fmt.Errorf("%w: %v", ErrDeliveryTransportFailed, r.Error)
	case !r.IsSuccess():
		return fmt.Errorf("%w: unexpected status %d", ErrDeliveryTransportFailed, r.StatusCode)
	default:
		return nil
	}
}

type Dispatcher struct {
	store     Store
	email     EmailSender
	logger    *zap.Logger
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
}

func New(store Store, email EmailSender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		email:  email,
		logger: logger.With(zap.String("component", "dispatcher")),
	}
}

func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Handle is the broker.Handler for the delivery queue.
func (d *Dispatcher) Handle(ctx context.Context, correlationID string, body []byte, meta broker.Metadata) broker.Decision {
	if d.metrics != nil {
		d.metrics.MessagesInFlightIncr()
		defer d.metrics.MessagesInFlightDecr()
	}

	log := d.logger.With(
		zap.String("correlation_id", correlationID),
		zap.Int("retry_count", meta.RetryCount),
	)

	rec, err := parseRecord(body)
	if err != nil {
		log.Error("dropping unreadable message", zap.Error(err))
		return broker.NackTerminal
	}

	log = log.With(
		zap.String("delivery_id", rec.ID.String()),
		zap.String("subject", rec.SubjectID),
		zap.String("event", string(rec.Event)),
		zap.String("method", string(rec.Method)),
	)

	switch rec.Method {
	case domain.DeliveryMethodEmail:
		return d.sendEmail(ctx, rec, correlationID, log)
	default:
		log.Warn("no transport for delivery method", zap.Error(ErrUnsupportedMethod))
		d.finish(ctx, rec, domain.DeliveryStatusFailed, log)
		return broker.NackTerminal
	}
}

func (d *Dispatcher) sendEmail(ctx context.Context, rec domain.DeliveryRecord, correlationID string, log *zap.Logger) broker.Decision {
	result := d.email.Send(ctx, EmailRequest{
		Email:         rec.SentTo,
		Message:       rec.Message,
		CorrelationID: correlationID,
	})

	if d.metrics != nil {
		d.metrics.DeliveryAttemptCompleted(string(rec.Method), metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
	}

	if result.IsSuccess() {
		log.Info("greeting delivered", zap.Duration("duration", result.Duration))
		d.finish(ctx, rec, domain.DeliveryStatusSuccess, log)
		return broker.Ack
	}

	log.Warn("greeting delivery failed", zap.Error(result.Err()), zap.Int("status_code", result.StatusCode))
	if denied := d.finish(ctx, rec, domain.DeliveryStatusFailed, log); denied {
		// An earlier attempt already delivered this record.
		return broker.Ack
	}
	return broker.NackRetryable
}

// finish writes the terminal status and reports whether the store refused
// it because the record had already succeeded. Other store errors are
// logged; the queue decision does not depend on them.
func (d *Dispatcher) finish(ctx context.Context, rec domain.DeliveryRecord, status domain.DeliveryStatus, log *zap.Logger) bool {
	outcome := string(status)
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(string(rec.Method), outcome)
	}
	if d.analytics != nil {
		d.analytics.Record(ctx, rec, outcome)
	}

	err := d.store.UpdateDeliveryStatus(ctx, rec, status)
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStatusTransitionDenied):
		log.Info("delivery already succeeded, status left unchanged", zap.String("status", outcome))
		return true
	default:
		log.Error("failed to update delivery status", zap.String("status", outcome), zap.Error(err))
		return false
	}
}

func parseRecord(body []byte) (domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return domain.DeliveryRecord{}, fmt.Errorf("%w: %v", ErrMessageParseFailed, err)
	}
	if rec.ID == uuid.Nil {
		return domain.DeliveryRecord{}, fmt.Errorf("%w: missing uuid", ErrMessageParseFailed)
	}
	return rec, nil
}
