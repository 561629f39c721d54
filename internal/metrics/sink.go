package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	TriggersRegistered(count int)
	TriggerFired(event string)

	// Orchestrator metrics
	RunCompleted(event string, duration time.Duration, published int, err error)
	CohortSize(event string, size int)
	PublishFailed(event string)
	PersistenceFailed(event string)

	// Broker metrics
	MessageSettled(queue, outcome string)
	BrokerReconnected()

	// Dispatcher metrics
	DeliveryAttemptCompleted(method, statusClass string, duration time.Duration)
	DeliveryOutcome(method, outcome string)
	MessagesInFlightIncr()
	MessagesInFlightDecr()

	// Reconciler metrics
	StaleRecordsUpdate(count int)
	RecordsRepublished(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassCircuitOpen     = "circuit_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a bounded status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "circuit breaker is open"):
			return StatusClassCircuitOpen
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		default:
			return StatusClassOtherError
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
