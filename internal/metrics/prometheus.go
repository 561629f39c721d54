package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Scheduler
	triggersRegistered prometheus.Gauge
	triggerFirings     *prometheus.CounterVec

	// Orchestrator
	runsTotal          *prometheus.CounterVec
	runDuration        prometheus.Histogram
	draftsPublished    *prometheus.CounterVec
	cohortSize         *prometheus.HistogramVec
	publishFailures    *prometheus.CounterVec
	persistenceFailure *prometheus.CounterVec

	// Broker
	messagesSettled *prometheus.CounterVec
	reconnects      prometheus.Counter

	// Dispatcher
	deliveryAttempts *prometheus.CounterVec
	deliveryOutcomes *prometheus.CounterVec
	emailDuration    prometheus.Histogram
	inFlight         prometheus.Gauge

	// Reconciler
	staleRecords prometheus.Gauge
	republished  prometheus.Counter

	// Leader election
	isLeader        prometheus.Gauge
	leaderAcquired  prometheus.Counter
	leaderLostTotal *prometheus.CounterVec
}

func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger}
	s.initSchedulerMetrics(reg)
	s.initOrchestratorMetrics(reg)
	s.initBrokerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initReconcilerMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.triggersRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "greeter_scheduler_triggers_registered",
		Help: "Number of (event, timezone) triggers currently registered.",
	})
	s.triggerFirings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_scheduler_trigger_firings_total",
		Help: "Total number of trigger firings.",
	}, []string{"event"})

	s.register(reg, s.triggersRegistered, "greeter_scheduler_triggers_registered")
	s.register(reg, s.triggerFirings, "greeter_scheduler_trigger_firings_total")
}

func (s *PrometheusSink) initOrchestratorMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_orchestrator_runs_total",
		Help: "Total number of (event, timezone) runs by result.",
	}, []string{"event", "result"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "greeter_orchestrator_run_duration_seconds",
		Help:    "Duration of one (event, timezone) run in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	})
	s.draftsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_orchestrator_drafts_published_total",
		Help: "Total number of delivery drafts published to the queue.",
	}, []string{"event"})
	s.cohortSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greeter_orchestrator_cohort_size",
		Help:    "Number of candidates selected per run.",
		Buckets: []float64{0, 1, 10, 100, 1000, 10000},
	}, []string{"event"})
	s.publishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_orchestrator_publish_failures_total",
		Help: "Total number of drafts that could not be published.",
	}, []string{"event"})
	s.persistenceFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_orchestrator_persistence_failures_total",
		Help: "Total number of failed history bulk inserts.",
	}, []string{"event"})

	s.register(reg, s.runsTotal, "greeter_orchestrator_runs_total")
	s.register(reg, s.runDuration, "greeter_orchestrator_run_duration_seconds")
	s.register(reg, s.draftsPublished, "greeter_orchestrator_drafts_published_total")
	s.register(reg, s.cohortSize, "greeter_orchestrator_cohort_size")
	s.register(reg, s.publishFailures, "greeter_orchestrator_publish_failures_total")
	s.register(reg, s.persistenceFailure, "greeter_orchestrator_persistence_failures_total")
}

func (s *PrometheusSink) initBrokerMetrics(reg prometheus.Registerer) {
	s.messagesSettled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_broker_messages_settled_total",
		Help: "Total number of consumed messages by settlement outcome.",
	}, []string{"queue", "outcome"})
	s.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greeter_broker_reconnects_total",
		Help: "Total number of broker reconnects.",
	})

	s.register(reg, s.messagesSettled, "greeter_broker_messages_settled_total")
	s.register(reg, s.reconnects, "greeter_broker_reconnects_total")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.deliveryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_dispatcher_delivery_attempts_total",
		Help: "Total number of transport calls by method and status class.",
	}, []string{"method", "status_class"})
	s.deliveryOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_dispatcher_delivery_outcomes_total",
		Help: "Total number of delivery outcomes by method.",
	}, []string{"method", "outcome"})
	s.emailDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "greeter_dispatcher_transport_duration_seconds",
		Help:    "Transport call latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "greeter_dispatcher_messages_in_flight",
		Help: "Number of messages currently being handled.",
	})

	s.register(reg, s.deliveryAttempts, "greeter_dispatcher_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomes, "greeter_dispatcher_delivery_outcomes_total")
	s.register(reg, s.emailDuration, "greeter_dispatcher_transport_duration_seconds")
	s.register(reg, s.inFlight, "greeter_dispatcher_messages_in_flight")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.staleRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "greeter_reconciler_stale_records",
		Help: "Number of stale on_going records found in the last cycle.",
	})
	s.republished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greeter_reconciler_republished_total",
		Help: "Total number of stale records published again.",
	})

	s.register(reg, s.staleRecords, "greeter_reconciler_stale_records")
	s.register(reg, s.republished, "greeter_reconciler_republished_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "greeter_leader_is_leader",
		Help: "1 when this instance holds the scheduling lock.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "greeter_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "greeter_leader_lost_total",
		Help: "Total number of times leadership was lost by reason.",
	}, []string{"reason"})

	s.register(reg, s.isLeader, "greeter_leader_is_leader")
	s.register(reg, s.leaderAcquired, "greeter_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "greeter_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register metric", zap.String("metric", name), zap.Error(err))
	}
}

func (s *PrometheusSink) TriggersRegistered(count int) {
	s.triggersRegistered.Set(float64(count))
}

func (s *PrometheusSink) TriggerFired(event string) {
	s.triggerFirings.WithLabelValues(event).Inc()
}

func (s *PrometheusSink) RunCompleted(event string, duration time.Duration, published int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.runsTotal.WithLabelValues(event, result).Inc()
	s.runDuration.Observe(duration.Seconds())
	s.draftsPublished.WithLabelValues(event).Add(float64(published))
}

func (s *PrometheusSink) CohortSize(event string, size int) {
	s.cohortSize.WithLabelValues(event).Observe(float64(size))
}

func (s *PrometheusSink) PublishFailed(event string) {
	s.publishFailures.WithLabelValues(event).Inc()
}

func (s *PrometheusSink) PersistenceFailed(event string) {
	s.persistenceFailure.WithLabelValues(event).Inc()
}

func (s *PrometheusSink) MessageSettled(queue, outcome string) {
	s.messagesSettled.WithLabelValues(queue, outcome).Inc()
}

func (s *PrometheusSink) BrokerReconnected() {
	s.reconnects.Inc()
}

func (s *PrometheusSink) DeliveryAttemptCompleted(method, statusClass string, duration time.Duration) {
	s.deliveryAttempts.WithLabelValues(method, statusClass).Inc()
	s.emailDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(method, outcome string) {
	s.deliveryOutcomes.WithLabelValues(method, outcome).Inc()
}

func (s *PrometheusSink) MessagesInFlightIncr() {
	s.inFlight.Inc()
}

func (s *PrometheusSink) MessagesInFlightDecr() {
	s.inFlight.Dec()
}

func (s *PrometheusSink) StaleRecordsUpdate(count int) {
	s.staleRecords.Set(float64(count))
}

func (s *PrometheusSink) RecordsRepublished(count int) {
	s.republished.Add(float64(count))
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.isLeader.Set(1)
		return
	}
	s.isLeader.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
