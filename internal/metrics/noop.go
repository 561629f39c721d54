package metrics

import "time"

// NoopSink is a no-op implementation of Sink, used when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggersRegistered(count int)                                         {}
func (n *NoopSink) TriggerFired(event string)                                            {}
func (n *NoopSink) RunCompleted(event string, d time.Duration, published int, err error) {}
func (n *NoopSink) CohortSize(event string, size int)                                    {}
func (n *NoopSink) PublishFailed(event string)                                           {}
func (n *NoopSink) PersistenceFailed(event string)                                       {}
func (n *NoopSink) MessageSettled(queue, outcome string)                                 {}
func (n *NoopSink) BrokerReconnected()                                                   {}
func (n *NoopSink) DeliveryAttemptCompleted(method, class string, d time.Duration)       {}
func (n *NoopSink) DeliveryOutcome(method, outcome string)                               {}
func (n *NoopSink) MessagesInFlightIncr()                                                {}
func (n *NoopSink) MessagesInFlightDecr()                                                {}
func (n *NoopSink) StaleRecordsUpdate(count int)                                         {}
func (n *NoopSink) RecordsRepublished(count int)                                         {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                    {}
func (n *NoopSink) LeaderAcquired()                                                      {}
func (n *NoopSink) LeaderLost(reason string)                                             {}

var (
	_ Sink = (*NoopSink)(nil)
	_ Sink = (*PrometheusSink)(nil)
)
