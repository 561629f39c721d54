package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, zap.NewNop())
	return sink, reg
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m.GetLabel(), labels) {
				return m
			}
		}
	}
	return nil
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	if m := findMetric(t, reg, name, labels); m != nil {
		return m.GetCounter().GetValue()
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	if m := findMetric(t, reg, name, nil); m != nil {
		return m.GetGauge().GetValue()
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_TriggerMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TriggersRegistered(6)
	sink.TriggerFired("birthday")
	sink.TriggerFired("birthday")

	if got := getGaugeValue(t, reg, "greeter_scheduler_triggers_registered"); got != 6 {
		t.Errorf("triggers_registered = %v, want 6", got)
	}
	got := getCounterValue(t, reg, "greeter_scheduler_trigger_firings_total", map[string]string{"event": "birthday"})
	if got != 2 {
		t.Errorf("trigger_firings_total{event=birthday} = %v, want 2", got)
	}
}

func TestPrometheusSink_RunCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunCompleted("birthday", 100*time.Millisecond, 3, nil)
	sink.RunCompleted("birthday", 100*time.Millisecond, 0, errors.New("db error"))

	ok := getCounterValue(t, reg, "greeter_orchestrator_runs_total", map[string]string{"event": "birthday", "result": "ok"})
	failed := getCounterValue(t, reg, "greeter_orchestrator_runs_total", map[string]string{"event": "birthday", "result": "error"})
	if ok != 1 || failed != 1 {
		t.Errorf("runs_total ok=%v error=%v, want 1 and 1", ok, failed)
	}
	published := getCounterValue(t, reg, "greeter_orchestrator_drafts_published_total", map[string]string{"event": "birthday"})
	if published != 3 {
		t.Errorf("drafts_published_total = %v, want 3", published)
	}
}

func TestPrometheusSink_MessageSettled(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.MessageSettled("greeting.delivery", "acked")
	sink.MessageSettled("greeting.delivery", "dead_lettered")
	sink.MessageSettled("greeting.delivery", "acked")

	acked := getCounterValue(t, reg, "greeter_broker_messages_settled_total",
		map[string]string{"queue": "greeting.delivery", "outcome": "acked"})
	if acked != 2 {
		t.Errorf("outcome=acked = %v, want 2", acked)
	}
	dlq := getCounterValue(t, reg, "greeter_broker_messages_settled_total",
		map[string]string{"queue": "greeting.delivery", "outcome": "dead_lettered"})
	if dlq != 1 {
		t.Errorf("outcome=dead_lettered = %v, want 1", dlq)
	}
}

func TestPrometheusSink_DeliveryAttemptLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryAttemptCompleted("email", StatusClass2xx, 100*time.Millisecond)
	sink.DeliveryAttemptCompleted("email", StatusClass5xx, 200*time.Millisecond)

	for _, class := range []string{StatusClass2xx, StatusClass5xx} {
		got := getCounterValue(t, reg, "greeter_dispatcher_delivery_attempts_total",
			map[string]string{"method": "email", "status_class": class})
		if got != 1 {
			t.Errorf("method=email,status_class=%s = %v, want 1", class, got)
		}
	}
}

func TestPrometheusSink_MessagesInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.MessagesInFlightIncr()
	sink.MessagesInFlightIncr()
	sink.MessagesInFlightDecr()

	if got := getGaugeValue(t, reg, "greeter_dispatcher_messages_in_flight"); got != 1 {
		t.Errorf("messages_in_flight = %v, want 1", got)
	}
}

func TestPrometheusSink_LeaderStatus(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	if got := getGaugeValue(t, reg, "greeter_leader_is_leader"); got != 1 {
		t.Errorf("is_leader = %v, want 1", got)
	}
	sink.LeaderStatusChanged(false)
	if got := getGaugeValue(t, reg, "greeter_leader_is_leader"); got != 0 {
		t.Errorf("is_leader = %v, want 0", got)
	}

	sink.LeaderLost("heartbeat_failed")
	got := getCounterValue(t, reg, "greeter_leader_lost_total", map[string]string{"reason": "heartbeat_failed"})
	if got != 1 {
		t.Errorf("leader_lost_total = %v, want 1", got)
	}
}

func TestPrometheusSink_DuplicateRegistration_Logged(t *testing.T) {
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zap.WarnLevel)

	NewPrometheusSink(reg, zap.NewNop())
	sink := NewPrometheusSink(reg, zap.New(core))
	if sink == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
	if logs.FilterMessage("failed to register metric").Len() == 0 {
		t.Error("expected duplicate registrations to be logged")
	}
}
