package http

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetricsRegistersAllSeries(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "ok").Inc()
	m.ApprovalOutcomes.WithLabelValues("approved").Inc()
	m.ZombiePrevented.Inc()
	m.PolicyReloadsTotal.WithLabelValues("ok").Inc()
	m.BytesForwarded.Add(42)
	m.EvaluationDuration.Observe(0.01)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"thoughtgate_requests_total",
		"thoughtgate_request_duration_seconds",
		"thoughtgate_policy_evaluation_duration_seconds",
		"thoughtgate_approval_outcomes_total",
		"thoughtgate_zombie_executions_prevented_total",
		"thoughtgate_policy_reloads_total",
		"thoughtgate_stream_bytes_forwarded_total",
	} {
		if !names[want] {
			t.Errorf("missing registered metric %q", want)
		}
	}
}

func TestMetricsCounterIncrementsValue(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ZombiePrevented.Inc()
	m.ZombiePrevented.Inc()

	var out dto.Metric
	if err := m.ZombiePrevented.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if out.GetCounter().GetValue() != 2 {
		t.Errorf("ZombiePrevented = %v, want 2", out.GetCounter().GetValue())
	}
}
