package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codelens/quotagate/adapters/metrics"
)

func TestNewWithRegistry(t *testing.T) {
	// Use a new registry to avoid conflicts with other tests
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m == nil {
		t.Fatal("NewWithRegistry returned nil")
	}
	if m.ChecksTotal == nil || m.RecordsTotal == nil || m.ConsumesTotal == nil {
		t.Error("decision metrics not initialized")
	}
	if m.DegradedChecks == nil || m.StoreErrors == nil || m.StoreDuration == nil {
		t.Error("store metrics not initialized")
	}
	if m.RequestsTotal == nil || m.RequestDuration == nil {
		t.Error("HTTP metrics not initialized")
	}
}

func TestCollector_CountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.ChecksTotal.WithLabelValues("allowed").Inc()
	m.ChecksTotal.WithLabelValues("degraded").Inc()
	m.DegradedChecks.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() == "quotagate_checks_total" {
			found = true
			if len(f.GetMetric()) != 2 {
				t.Errorf("expected 2 label combinations, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("quotagate_checks_total not gathered")
	}
}
