package graph

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestFunctionalOptions_ConfigureEngine(t *testing.T) {
	engine, err := New(nil, nil, nil, nil,
		WithMaxConcurrentNodes(16),
		WithQueueDepth(2048),
		WithBackpressureTimeout(60*time.Second),
		WithDefaultNodeTimeout(10*time.Second),
		WithPerToolCallTimeout(5*time.Second),
		WithRunWallClockBudget(5*time.Minute),
		WithMaxSteps(100),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct {
		name string
		got  any
		want any
	}{
		{"MaxConcurrentNodes", engine.opts.MaxConcurrentNodes, 16},
		{"QueueDepth", engine.opts.QueueDepth, 2048},
		{"BackpressureTimeout", engine.opts.BackpressureTimeout, 60 * time.Second},
		{"DefaultNodeTimeout", engine.opts.DefaultNodeTimeout, 10 * time.Second},
		{"PerToolCallTimeout", engine.opts.PerToolCallTimeout, 5 * time.Second},
		{"RunWallClockBudget", engine.opts.RunWallClockBudget, 5 * time.Minute},
		{"MaxSteps", engine.opts.MaxSteps, 100},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestFunctionalOptions_DefaultQueueDepthAppliedWhenUnset(t *testing.T) {
	engine, err := New(nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if engine.opts.QueueDepth != defaultQueueDepth {
		t.Errorf("QueueDepth = %d, want default %d", engine.opts.QueueDepth, defaultQueueDepth)
	}
}

func TestWithQueueDepth_RejectsNonPositive(t *testing.T) {
	if _, err := New(nil, nil, nil, nil, WithQueueDepth(0)); err == nil {
		t.Fatal("expected an error for WithQueueDepth(0), got nil")
	}
	if _, err := New(nil, nil, nil, nil, WithQueueDepth(-1)); err == nil {
		t.Fatal("expected an error for WithQueueDepth(-1), got nil")
	}
}

func TestWithMetricsAndCostTracker(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())
	tracker := NewCostTracker("run-123", "USD")

	engine, err := New(nil, nil, nil, nil, WithMetrics(metrics), WithCostTracker(tracker))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if engine.opts.Metrics != metrics {
		t.Errorf("Metrics not wired through")
	}
	if engine.opts.CostTracker != tracker {
		t.Errorf("CostTracker not wired through")
	}
}
