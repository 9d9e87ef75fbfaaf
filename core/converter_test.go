package core

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/internal/observability"
	"github.com/signalsfoundry/contact-traces/model"
	"github.com/signalsfoundry/contact-traces/trace"
)

func TestRunRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("NewConversionCollector: %v", err)
	}
	s := trace.NewStore(trace.WithObserver(metrics))
	writeTrace(t, s, trace.Edges, "edges", 0, 10, nil,
		[]model.Edge{model.NewEdge(1, 2)},
		[]trace.Timed[model.EdgeEvent]{edgeDown(2, 1, 2)})

	f := NewEdgesFlooding(s, "edges", "flood", 5, 100)
	if err := Run(context.Background(), f, logging.Noop(), metrics); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(metrics.Conversions.WithLabelValues("edges_flooding", observability.StatusOK)); got != 1 {
		t.Fatalf("ok conversions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Retracted.WithLabelValues("edges_flooding")); got != 2 {
		t.Fatalf("retracted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.Written.WithLabelValues("edges")); got != 1 {
		t.Fatalf("edges events written = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
}

func TestRunWrapsErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("NewConversionCollector: %v", err)
	}
	s := trace.NewStore()
	err = Run(context.Background(), NewEdgesToConnectedComponents(s, "missing", "cc"), nil, metrics)
	if !errors.Is(err, trace.ErrTraceNotFound) {
		t.Fatalf("err = %v, want ErrTraceNotFound", err)
	}
	if got := testutil.ToFloat64(metrics.Conversions.WithLabelValues("edges_to_connected_components", observability.StatusError)); got != 1 {
		t.Fatalf("failed conversions = %v, want 1", got)
	}
}

func TestRunReportsCancellation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("NewConversionCollector: %v", err)
	}
	s := trace.NewStore()
	writeTrace(t, s, trace.Edges, "edges", 0, 100, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = Run(ctx, NewEdgesToReachable(s, "edges", "reach", 1, 1), nil, metrics)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := testutil.ToFloat64(metrics.Conversions.WithLabelValues("edges_to_reachable", observability.StatusCanceled)); got != 1 {
		t.Fatalf("canceled conversions = %v, want 1", got)
	}
}
