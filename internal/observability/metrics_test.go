package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveConversionRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("NewConversionCollector: %v", err)
	}

	collector.ConversionStarted()
	if got := testutil.ToFloat64(collector.InFlight); got != 1 {
		t.Fatalf("dtntrace_conversions_in_flight = %v, want 1", got)
	}
	collector.ObserveConversion("buffer_edges", StatusOK, 20*time.Millisecond)

	if got := testutil.ToFloat64(collector.InFlight); got != 0 {
		t.Fatalf("dtntrace_conversions_in_flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(collector.Conversions.WithLabelValues("buffer_edges", StatusOK)); got != 1 {
		t.Fatalf("dtntrace_conversions_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "dtntrace_conversion_duration_seconds", map[string]string{
		"converter": "buffer_edges",
	}); count != 1 {
		t.Fatalf("dtntrace_conversion_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestWriteObserverCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("NewConversionCollector: %v", err)
	}

	collector.EventsWritten("groups", 3)
	collector.EventsWritten("groups", 2)
	collector.EventsWritten("groups", 0)
	collector.ObserveRetracted("flooding", 4)

	if got := testutil.ToFloat64(collector.Written.WithLabelValues("groups")); got != 5 {
		t.Fatalf("dtntrace_events_written_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.Retracted.WithLabelValues("flooding")); got != 4 {
		t.Fatalf("dtntrace_events_retracted_total = %v, want 4", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("NewConversionCollector: %v", err)
	}
	second, err := NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("second NewConversionCollector: %v", err)
	}
	first.EventsWritten("edges", 1)
	second.EventsWritten("edges", 1)
	if got := testutil.ToFloat64(first.Written.WithLabelValues("edges")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *ConversionCollector
	c.ConversionStarted()
	c.ObserveConversion("x", StatusError, time.Second)
	c.EventsWritten("edges", 1)
	c.ObserveRetracted("x", 1)
}

func TestMetricsHandlerExposesConversionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewConversionCollector(reg)
	if err != nil {
		t.Fatalf("NewConversionCollector: %v", err)
	}
	collector.ObserveConversion("connected_components", StatusError, time.Millisecond)
	collector.EventsWritten("groups", 7)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"dtntrace_conversions_total",
		"dtntrace_conversion_duration_seconds",
		"dtntrace_events_written_total",
		"dtntrace_conversions_in_flight",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, `trace_type="groups"} 7`) {
		t.Fatalf("/metrics output missing events written value: %s", body)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
