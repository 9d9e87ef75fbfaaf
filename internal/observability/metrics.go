package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Conversion outcome labels.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// ConversionCollector bundles Prometheus metrics for trace conversions. It
// implements trace.WriteObserver so stores can report committed events.
type ConversionCollector struct {
	gatherer prometheus.Gatherer

	Conversions        *prometheus.CounterVec
	ConversionDuration *prometheus.HistogramVec
	Written            *prometheus.CounterVec
	Retracted          *prometheus.CounterVec
	InFlight           prometheus.Gauge
}

// NewConversionCollector registers conversion metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewConversionCollector(reg prometheus.Registerer) (*ConversionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	conversions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dtntrace_conversions_total",
		Help: "Total number of trace conversions, labeled by converter and outcome.",
	}, []string{"converter", "status"}), "dtntrace_conversions_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dtntrace_conversion_duration_seconds",
		Help:    "Wall-clock duration of trace conversions in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"converter"}), "dtntrace_conversion_duration_seconds")
	if err != nil {
		return nil, err
	}

	written, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dtntrace_events_written_total",
		Help: "Events committed to output traces, labeled by trace type.",
	}, []string{"trace_type"}), "dtntrace_events_written_total")
	if err != nil {
		return nil, err
	}

	retracted, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dtntrace_events_retracted_total",
		Help: "Pending events cancelled before delivery, labeled by converter.",
	}, []string{"converter"}), "dtntrace_events_retracted_total")
	if err != nil {
		return nil, err
	}

	inFlight, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dtntrace_conversions_in_flight",
		Help: "Number of conversions currently running.",
	}), "dtntrace_conversions_in_flight")
	if err != nil {
		return nil, err
	}

	return &ConversionCollector{
		gatherer:           gatherer,
		Conversions:        conversions,
		ConversionDuration: durations,
		Written:            written,
		Retracted:          retracted,
		InFlight:           inFlight,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *ConversionCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ConversionCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ConversionStarted bumps the in-flight gauge.
func (c *ConversionCollector) ConversionStarted() {
	if c == nil || c.InFlight == nil {
		return
	}
	c.InFlight.Inc()
}

// ObserveConversion records the outcome and duration of one conversion.
func (c *ConversionCollector) ObserveConversion(converter, status string, d time.Duration) {
	if c == nil {
		return
	}
	if c.InFlight != nil {
		c.InFlight.Dec()
	}
	if c.Conversions != nil {
		c.Conversions.WithLabelValues(converter, status).Inc()
	}
	if c.ConversionDuration != nil {
		c.ConversionDuration.WithLabelValues(converter).Observe(d.Seconds())
	}
}

// EventsWritten satisfies trace.WriteObserver.
func (c *ConversionCollector) EventsWritten(traceType string, n int) {
	if c == nil || c.Written == nil || n <= 0 {
		return
	}
	c.Written.WithLabelValues(traceType).Add(float64(n))
}

// ObserveRetracted records events cancelled from a converter's delay queue.
func (c *ConversionCollector) ObserveRetracted(converter string, n int) {
	if c == nil || c.Retracted == nil || n <= 0 {
		return
	}
	c.Retracted.WithLabelValues(converter).Add(float64(n))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
