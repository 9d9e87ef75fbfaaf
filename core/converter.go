// Package core holds the converters that turn one or more stateful traces
// into a new one. Every converter replays its inputs through a
// timectrl.Runner, keeps its incremental state private to one Convert
// call, and writes a single output trace.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/contact-traces/internal/logging"
	"github.com/signalsfoundry/contact-traces/internal/observability"
	"github.com/signalsfoundry/contact-traces/trace"
)

const tracerName = "github.com/signalsfoundry/contact-traces/core"

var (
	ErrMissingProperty = errors.New("missing trace property")
	ErrBadParameter    = errors.New("bad converter parameter")
	ErrFamilyMember    = errors.New("reachability family has no member for delay")
)

// Converter turns input traces into an output trace.
type Converter interface {
	Name() string
	Convert(ctx context.Context) error
}

// retractionCounter is implemented by converters that cancel pending
// events from a delay queue.
type retractionCounter interface {
	Retracted() int
}

// Run executes c inside a span, logs start and completion and records
// conversion metrics. metrics may be nil.
func Run(ctx context.Context, c Converter, log logging.Logger, metrics *observability.ConversionCollector) error {
	if log == nil {
		log = logging.Noop()
	}
	ctx, log = logging.WithRunLogger(ctx, log)
	log = log.With(logging.String("converter", c.Name()))
	ctx = logging.ContextWithLogger(ctx, log)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "convert/"+c.Name(),
		oteltrace.WithAttributes(
			attribute.String("converter", c.Name()),
			attribute.String("run_id", logging.RunIDFromContext(ctx)),
		))
	defer span.End()

	log.Info(ctx, "conversion started")
	metrics.ConversionStarted()
	start := time.Now()

	err := c.Convert(ctx)
	elapsed := time.Since(start)

	if rc, ok := c.(retractionCounter); ok {
		metrics.ObserveRetracted(c.Name(), rc.Retracted())
		span.SetAttributes(attribute.Int("events.retracted", rc.Retracted()))
	}

	status := observability.StatusOK
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = observability.StatusCanceled
	case err != nil:
		status = observability.StatusError
	}
	metrics.ObserveConversion(c.Name(), status, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error(ctx, "conversion failed", logging.Err(err), logging.Duration("elapsed", elapsed))
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	log.Info(ctx, "conversion finished", logging.Duration("elapsed", elapsed))
	return nil
}

// loggerFrom returns the logger Run stored on ctx, or a no-op logger.
func loggerFrom(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return logging.Noop()
}

func openInput[E, S any](store *trace.Store, typ trace.Type[E, S], name string) (*trace.Trace[E, S], error) {
	t, err := trace.Open(store, typ, name)
	if err != nil {
		return nil, fmt.Errorf("open input %q: %w", name, err)
	}
	return t, nil
}

func createOutput[E, S any](store *trace.Store, typ trace.Type[E, S], name string) (*trace.Writer[E, S], error) {
	w, err := trace.Create(store, typ, name)
	if err != nil {
		return nil, fmt.Errorf("create output %q: %w", name, err)
	}
	return w, nil
}

// intProperty reads an integer property, mapping absence to
// ErrMissingProperty.
func intProperty(props trace.Properties, key string) (int64, error) {
	v, err := props.Int(key)
	if trace.IsMissing(err) {
		return 0, fmt.Errorf("%w: %s", ErrMissingProperty, key)
	}
	return v, err
}

// stepOf returns the trace's eta, or 1 when unset.
func stepOf(props trace.Properties) int64 {
	if eta := props.IntOr(trace.PropEta, 1); eta > 0 {
		return eta
	}
	return 1
}

// copyProperties copies the listed keys that are present in from.
func copyProperties[E, S any](w *trace.Writer[E, S], from trace.Properties, keys ...string) {
	for _, k := range keys {
		if v, ok := from.Get(k); ok {
			w.SetProperty(k, v)
		}
	}
}

// ensureInit sets the writer's initial state if that has not happened yet.
func ensureInit[E, S any](w *trace.Writer[E, S], t int64, states func() []S) error {
	if w.InitStateSet() {
		return nil
	}
	var init []S
	if states != nil {
		init = states()
	}
	return w.SetInitState(t, init)
}

// span returns a runner step covering [min,max] in one increment, for
// converters that are purely event driven.
func span(minTime, maxTime int64) int64 {
	return max(maxTime-minTime, 1)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	return -floorDiv(-a, b)
}
