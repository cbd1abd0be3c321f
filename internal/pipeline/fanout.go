package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/metrics"
	"github.com/gbPagano/courier/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Cloner is implemented by records that must not be shared between sinks.
type Cloner[S any] interface {
	Clone() S
}

// IntervalFanoutOperation fetches one record per period and sends an
// independent copy to every sink concurrently. A failing sink never affects
// the others; the cycle ends when every send has finished.
type IntervalFanoutOperation[S any] struct {
	name    string
	reader  core.Reader[S]
	sinks   []Sink[S]
	period  time.Duration
	clone   func(S) S
	logger  *zap.Logger
	metrics *metrics.Pipeline
	tracer  *observability.PipelineTracer
}

// NewIntervalFanoutOperation creates a fan-out with no sinks. Add sinks with
// AddWriter, WithWriter or AddSink before calling Run.
func NewIntervalFanoutOperation[S any](name string, reader core.Reader[S], period time.Duration, opts ...Option) *IntervalFanoutOperation[S] {
	o := buildOptions(opts)
	return &IntervalFanoutOperation[S]{
		name:    name,
		reader:  reader,
		period:  period,
		clone:   cloneIfCloner[S],
		logger:  o.logger.With(zap.String("pipeline", name), zap.String("strategy", StrategyIntervalFanout)),
		metrics: metrics.ForPipeline(name),
		tracer:  observability.NewPipelineTracer(name, StrategyIntervalFanout),
	}
}

// AddWriter binds w with its own conversion and appends it to op's sinks.
func AddWriter[S, D any](op *IntervalFanoutOperation[S], name string, w core.Writer[D], convert func(S) D) {
	op.AddSink(BindWriter(name, w, convert))
}

// WithWriter is AddWriter returning op, for chaining.
func WithWriter[S, D any](op *IntervalFanoutOperation[S], name string, w core.Writer[D], convert func(S) D) *IntervalFanoutOperation[S] {
	AddWriter(op, name, w, convert)
	return op
}

// AddSink appends an already bound sink.
func (o *IntervalFanoutOperation[S]) AddSink(s Sink[S]) {
	o.sinks = append(o.sinks, s)
}

// WithClone sets how the fetched record is copied for each sink. By default
// records implementing Cloner are cloned and others are shared.
func (o *IntervalFanoutOperation[S]) WithClone(fn func(S) S) *IntervalFanoutOperation[S] {
	o.clone = fn
	return o
}

// Sinks returns the number of bound sinks.
func (o *IntervalFanoutOperation[S]) Sinks() int { return len(o.sinks) }

// Name implements Operation.
func (o *IntervalFanoutOperation[S]) Name() string { return o.name }

// Strategy implements Operation.
func (o *IntervalFanoutOperation[S]) Strategy() string { return StrategyIntervalFanout }

// Run executes one cycle per tick until ctx is done. With no sinks it logs
// an error and idles until ctx is done.
func (o *IntervalFanoutOperation[S]) Run(ctx context.Context) error {
	if len(o.sinks) == 0 {
		o.logger.Error("fan-out has no writers; idling")
		<-ctx.Done()
		return nil
	}

	o.logger.Info("starting interval fan-out",
		zap.Duration("interval", o.period),
		zap.Int("writers", len(o.sinks)))

	ticker := NewDelayTicker(o.period)
	for {
		if err := ticker.Tick(ctx); err != nil {
			o.logger.Info("interval fan-out stopped")
			return nil
		}
		o.cycle(ctx)
	}
}

func (o *IntervalFanoutOperation[S]) cycle(ctx context.Context) {
	timer := metrics.NewTimer()
	o.logger.Info("reading data")

	var v S
	err := o.tracer.Trace(ctx, "read", func(ctx context.Context) error {
		var err error
		v, err = o.reader.Read(ctx)
		return err
	})
	o.metrics.Read(err)

	if err != nil {
		o.logger.Error("failed to read data", errorFields(err)...)
	} else {
		o.sendAll(ctx, v)
	}

	finishCycle(o.logger, o.metrics, timer.Stop(), o.period)
}

// sendAll sends a copy of v to every sink and waits for all of them.
func (o *IntervalFanoutOperation[S]) sendAll(ctx context.Context, v S) {
	var wg sync.WaitGroup
	for i, sink := range o.sinks {
		item := o.clone(v)
		wg.Add(1)
		go func(i int, sink Sink[S]) {
			defer wg.Done()
			err := o.tracer.Trace(ctx, "write", func(ctx context.Context) error {
				return sink.Send(ctx, item)
			}, attribute.String("courier.sink", sink.Name), attribute.Int("courier.sink_index", i))
			o.metrics.Written(sink.Name, err)
			if err != nil {
				o.logger.Error("failed to send data",
					append(errorFields(err), zap.Int("writer", i), zap.String("sink", sink.Name))...)
			}
		}(i, sink)
	}
	wg.Wait()
}

// Close implements Operation.
func (o *IntervalFanoutOperation[S]) Close() error {
	connectors := []any{o.reader}
	for _, s := range o.sinks {
		connectors = append(connectors, s.closer)
	}
	return closeAll(connectors...)
}

func cloneIfCloner[S any](v S) S {
	if c, ok := any(v).(Cloner[S]); ok {
		return c.Clone()
	}
	return v
}
