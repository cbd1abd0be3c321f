package pipeline

import (
	"context"
	"time"

	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/metrics"
	"github.com/gbPagano/courier/pkg/observability"
	"go.uber.org/zap"
)

// IntervalOperation fetches one record per period and sends it to one sink.
type IntervalOperation[S, D any] struct {
	name    string
	reader  core.Reader[S]
	sink    Sink[S]
	period  time.Duration
	logger  *zap.Logger
	metrics *metrics.Pipeline
	tracer  *observability.PipelineTracer
}

// NewIntervalOperation creates an interval poll from reader to writer.
func NewIntervalOperation[S, D any](name string, reader core.Reader[S], writer core.Writer[D], convert func(S) D, period time.Duration, opts ...Option) *IntervalOperation[S, D] {
	o := buildOptions(opts)
	return &IntervalOperation[S, D]{
		name:    name,
		reader:  reader,
		sink:    BindWriter(o.sinkName, writer, convert),
		period:  period,
		logger:  o.logger.With(zap.String("pipeline", name), zap.String("strategy", StrategyInterval)),
		metrics: metrics.ForPipeline(name),
		tracer:  observability.NewPipelineTracer(name, StrategyInterval),
	}
}

// Name implements Operation.
func (o *IntervalOperation[S, D]) Name() string { return o.name }

// Strategy implements Operation.
func (o *IntervalOperation[S, D]) Strategy() string { return StrategyInterval }

// Run executes one cycle per tick until ctx is done.
func (o *IntervalOperation[S, D]) Run(ctx context.Context) error {
	o.logger.Info("starting interval poll", zap.Duration("interval", o.period))

	ticker := NewDelayTicker(o.period)
	for {
		if err := ticker.Tick(ctx); err != nil {
			o.logger.Info("interval poll stopped")
			return nil
		}
		o.cycle(ctx)
	}
}

func (o *IntervalOperation[S, D]) cycle(ctx context.Context) {
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
		err = o.tracer.Trace(ctx, "write", func(ctx context.Context) error {
			return o.sink.Send(ctx, v)
		})
		o.metrics.Written(o.sink.Name, err)
		if err != nil {
			o.logger.Error("failed to send data", errorFields(err)...)
		}
	}

	finishCycle(o.logger, o.metrics, timer.Stop(), o.period)
}

// Close implements Operation.
func (o *IntervalOperation[S, D]) Close() error {
	return closeAll(o.reader, o.sink.closer)
}

// finishCycle records a cycle's duration and warns when it overran.
func finishCycle(log *zap.Logger, m *metrics.Pipeline, elapsed, period time.Duration) {
	overrun := elapsed > period
	m.Cycle(elapsed, overrun)
	if overrun {
		log.Warn("cycle took longer than interval",
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", period))
		return
	}
	log.Debug("cycle finished", zap.Duration("elapsed", elapsed))
}
