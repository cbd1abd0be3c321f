package pipeline

import (
	"context"
	"time"

	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/metrics"
	"github.com/gbPagano/courier/pkg/observability"
	"go.uber.org/zap"
)

// StreamOperation relays every item of a continuous source to one sink.
// Items are converted and sent one at a time, in source order. A failed send
// is logged and the item dropped; the relay keeps going.
type StreamOperation[S, D any] struct {
	name      string
	reader    core.StreamReader[S]
	sink      Sink[S]
	endPolicy EndPolicy
	logger    *zap.Logger
	metrics   *metrics.Pipeline
	tracer    *observability.PipelineTracer
}

// NewStreamOperation creates a stream relay from reader to writer.
func NewStreamOperation[S, D any](name string, reader core.StreamReader[S], writer core.Writer[D], convert func(S) D, opts ...Option) *StreamOperation[S, D] {
	o := buildOptions(opts)
	return &StreamOperation[S, D]{
		name:      name,
		reader:    reader,
		sink:      BindWriter(o.sinkName, writer, convert),
		endPolicy: o.endPolicy,
		logger:    o.logger.With(zap.String("pipeline", name), zap.String("strategy", StrategyStream)),
		metrics:   metrics.ForPipeline(name),
		tracer:    observability.NewPipelineTracer(name, StrategyStream),
	}
}

// Name implements Operation.
func (o *StreamOperation[S, D]) Name() string { return o.name }

// Strategy implements Operation.
func (o *StreamOperation[S, D]) Strategy() string { return StrategyStream }

// Run consumes the source until it ends or ctx is done.
func (o *StreamOperation[S, D]) Run(ctx context.Context) error {
	o.logger.Info("starting stream relay")

	items := o.reader.Stream(ctx)
	waitStart := time.Now()
	for {
		var (
			item S
			ok   bool
		)
		select {
		case item, ok = <-items:
		case <-ctx.Done():
			o.logger.Info("stream relay stopped")
			return nil
		}

		if !ok {
			if ctx.Err() != nil {
				o.logger.Info("stream relay stopped")
				return nil
			}
			o.logger.Warn("stream ended unexpectedly")
			if o.endPolicy == EndShutdown {
				return errors.Wrap(ErrStreamEnded, errors.ErrorTypeInternal, "operation "+o.name)
			}
			return nil
		}

		o.logger.Debug("received item", zap.Duration("waited", time.Since(waitStart)))
		o.metrics.Read(nil)
		o.send(ctx, item)
		waitStart = time.Now()
	}
}

func (o *StreamOperation[S, D]) send(ctx context.Context, item S) {
	start := time.Now()
	err := o.tracer.Trace(ctx, "write", func(ctx context.Context) error {
		return o.sink.Send(ctx, item)
	})
	o.metrics.Written(o.sink.Name, err)

	if err != nil {
		o.logger.Error("failed to send item", errorFields(err)...)
		return
	}
	o.logger.Debug("item sent", zap.Duration("duration", time.Since(start)))
}

// Close implements Operation.
func (o *StreamOperation[S, D]) Close() error {
	return closeAll(o.reader, o.sink.closer)
}
