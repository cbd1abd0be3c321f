package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/gbPagano/courier"

// Tracer returns the courier tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// PipelineTracer starts spans tagged with a pipeline's name and strategy.
type PipelineTracer struct {
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

// NewPipelineTracer creates a tracer for one pipeline.
func NewPipelineTracer(pipeline, strategy string) *PipelineTracer {
	return &PipelineTracer{
		tracer: Tracer(),
		attrs: []attribute.KeyValue{
			attribute.String("courier.pipeline", pipeline),
			attribute.String("courier.strategy", strategy),
		},
	}
}

// Trace runs fn inside a span called operation and records its error.
func (pt *PipelineTracer) Trace(ctx context.Context, operation string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := pt.tracer.Start(ctx, operation, trace.WithAttributes(pt.attrs...), trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
