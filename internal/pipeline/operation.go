// Package pipeline provides the three operation variants courier runs: a
// stream relay, an interval poll and an interval fan-out.
//
// # Overview
//
// An operation owns one source and one or more sinks and loops until its
// context is cancelled:
//   - StreamOperation forwards every item of a continuous source, in order,
//     one send per item.
//   - IntervalOperation fetches once per period and sends the record to one
//     sink.
//   - IntervalFanoutOperation fetches once per period and sends a copy of the
//     record to every sink concurrently.
//
// Failures inside a cycle or for a single item are logged and the cycle or
// item is abandoned; they never stop the operation. Delivery is at most once.
//
// # Basic Usage
//
//	op := pipeline.NewIntervalOperation("api->kafka", reader, writer,
//	    record.Keyed[Quote]("quote"), 5*time.Second)
//	err := op.Run(ctx)
//
// Typed operations are built directly by Go callers; the compiler builds the
// same operations over erased values with conversions resolved from the
// record registry.
package pipeline

import (
	"context"

	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/logger"
	"go.uber.org/zap"
)

// Strategy names, as they appear in configuration and logs.
const (
	StrategyStream         = "Stream"
	StrategyInterval       = "Interval"
	StrategyIntervalFanout = "IntervalFanout"
)

// Operation is one independently running pipeline.
type Operation interface {
	// Name is the diagnostic name from configuration.
	Name() string
	// Strategy is one of the Strategy constants.
	Strategy() string
	// Run loops until ctx is done. It returns nil on cancellation and on
	// silent termination; a non-nil error asks the supervisor to stop every
	// operation.
	Run(ctx context.Context) error
	// Close releases the operation's connectors.
	Close() error
}

// ErrStreamEnded is returned by a stream relay whose source ended while
// configured with EndShutdown.
var ErrStreamEnded = errors.New(errors.ErrorTypeInternal, "stream ended unexpectedly")

// EndPolicy decides what a stream relay does when its source ends.
type EndPolicy int

const (
	// EndStop logs a warning and returns nil; sibling operations keep running.
	EndStop EndPolicy = iota
	// EndShutdown returns ErrStreamEnded so the supervisor stops everything.
	EndShutdown
)

// Option configures an operation.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	endPolicy EndPolicy
	sinkName  string
}

func buildOptions(opts []Option) options {
	o := options{endPolicy: EndStop, sinkName: "sink"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}
	return o
}

// WithLogger sets the base logger. Pipeline and strategy fields are added.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithEndPolicy sets what a stream relay does when its source ends.
func WithEndPolicy(p EndPolicy) Option {
	return func(o *options) { o.endPolicy = p }
}

// WithSinkName sets the label single-sink operations use for their sink in
// metrics and logs.
func WithSinkName(name string) Option {
	return func(o *options) { o.sinkName = name }
}

// Sink is a writer bound to the conversion from the operation's source
// record type.
type Sink[S any] struct {
	Name   string
	send   func(ctx context.Context, v S) error
	closer any
}

// Send converts v and writes it.
func (s Sink[S]) Send(ctx context.Context, v S) error { return s.send(ctx, v) }

// BindWriter binds w to the conversion from S.
func BindWriter[S, D any](name string, w core.Writer[D], convert func(S) D) Sink[S] {
	return Sink[S]{
		Name: name,
		send: func(ctx context.Context, v S) error {
			return w.Write(ctx, convert(v))
		},
		closer: w,
	}
}

// closeAll closes every connector and joins the errors.
func closeAll(connectors ...any) error {
	var errs []error
	for _, c := range connectors {
		if err := core.Close(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func errorFields(err error) []zap.Field {
	return []zap.Field{
		zap.Error(err),
		zap.String("error_type", string(errors.TypeOf(err))),
		zap.Bool("retryable", errors.IsRetryable(err)),
	}
}
