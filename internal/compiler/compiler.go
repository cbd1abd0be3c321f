// Package compiler turns a declarative Spec into runnable pipeline
// operations before any of them starts.
//
// Compilation has two phases. Plan resolves every reader and writer against
// the connector registry, checks strategy fields and source capability, and
// resolves a record conversion for every source and sink pair. It performs
// no I/O and reports every problem in the batch at once. Build then
// constructs the connectors, which is where network handles are opened and
// topics are subscribed. Both phases are all or nothing: a single failure
// yields zero operations, and Build closes whatever it had already opened.
package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/gbPagano/courier/internal/pipeline"
	"github.com/gbPagano/courier/pkg/config"
	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/connector/registry"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/logger"
	"github.com/gbPagano/courier/pkg/record"
	"go.uber.org/zap"
)

// Plan is one validated operation, ready to be built.
type Plan struct {
	Index     int
	Name      string
	Strategy  config.Strategy
	Period    time.Duration
	EndPolicy config.EndPolicy
	Source    SourcePlan
	Sinks     []SinkPlan
}

// SourcePlan is a resolved reader.
type SourcePlan struct {
	Spec    config.ReaderSpec
	Factory registry.SourceFactory
	Type    *record.Type
	Shape   record.Shape
}

// SinkPlan is a resolved writer and the conversion feeding it.
type SinkPlan struct {
	Name    string
	Spec    config.WriterSpec
	Factory registry.DestinationFactory
	Type    *record.Type
	Shape   record.Shape
	Convert record.Converter
}

// Compiler holds the registries a spec is resolved against.
type Compiler struct {
	connectors *registry.Registry
	types      *record.Registry
	base       *zap.Logger
	logger     *zap.Logger
}

// New creates a compiler. Nil registries fall back to the process-wide
// defaults.
func New(connectors *registry.Registry, types *record.Registry) *Compiler {
	if connectors == nil {
		connectors = registry.GetRegistry()
	}
	if types == nil {
		types = record.Default()
	}
	c := &Compiler{connectors: connectors, types: types}
	return c.WithLogger(logger.Get())
}

// WithLogger sets the logger used for compile diagnostics and handed to
// the built operations.
func (c *Compiler) WithLogger(l *zap.Logger) *Compiler {
	c.base = l
	c.logger = l.With(zap.String("component", "compiler"))
	return c
}

// Compile plans and builds spec.
func (c *Compiler) Compile(ctx context.Context, spec *config.Spec) ([]pipeline.Operation, error) {
	plans, err := c.Plan(spec)
	if err != nil {
		return nil, err
	}
	return c.Build(ctx, plans)
}

// Compile plans and builds spec against the default registries.
func Compile(ctx context.Context, spec *config.Spec) ([]pipeline.Operation, error) {
	return New(nil, nil).Compile(ctx, spec)
}

// Plan validates spec and resolves every operation. The returned error joins
// one entry per problem, each naming its operation.
func (c *Compiler) Plan(spec *config.Spec) ([]Plan, error) {
	if spec == nil || len(spec.Operations) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "no operations defined")
	}

	var (
		plans    = make([]Plan, 0, len(spec.Operations))
		problems []error
		seen     = make(map[string]int)
	)
	for i := range spec.Operations {
		op := &spec.Operations[i]
		if first, dup := seen[op.Name]; dup {
			c.logger.Warn("duplicate operation name",
				zap.String("pipeline", op.Name),
				zap.Int("index", i),
				zap.Int("first_index", first))
		} else {
			seen[op.Name] = i
		}

		p, errs := c.planOperation(i, op)
		if len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		plans = append(plans, p)
	}

	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}
	return plans, nil
}

func (c *Compiler) planOperation(i int, op *config.OperationSpec) (Plan, []error) {
	var problems []error
	fail := func(format string, args ...interface{}) {
		problems = append(problems, errors.Newf(errors.ErrorTypeConfig,
			"operation %q (#%d): %s", op.Name, i, fmt.Sprintf(format, args...)))
	}

	p := Plan{Index: i, Name: op.Name, Strategy: op.Type, EndPolicy: op.EndPolicy()}

	// strategy fields
	period, hasPeriod := op.Interval()
	var writers []config.WriterSpec
	switch op.Type {
	case config.StrategyStream:
		if hasPeriod {
			fail("interval_secs is not allowed for %s", op.Type)
		}
		switch op.OnStreamEnd {
		case "", config.EndPolicyStop, config.EndPolicyShutdown:
		default:
			fail("unknown on_stream_end %q", op.OnStreamEnd)
		}
	case config.StrategyInterval, config.StrategyIntervalFanout:
		switch {
		case !hasPeriod:
			fail("interval_secs is required for %s", op.Type)
		case *op.IntervalSecs > config.MaxIntervalSecs:
			fail("interval_secs %d exceeds the maximum of %d", *op.IntervalSecs, config.MaxIntervalSecs)
		case period <= 0:
			fail("interval_secs must be positive")
		}
		if op.OnStreamEnd != "" {
			fail("on_stream_end is only valid for %s", config.StrategyStream)
		}
		p.Period = period
	default:
		fail("unknown strategy %q (expected one of %v)", op.Type, config.Strategies)
	}

	switch op.Type {
	case config.StrategyStream, config.StrategyInterval:
		if len(op.Writers) > 0 {
			fail("%s takes a single writer, not writers", op.Type)
		}
		if op.Writer == nil {
			fail("writer is required")
		} else {
			writers = []config.WriterSpec{*op.Writer}
		}
	case config.StrategyIntervalFanout:
		if op.Writer != nil {
			fail("%s takes writers, not writer", op.Type)
		}
		if len(op.Writers) == 0 {
			fail("writers must not be empty")
		}
		writers = op.Writers
	}

	// source
	source, err := c.connectors.Source(op.Reader.Type)
	sourceOK := err == nil
	if err != nil {
		fail("reader: %v", err)
	} else {
		if source.Validate != nil {
			if err := source.Validate(&op.Reader); err != nil {
				fail("reader %s: %v", op.Reader.Type, err)
			}
		}
		want := registry.OneShot
		if op.Type == config.StrategyStream {
			want = registry.Continuous
		}
		if isStrategy(op.Type) && source.Capability() != want {
			fail("reader %s is %s but %s needs a %s source", op.Reader.Type, source.Capability(), op.Type, want)
			sourceOK = false
		}
	}
	sourceType, err := c.recordType(op.Reader.RecordType)
	if err != nil {
		fail("reader: %v", err)
		sourceOK = false
	}
	if sourceOK {
		p.Source = SourcePlan{Spec: op.Reader, Factory: source, Type: sourceType, Shape: source.Shape(sourceType)}
	}

	// sinks
	for j := range writers {
		w := writers[j]
		label := "writer"
		if op.Type == config.StrategyIntervalFanout {
			label = fmt.Sprintf("writers[%d]", j)
		}

		dest, err := c.connectors.Destination(w.Type)
		if err != nil {
			fail("%s: %v", label, err)
			continue
		}
		if dest.Validate != nil {
			if err := dest.Validate(&w); err != nil {
				fail("%s %s: %v", label, w.Type, err)
			}
		}
		sinkType, err := c.recordType(w.RecordType)
		if err != nil {
			fail("%s: %v", label, err)
			continue
		}

		sink := SinkPlan{
			Name:    sinkName(op.Type, w, j),
			Spec:    w,
			Factory: dest,
			Type:    sinkType,
			Shape:   dest.Shape(sinkType),
		}
		if p.Source.Type != nil {
			convert, err := c.types.Converter(p.Source.Shape, sink.Shape)
			if err != nil {
				fail("%s: %v", label, err)
				continue
			}
			sink.Convert = convert
		}
		p.Sinks = append(p.Sinks, sink)
	}

	return p, problems
}

func (c *Compiler) recordType(name string) (*record.Type, error) {
	if name == "" {
		name = record.TypeJSON
	}
	rt, ok := c.types.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown record type %q (known: %v)", name, c.types.Names())
	}
	return rt, nil
}

func isStrategy(s config.Strategy) bool {
	for _, known := range config.Strategies {
		if s == known {
			return true
		}
	}
	return false
}

func sinkName(strategy config.Strategy, w config.WriterSpec, j int) string {
	name := w.Type
	if w.Topic != "" {
		name = w.Type + ":" + w.Topic
	}
	if strategy == config.StrategyIntervalFanout {
		name = fmt.Sprintf("%d/%s", j, name)
	}
	return name
}

// Build constructs the connectors of every plan. On the first failure every
// connector already opened is closed and no operation is returned.
func (c *Compiler) Build(ctx context.Context, plans []Plan) ([]pipeline.Operation, error) {
	ops := make([]pipeline.Operation, 0, len(plans))
	for _, p := range plans {
		op, err := c.build(ctx, p)
		if err != nil {
			for _, built := range ops {
				if cerr := built.Close(); cerr != nil {
					c.logger.Warn("failed to close connector after build failure",
						zap.String("pipeline", built.Name()),
						zap.Error(cerr))
				}
			}
			return nil, errors.Wrap(err, errors.TypeOf(err),
				fmt.Sprintf("operation %q (#%d)", p.Name, p.Index))
		}
		c.logger.Info("operation built",
			zap.String("pipeline", p.Name),
			zap.String("strategy", string(p.Strategy)),
			zap.String("reader", p.Source.Spec.Type),
			zap.Int("writers", len(p.Sinks)))
		ops = append(ops, op)
	}
	return ops, nil
}

func (c *Compiler) build(ctx context.Context, p Plan) (op pipeline.Operation, err error) {
	var opened []any
	defer func() {
		if err != nil {
			for _, conn := range opened {
				_ = core.Close(conn)
			}
		}
	}()

	opts := []pipeline.Option{pipeline.WithLogger(c.base)}

	// writers are opened before the reader subscribes
	writers := make([]core.Writer[any], len(p.Sinks))
	for i, s := range p.Sinks {
		w, err := s.Factory.New(ctx, &s.Spec, s.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.TypeOf(err), "build writer "+s.Name)
		}
		opened = append(opened, w)
		writers[i] = w
	}

	switch p.Strategy {
	case config.StrategyStream:
		r, err := p.Source.Factory.Stream(ctx, &p.Source.Spec, p.Source.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.TypeOf(err), "build reader "+p.Source.Spec.Type)
		}
		opened = append(opened, r)
		end := pipeline.EndStop
		if p.EndPolicy == config.EndPolicyShutdown {
			end = pipeline.EndShutdown
		}
		s := p.Sinks[0]
		return pipeline.NewStreamOperation[any, any](p.Name, r, writers[0], s.Convert,
			append(opts, pipeline.WithEndPolicy(end), pipeline.WithSinkName(s.Name))...), nil

	case config.StrategyInterval:
		r, err := p.Source.Factory.Reader(ctx, &p.Source.Spec, p.Source.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.TypeOf(err), "build reader "+p.Source.Spec.Type)
		}
		opened = append(opened, r)
		s := p.Sinks[0]
		return pipeline.NewIntervalOperation[any, any](p.Name, r, writers[0], s.Convert, p.Period,
			append(opts, pipeline.WithSinkName(s.Name))...), nil

	case config.StrategyIntervalFanout:
		r, err := p.Source.Factory.Reader(ctx, &p.Source.Spec, p.Source.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.TypeOf(err), "build reader "+p.Source.Spec.Type)
		}
		opened = append(opened, r)
		fan := pipeline.NewIntervalFanoutOperation[any](p.Name, r, p.Period, opts...).
			WithClone(record.Clone)
		for i, s := range p.Sinks {
			pipeline.AddWriter[any, any](fan, s.Name, writers[i], s.Convert)
		}
		return fan, nil

	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "unplanned strategy %q", p.Strategy)
	}
}
