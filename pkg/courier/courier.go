// Package courier runs a set of compiled pipeline operations side by side.
//
// A Courier starts one goroutine per operation and waits for all of them.
// Operations are independent: per-cycle failures stay inside each
// operation, and an operation that ends quietly leaves its siblings running.
// Only an operation returning an error (a stream configured to shut down
// when its source ends) cancels the others.
package courier

import (
	"context"
	"sync"

	"github.com/gbPagano/courier/internal/pipeline"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/logger"
	"github.com/gbPagano/courier/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Courier owns compiled operations and their connectors.
type Courier struct {
	ops       []pipeline.Operation
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// New creates a Courier for ops.
func New(ops []pipeline.Operation) *Courier {
	return &Courier{
		ops:    ops,
		logger: logger.With(zap.String("component", "courier")),
	}
}

// WithLogger replaces the supervisor's logger.
func (c *Courier) WithLogger(l *zap.Logger) *Courier {
	c.logger = l.With(zap.String("component", "courier"))
	return c
}

// Operations returns the supervised operations.
func (c *Courier) Operations() []pipeline.Operation { return c.ops }

// Run runs every operation until all have returned. It returns the first
// operation error, after which the remaining operations are cancelled.
func (c *Courier) Run(ctx context.Context) error {
	if len(c.ops) == 0 {
		return errors.New(errors.ErrorTypeConfig, "no operations to run")
	}

	c.logger.Info("starting courier", zap.Int("operations", len(c.ops)))

	g, ctx := errgroup.WithContext(ctx)
	for _, op := range c.ops {
		op := op
		g.Go(func() error {
			metrics.RunningPipelines.Inc()
			defer metrics.RunningPipelines.Dec()

			err := op.Run(logger.WithPipeline(ctx, op.Name()))
			if err != nil {
				c.logger.Error("operation failed",
					zap.String("pipeline", op.Name()),
					zap.String("strategy", op.Strategy()),
					zap.Error(err))
				return err
			}
			c.logger.Info("operation finished",
				zap.String("pipeline", op.Name()),
				zap.String("strategy", op.Strategy()))
			return nil
		})
	}

	err := g.Wait()
	c.logger.Info("courier stopped")
	return err
}

// Close releases every operation's connectors. It is safe to call more
// than once.
func (c *Courier) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, op := range c.ops {
			if err := op.Close(); err != nil {
				c.logger.Warn("failed to close operation",
					zap.String("pipeline", op.Name()),
					zap.Error(err))
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
