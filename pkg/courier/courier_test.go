package courier

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gbPagano/courier/internal/pipeline"
	"github.com/gbPagano/courier/pkg/errors"
	"github.com/gbPagano/courier/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOperation struct {
	name   string
	run    func(ctx context.Context) error
	closed atomic.Int32
}

func (f *fakeOperation) Name() string                  { return f.name }
func (f *fakeOperation) Strategy() string              { return pipeline.StrategyInterval }
func (f *fakeOperation) Run(ctx context.Context) error { return f.run(ctx) }
func (f *fakeOperation) Close() error {
	f.closed.Add(1)
	return nil
}

func newCourier(ops ...pipeline.Operation) *Courier {
	return New(ops).WithLogger(zap.NewNop())
}

func TestRunWaitsForEveryOperation(t *testing.T) {
	var ran atomic.Int32
	op := func(name string) *fakeOperation {
		return &fakeOperation{name: name, run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}
	}

	c := newCourier(op("a"), op("b"), op("c"))
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, int32(3), ran.Load())
}

func TestQuietEndLeavesSiblingsRunning(t *testing.T) {
	aDone := make(chan struct{})
	var siblingErr error

	a := &fakeOperation{name: "ends", run: func(context.Context) error {
		close(aDone)
		return nil
	}}
	b := &fakeOperation{name: "keeps-going", run: func(ctx context.Context) error {
		<-aDone
		time.Sleep(10 * time.Millisecond)
		siblingErr = ctx.Err()
		return nil
	}}

	require.NoError(t, newCourier(a, b).Run(context.Background()))
	assert.NoError(t, siblingErr)
}

func TestFailingOperationCancelsOthers(t *testing.T) {
	boom := errors.New(errors.ErrorTypeInternal, "stream ended unexpectedly")

	failing := &fakeOperation{name: "failing", run: func(context.Context) error { return boom }}
	waiting := &fakeOperation{name: "waiting", run: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}}

	done := make(chan error, 1)
	go func() { done <- newCourier(failing, waiting).Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("courier did not stop after operation failure")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	op := &fakeOperation{name: "forever", run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}}

	done := make(chan error, 1)
	go func() { done <- newCourier(op).Run(ctx) }()

	<-started
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RunningPipelines))
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("courier did not stop on cancel")
	}
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.RunningPipelines))
}

func TestRunRejectsEmpty(t *testing.T) {
	err := newCourier().Run(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCloseIsIdempotent(t *testing.T) {
	a := &fakeOperation{name: "a", run: func(context.Context) error { return nil }}
	b := &fakeOperation{name: "b", run: func(context.Context) error { return nil }}
	c := newCourier(a, b)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), b.closed.Load())
	assert.Len(t, c.Operations(), 2)
}
