// Package testutil provides testing utilities for courier
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gbPagano/courier/pkg/connector/core"
	"github.com/gbPagano/courier/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// ObservedLogger returns a logger whose entries at or above level can be
// inspected.
func ObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	c, logs := observer.New(level)
	return zap.New(c), logs
}

// TestContext creates a context that is cancelled after timeout or when the
// test completes.
func TestContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// RecordingWriter is a core.Writer that stores every value it is asked to
// write. Values for which Fail returns true are rejected with the error
// returned by Err, or a delivery error when Err is nil.
type RecordingWriter[T any] struct {
	// Fail selects values to reject.
	Fail func(v T) bool
	// Err builds the rejection error.
	Err func(v T) error
	// OnWrite is called after every attempt with the attempt count.
	OnWrite func(attempts int)

	mu       sync.Mutex
	attempts []T
	written  []T
	closed   int
}

var _ core.Writer[int] = (*RecordingWriter[int])(nil)

// Write implements core.Writer.
func (w *RecordingWriter[T]) Write(_ context.Context, v T) error {
	w.mu.Lock()
	w.attempts = append(w.attempts, v)
	n := len(w.attempts)
	var err error
	switch {
	case w.Fail != nil && w.Fail(v) && w.Err != nil:
		err = w.Err(v)
	case w.Fail != nil && w.Fail(v):
		err = errors.New(errors.ErrorTypeDelivery, "write rejected")
	default:
		w.written = append(w.written, v)
	}
	w.mu.Unlock()

	if w.OnWrite != nil {
		w.OnWrite(n)
	}
	return err
}

// Close implements core.Closer.
func (w *RecordingWriter[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

// Attempts returns every value passed to Write.
func (w *RecordingWriter[T]) Attempts() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]T(nil), w.attempts...)
}

// Written returns the values that were accepted.
func (w *RecordingWriter[T]) Written() []T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]T(nil), w.written...)
}

// Closed returns how many times Close was called.
func (w *RecordingWriter[T]) Closed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// StreamOf returns a stream that yields items and then ends. When open is
// true the stream stays open after the last item until ctx is done.
func StreamOf[T any](open bool, items ...T) core.StreamReader[T] {
	return core.StreamFunc[T](func(ctx context.Context) <-chan T {
		ch := make(chan T)
		go func() {
			defer close(ch)
			for _, it := range items {
				select {
				case ch <- it:
				case <-ctx.Done():
					return
				}
			}
			if open {
				<-ctx.Done()
			}
		}()
		return ch
	})
}

// AssertEventually polls condition every 10ms until it holds or timeout
// expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
