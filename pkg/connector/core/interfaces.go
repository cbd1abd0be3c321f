package core

import (
	"context"

	"github.com/gbPagano/courier/pkg/errors"
)

// Reader is a one-shot source. Each call performs exactly one fetch and
// returns either a record or a categorized error; retries are left to the
// caller's schedule.
type Reader[T any] interface {
	Read(ctx context.Context) (T, error)
}

// StreamReader is a continuous source. Stream may be called once; the
// returned channel yields items in source order and is closed when the
// source ends or ctx is done. Per-item failures are handled inside the
// connector and never surface on the channel.
type StreamReader[T any] interface {
	Stream(ctx context.Context) <-chan T
}

// Writer is a sink. Each call performs exactly one delivery attempt.
type Writer[T any] interface {
	Write(ctx context.Context, v T) error
}

// Closer is implemented by connectors that hold network handles.
type Closer interface {
	Close() error
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc[T any] func(ctx context.Context) (T, error)

// Read implements Reader.
func (f ReaderFunc[T]) Read(ctx context.Context) (T, error) { return f(ctx) }

// WriterFunc adapts a function to the Writer interface.
type WriterFunc[T any] func(ctx context.Context, v T) error

// Write implements Writer.
func (f WriterFunc[T]) Write(ctx context.Context, v T) error { return f(ctx, v) }

// StreamFunc adapts a function to the StreamReader interface.
type StreamFunc[T any] func(ctx context.Context) <-chan T

// Stream implements StreamReader.
func (f StreamFunc[T]) Stream(ctx context.Context) <-chan T { return f(ctx) }

// EraseStream adapts a typed stream to StreamReader[any]. Close is
// forwarded to s.
func EraseStream[T any](s StreamReader[T]) StreamReader[any] {
	return erasedStream[T]{s}
}

type erasedStream[T any] struct{ s StreamReader[T] }

func (e erasedStream[T]) Stream(ctx context.Context) <-chan any {
	in := e.s.Stream(ctx)
	out := make(chan any)
	go func() {
		defer close(out)
		for v := range in {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (e erasedStream[T]) Close() error { return Close(e.s) }

// EraseWriter adapts a typed writer to Writer[any]. Values that are not a T
// are rejected. Close is forwarded to w.
func EraseWriter[T any](w Writer[T]) Writer[any] {
	return erasedWriter[T]{w}
}

type erasedWriter[T any] struct{ w Writer[T] }

func (e erasedWriter[T]) Write(ctx context.Context, v any) error {
	typed, ok := v.(T)
	if !ok {
		return errors.Newf(errors.ErrorTypeSerialization, "writer expects %T, got %T", typed, v)
	}
	return e.w.Write(ctx, typed)
}

func (e erasedWriter[T]) Close() error { return Close(e.w) }

// Close closes c if it implements Closer.
func Close(c any) error {
	if closer, ok := c.(Closer); ok {
		return closer.Close()
	}
	return nil
}
