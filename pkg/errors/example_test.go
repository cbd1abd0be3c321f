package errors_test

import (
	"fmt"
	"io"

	"github.com/gbPagano/courier/pkg/errors"
)

// Example demonstrates basic error creation.
func Example() {
	err := errors.New(errors.ErrorTypeConnection, "connection refused").
		WithDetail("endpoint", "http://localhost:8000")

	fmt.Println(err.Error())

	// Output:
	// connection: connection refused
}

// ExampleWrap shows how a connector wraps a lower-level failure.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeData, "failed to decode response body").
		WithDetail("endpoint", "http://localhost:8000")

	fmt.Println(err)
	fmt.Println(errors.Is(err, io.ErrUnexpectedEOF))

	// Output:
	// data: failed to decode response body: unexpected EOF
	// true
}

// ExampleIsRetryable shows which categories are expected to clear up on the
// next cycle.
func ExampleIsRetryable() {
	timeout := errors.New(errors.ErrorTypeTimeout, "request timed out")
	encode := errors.New(errors.ErrorTypeSerialization, "value is not valid UTF-8")

	fmt.Println(errors.IsRetryable(timeout))
	fmt.Println(errors.IsRetryable(encode))

	// Output:
	// true
	// false
}

// ExampleTypeOf demonstrates categorizing foreign errors.
func ExampleTypeOf() {
	wrapped := errors.Wrap(errors.New(errors.ErrorTypeConnection, "dial tcp"), errors.ErrorTypeDelivery, "produce failed")

	fmt.Println(errors.TypeOf(wrapped))
	fmt.Println(errors.TypeOf(io.EOF))
	fmt.Println(errors.IsType(wrapped, errors.ErrorTypeConnection))

	// Output:
	// delivery
	// unknown
	// false
}
