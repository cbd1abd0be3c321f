// Package connector groups the readers and writers courier moves records
// between.
//
// # Architecture Overview
//
//   - core: the Reader, StreamReader and Writer interfaces every connector
//     implements, plus adapters that erase a typed connector to the any-typed
//     form the compiler wires together.
//
//   - registry: factories keyed by the type tag used in spec files. Each
//     connector package registers itself from init, so importing it is
//     enough to make its tag available.
//
//   - sources: api polls an HTTP endpoint once per call; topic-consume joins
//     a Kafka consumer group and yields a continuous stream.
//
//   - destinations: topic-produce sends keyed records to a Kafka topic and
//     waits for the broker's acknowledgement.
//
// # Core Concepts
//
// Capability: a source is either one-shot (Reader) or continuous
// (StreamReader). The compiler matches it against the operation strategy.
//
// Shape: keyed connectors carry record.Message values, plain ones carry the
// bare record. The compiler resolves the conversion between a source shape
// and each sink shape before anything is built.
//
// Errors: connectors return *errors.Error values categorized as timeout,
// connection, request, http_status, data, serialization or delivery, so that
// pipeline logs can report the cause of every dropped cycle or record.
//
// # Usage
//
//	import (
//	    "github.com/gbPagano/courier/pkg/connector/registry"
//
//	    _ "github.com/gbPagano/courier/pkg/connector/sources/api"
//	)
//
//	factory, err := registry.GetRegistry().Source("api")
//	reader, err := factory.Reader(ctx, &spec.Reader, recordType)
//	value, err := reader.Read(ctx)
package connector
