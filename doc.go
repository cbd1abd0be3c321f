// Package courier is a declarative data-movement service. A single spec file
// lists operations, each pairing one reader with one or more writers under a
// scheduling strategy, and courier runs every operation concurrently until
// the process is stopped.
//
// # Strategies
//
//   - Stream: relay every record of a continuous source (a Kafka consumer
//     group) to one writer, in order.
//   - Interval: fetch one record per period from a one-shot source (an HTTP
//     endpoint) and send it to one writer.
//   - IntervalFanout: fetch one record per period and send an independent
//     copy to every configured writer concurrently.
//
// Interval schedules never burst: a cycle that overruns its period is logged
// and the next cycle starts immediately, one period before the following one.
//
// # Quick Start
//
//	operations:
//	  - name: kafka->kafka
//	    type: Stream
//	    reader:
//	      type: topic-consume
//	      record_type: json
//	      brokers: localhost:9092
//	      group_id: relay
//	      topics: [topic1]
//	    writer:
//	      type: topic-produce
//	      record_type: json
//	      brokers: localhost:9092
//	      topic: topic2
//
//	courier validate -c courier.yaml
//	courier run -c courier.yaml
//
// # Compilation
//
// The whole spec is checked before anything runs: connector tags, record
// types, strategy fields, source capability and the record conversion for
// every reader and writer pair. Any problem aborts startup with an error per
// offending operation, and no connector is opened.
//
// # Key Packages
//
//	internal/compiler         - Spec to operations, all or nothing
//	internal/pipeline         - Stream, Interval and IntervalFanout loops
//	pkg/courier               - Supervisor running every operation
//	pkg/connector/registry    - Reader and writer factories by type tag
//	pkg/connector/sources     - api (HTTP poll) and topic-consume (Kafka)
//	pkg/connector/destinations - topic-produce (Kafka)
//	pkg/record                - Record types, codecs and conversions
//	pkg/config                - Spec files and runtime settings
//	pkg/metrics               - Prometheus metrics
//	pkg/observability         - OpenTelemetry tracing
//
// Delivery is at most once. Consumer offsets are not committed, so a
// restarted relay resumes from the configured offset reset position.
package courier
