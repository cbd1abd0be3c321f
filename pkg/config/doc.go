// Package config defines the declarative pipeline specification and the
// process runtime settings.
//
// A specification lists operations; each names a strategy, one reader and
// one writer (or, for IntervalFanout, a list of writers):
//
//	operations:
//	  - name: kafka->kafka
//	    type: Stream
//	    reader:
//	      type: topic-consume
//	      record_type: json
//	      brokers: localhost:9092
//	      group_id: user-events-consumer
//	      topics: [topic1]
//	    writer:
//	      type: topic-produce
//	      record_type: json
//	      brokers: localhost:9092
//	      topic: topic2
//
// Files ending in .yaml/.yml are decoded with gopkg.in/yaml.v3 and files
// ending in .toml with BurntSushi/toml. ${VAR_NAME} references are replaced
// with environment values before decoding, and unknown keys are rejected.
//
// Structural checks live in Spec.Validate; everything that depends on the
// connector registry (reader and writer tags, record types, conversions,
// strategy fields) is checked by the compiler before any pipeline starts.
//
// Runtime settings (logging, metrics, tracing) are read through viper from
// command-line flags and COURIER_* environment variables.
package config
