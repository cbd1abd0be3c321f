package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects how an operation schedules its reads.
type Strategy string

const (
	// StrategyStream relays every item of a continuous source.
	StrategyStream Strategy = "Stream"
	// StrategyInterval fetches once per period and writes to one sink.
	StrategyInterval Strategy = "Interval"
	// StrategyIntervalFanout fetches once per period and writes to every sink.
	StrategyIntervalFanout Strategy = "IntervalFanout"
)

// Strategies lists every known strategy in declaration order.
var Strategies = []Strategy{StrategyStream, StrategyInterval, StrategyIntervalFanout}

// EndPolicy decides what a Stream operation does when its source ends.
type EndPolicy string

const (
	// EndPolicyStop logs a warning and removes the operation from the running
	// set; sibling operations keep running.
	EndPolicyStop EndPolicy = "stop"
	// EndPolicyShutdown stops every operation and makes the courier exit with
	// an error.
	EndPolicyShutdown EndPolicy = "shutdown"
)

// Spec is the declarative description of every pipeline in the process.
type Spec struct {
	Operations []OperationSpec `yaml:"operations" toml:"operations"`
}

// OperationSpec describes one pipeline. Writer is used by Stream and
// Interval, Writers by IntervalFanout. IntervalSecs must be set for the
// interval strategies and absent for Stream.
type OperationSpec struct {
	Name         string       `yaml:"name" toml:"name"`
	Type         Strategy     `yaml:"type" toml:"type"`
	Reader       ReaderSpec   `yaml:"reader" toml:"reader"`
	Writer       *WriterSpec  `yaml:"writer,omitempty" toml:"writer,omitempty"`
	Writers      []WriterSpec `yaml:"writers,omitempty" toml:"writers,omitempty"`
	IntervalSecs *uint64      `yaml:"interval_secs,omitempty" toml:"interval_secs,omitempty"`
	OnStreamEnd  EndPolicy    `yaml:"on_stream_end,omitempty" toml:"on_stream_end,omitempty"`
}

// MaxIntervalSecs is the largest interval_secs that fits in a time.Duration.
const MaxIntervalSecs = uint64(math.MaxInt64 / int64(time.Second))

// Interval returns the configured period, if any. Values above
// MaxIntervalSecs saturate to the largest representable duration.
func (o *OperationSpec) Interval() (time.Duration, bool) {
	if o.IntervalSecs == nil {
		return 0, false
	}
	if *o.IntervalSecs > MaxIntervalSecs {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(*o.IntervalSecs) * time.Second, true
}

// EndPolicy returns the stream end policy, defaulting to EndPolicyStop.
func (o *OperationSpec) EndPolicy() EndPolicy {
	if o.OnStreamEnd == "" {
		return EndPolicyStop
	}
	return o.OnStreamEnd
}

// ReaderSpec is the tagged source description. Type selects the connector
// ("api" or "topic-consume"); the remaining fields are connector specific.
type ReaderSpec struct {
	Type       string `yaml:"type" toml:"type"`
	RecordType string `yaml:"record_type" toml:"record_type"`

	// api
	Endpoint    string `yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	URL         string `yaml:"url,omitempty" toml:"url,omitempty"`
	TimeoutSecs uint64 `yaml:"timeout_secs,omitempty" toml:"timeout_secs,omitempty"`

	// topic-consume
	Brokers     BrokerList `yaml:"brokers,omitempty" toml:"brokers,omitempty"`
	GroupID     string     `yaml:"group_id,omitempty" toml:"group_id,omitempty"`
	Topics      []string   `yaml:"topics,omitempty" toml:"topics,omitempty"`
	OffsetReset string     `yaml:"offset_reset,omitempty" toml:"offset_reset,omitempty"`
}

// Target returns the endpoint to poll. "url" is accepted as a synonym of
// "endpoint".
func (r *ReaderSpec) Target() string {
	if r.Endpoint != "" {
		return r.Endpoint
	}
	return r.URL
}

// WriterSpec is the tagged sink description.
type WriterSpec struct {
	Type       string     `yaml:"type" toml:"type"`
	RecordType string     `yaml:"record_type" toml:"record_type"`
	Brokers    BrokerList `yaml:"brokers,omitempty" toml:"brokers,omitempty"`
	Topic      string     `yaml:"topic,omitempty" toml:"topic,omitempty"`
}

// BrokerList is a list of broker addresses. It decodes from either a list
// or a comma-separated string such as "host1:9092,host2:9092".
type BrokerList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *BrokerList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*b = splitBrokers(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*b = list
		return nil
	default:
		return fmt.Errorf("brokers: expected string or list, line %d", node.Line)
	}
}

// UnmarshalTOML implements toml.Unmarshaler.
func (b *BrokerList) UnmarshalTOML(v interface{}) error {
	switch val := v.(type) {
	case string:
		*b = splitBrokers(val)
		return nil
	case []interface{}:
		list := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("brokers: expected string, got %T", item)
			}
			list = append(list, s)
		}
		*b = list
		return nil
	default:
		return fmt.Errorf("brokers: expected string or list, got %T", v)
	}
}

// String renders the list the way Kafka clients expect bootstrap servers.
func (b BrokerList) String() string {
	return strings.Join(b, ",")
}

func splitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate performs the structural checks that do not need the connector
// registry. Strategy-specific rules are enforced by the compiler.
func (s *Spec) Validate() error {
	if s == nil || len(s.Operations) == 0 {
		return fmt.Errorf("no operations defined")
	}
	for i := range s.Operations {
		op := &s.Operations[i]
		if op.Type == "" {
			return fmt.Errorf("operation %d (%q): type is required", i, op.Name)
		}
		if op.Reader.Type == "" {
			return fmt.Errorf("operation %d (%q): reader.type is required", i, op.Name)
		}
	}
	return nil
}
