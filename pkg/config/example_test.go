package config_test

import (
	"fmt"
	"log"

	"github.com/gbPagano/courier/pkg/config"
)

// ExampleParse demonstrates decoding a fan-out operation from YAML.
func ExampleParse() {
	spec, err := config.Parse([]byte(`
operations:
  - name: api->multi
    type: IntervalFanout
    interval_secs: 5
    reader: {type: api, record_type: json, endpoint: "http://host:8000"}
    writers:
      - {type: topic-produce, record_type: json, brokers: "localhost:9092", topic: topic3}
      - {type: topic-produce, record_type: json, brokers: "localhost:9092", topic: topic4}
`), config.FormatYAML)
	if err != nil {
		log.Fatal(err)
	}

	op := spec.Operations[0]
	period, _ := op.Interval()
	fmt.Println(op.Name, op.Type, period)
	for _, w := range op.Writers {
		fmt.Println(w.Topic, w.Brokers)
	}

	// Output:
	// api->multi IntervalFanout 5s
	// topic3 localhost:9092
	// topic4 localhost:9092
}

// ExampleDefaultSettings shows the runtime defaults.
func ExampleDefaultSettings() {
	s := config.DefaultSettings()
	fmt.Println(s.Log.Level, s.Log.Encoding, s.Metrics.Path, s.Tracing.Enabled)

	// Output:
	// info json /metrics false
}
