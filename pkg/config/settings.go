package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read into Settings,
// e.g. COURIER_LOG_LEVEL or COURIER_METRICS_ADDRESS.
const EnvPrefix = "COURIER"

// Settings holds process-wide runtime options. They never change what a
// pipeline does, only how it is observed.
type Settings struct {
	Log     LogSettings     `mapstructure:"log"`
	Metrics MetricsSettings `mapstructure:"metrics"`
	Tracing TracingSettings `mapstructure:"tracing"`
}

// LogSettings configures the global zap logger.
type LogSettings struct {
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
	Development bool   `mapstructure:"development"`
}

// MetricsSettings configures the Prometheus endpoint. An empty Address
// disables it.
type MetricsSettings struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// DefaultSettings returns the settings used when nothing is overridden.
func DefaultSettings() Settings {
	return Settings{
		Log: LogSettings{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsSettings{
			Path: "/metrics",
		},
		Tracing: TracingSettings{
			ServiceName: "courier",
			SampleRate:  1.0,
		},
	}
}

// NewViper returns a viper instance seeded with DefaultSettings and bound to
// COURIER_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultSettings()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("metrics.address", d.Metrics.Address)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	return v
}

// LoadSettings decodes Settings from v and validates them.
func LoadSettings(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	switch s.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("log.encoding must be json or console, got %q", s.Log.Encoding)
	}
	if s.Tracing.SampleRate < 0 || s.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", s.Tracing.SampleRate)
	}
	if s.Metrics.Address != "" && !strings.HasPrefix(s.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", s.Metrics.Path)
	}
	return nil
}
