package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/signalsfoundry/contact-traces/internal/observability"
)

// Config is the optional TOML file passed with --config. Flags given on
// the command line override it.
type Config struct {
	Log      LogConfig                   `toml:"log"`
	Metrics  MetricsConfig               `toml:"metrics"`
	Tracing  observability.TracingConfig `toml:"tracing"`
	Store    StoreConfig                 `toml:"store"`
	Defaults ConverterDefaults           `toml:"defaults"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics while a command runs; empty disables it.
	Addr string `toml:"addr"`
}

type StoreConfig struct {
	// Path is a Pebble directory; empty keeps traces in memory.
	Path string `toml:"path"`
}

// ConverterDefaults are used when the matching flag is not given.
type ConverterDefaults struct {
	Tau       int64   `toml:"tau"`
	Eta       int64   `toml:"eta"`
	Delay     int64   `toml:"delay"`
	Before    int64   `toml:"before"`
	After     int64   `toml:"after"`
	Randomize bool    `toml:"randomize"`
	Seed      uint64  `toml:"seed"`
	Range     float64 `toml:"range"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "text"},
		Tracing: observability.DefaultTracingConfig(),
		Defaults: ConverterDefaults{
			Tau:   1,
			Eta:   1,
			Delay: 1,
		},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults. DTNTRACE_TRACING_* variables override the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Tracing = observability.ApplyTracingEnv(cfg.Tracing)
	return cfg, nil
}
