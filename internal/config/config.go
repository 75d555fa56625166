package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bridge configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	LogRing   LogRingConfig   `yaml:"log_ring"`
	Logger    LoggerConfig    `yaml:"logger"`
	MCP       MCPConfig       `yaml:"mcp"`
}

// ServerConfig holds the WebSocket session server settings.
type ServerConfig struct {
	Addr          string  `yaml:"addr"`           // listen address, e.g. "127.0.0.1:8080"
	DataRateLimit float64 `yaml:"data_rate_limit"` // inbound data frames per second (0 = unlimited)
	DataRateBurst int     `yaml:"data_rate_burst"`
}

// TransportConfig selects and parameterizes the hardware transport.
type TransportConfig struct {
	Kind string `yaml:"kind"` // "mock" is the only in-tree implementation
}

// LifecycleConfig holds timeouts and cooldown tuning for the connection
// lifecycle manager. The pressure thresholds and scales are tuning data,
// deliberately exposed here rather than hard-coded.
type LifecycleConfig struct {
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`

	CooldownBase time.Duration `yaml:"cooldown_base"` // floor between sessions
	CooldownMax  time.Duration `yaml:"cooldown_max"`  // hard cap, base included

	ListenerThreshold   int           `yaml:"listener_threshold"`
	PeripheralThreshold int           `yaml:"peripheral_threshold"`
	ScanThreshold       int           `yaml:"scan_threshold"`
	PenaltyPerUnit      time.Duration `yaml:"penalty_per_unit"` // per counter over its threshold
}

// LogRingConfig holds the diagnostic ring buffer settings.
type LogRingConfig struct {
	Capacity int `yaml:"capacity"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// MCPConfig controls the diagnostic MCP tool server.
type MCPConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Transport string `yaml:"transport"` // "stdio" or "http"
	HTTPPath  string `yaml:"http_path"` // mount point on the bridge mux ("http" transport)
}

// Ring capacity bounds; out-of-range values are clamped, not rejected,
// because an oversized ring only wastes memory while a rejected config
// takes the whole bridge down.
const (
	MinRingCapacity = 100
	MaxRingCapacity = 50000
)

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1:8080",
			DataRateLimit: 0,
			DataRateBurst: 64,
		},
		Transport: TransportConfig{Kind: "mock"},
		Lifecycle: LifecycleConfig{
			ConnectTimeout:      15 * time.Second,
			TeardownTimeout:     5 * time.Second,
			CooldownBase:        1 * time.Second,
			CooldownMax:         30 * time.Second,
			ListenerThreshold:   10,
			PeripheralThreshold: 5,
			ScanThreshold:       1,
			PenaltyPerUnit:      2 * time.Second,
		},
		LogRing: LogRingConfig{Capacity: 10000},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		MCP: MCPConfig{
			Enabled:   true,
			Transport: "http",
			HTTPPath:  "/mcp",
		},
	}
}

// Load reads a YAML config from path, layered over Defaults. A missing
// file is not an error; the defaults are returned after validation.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.Clamp()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clamp forces tunables into their supported ranges.
func (c *Config) Clamp() {
	if c.LogRing.Capacity < MinRingCapacity {
		c.LogRing.Capacity = MinRingCapacity
	}
	if c.LogRing.Capacity > MaxRingCapacity {
		c.LogRing.Capacity = MaxRingCapacity
	}
	if c.Lifecycle.CooldownMax < c.Lifecycle.CooldownBase {
		c.Lifecycle.CooldownMax = c.Lifecycle.CooldownBase
	}
}
