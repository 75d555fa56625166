package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a
// *ValidationError when one or more problems are found, allowing callers
// to report all issues at once.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateTransport(cfg, ve)
	validateLifecycle(cfg, ve)
	validateLogger(cfg, ve)
	validateMCP(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Addr); err != nil {
		ve.Add("server.addr %q is not host:port: %v", cfg.Server.Addr, err)
	}
	if cfg.Server.DataRateLimit < 0 {
		ve.Add("server.data_rate_limit must be >= 0")
	}
	if cfg.Server.DataRateBurst < 1 {
		ve.Add("server.data_rate_burst must be >= 1")
	}
}

func validateTransport(cfg *Config, ve *ValidationError) {
	switch cfg.Transport.Kind {
	case "mock":
	default:
		ve.Add("transport.kind %q is not supported (want: mock)", cfg.Transport.Kind)
	}
}

func validateLifecycle(cfg *Config, ve *ValidationError) {
	lc := cfg.Lifecycle
	if lc.ConnectTimeout <= 0 {
		ve.Add("lifecycle.connect_timeout must be > 0")
	}
	if lc.TeardownTimeout <= 0 {
		ve.Add("lifecycle.teardown_timeout must be > 0")
	}
	if lc.CooldownBase < 0 {
		ve.Add("lifecycle.cooldown_base must be >= 0")
	}
	if lc.CooldownMax < lc.CooldownBase {
		ve.Add("lifecycle.cooldown_max must be >= cooldown_base")
	}
	if lc.PenaltyPerUnit < 0 {
		ve.Add("lifecycle.penalty_per_unit must be >= 0")
	}
	if lc.ListenerThreshold < 0 || lc.PeripheralThreshold < 0 || lc.ScanThreshold < 0 {
		ve.Add("lifecycle pressure thresholds must be >= 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not valid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q is not valid (want: text, json)", cfg.Logger.Format)
	}
}

func validateMCP(cfg *Config, ve *ValidationError) {
	if !cfg.MCP.Enabled {
		return
	}
	switch cfg.MCP.Transport {
	case "stdio":
	case "http":
		if !strings.HasPrefix(cfg.MCP.HTTPPath, "/") {
			ve.Add("mcp.http_path must start with /")
		}
	default:
		ve.Add("mcp.transport %q is not valid (want: stdio, http)", cfg.MCP.Transport)
	}
}
