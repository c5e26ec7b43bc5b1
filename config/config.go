package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	coretypes "github.com/projecteru2/core/types"
)

// Default fallbacks applied by LoadConfig and the CLI init path.
const (
	DefaultStopTimeoutSeconds = 30
	DefaultFCBinary           = "firecracker"
)

// Config holds global Pupa configuration.
type Config struct {
	// RootDir is the base directory for persistent data.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
	// RunDir is the base directory for per-VM runtime files (sockets, PIDs).
	RunDir string `json:"run_dir" mapstructure:"run_dir"`
	// LogDir is the base directory for per-VM log files.
	LogDir string `json:"log_dir" mapstructure:"log_dir"`

	// FCBinary is the firecracker binary path or name.
	FCBinary string `json:"fc_binary" mapstructure:"fc_binary"`

	// PoolSize is the goroutine pool size for concurrent operations.
	// Defaults to runtime.NumCPU() if zero.
	PoolSize int `json:"pool_size" mapstructure:"pool_size"`

	// StopTimeoutSeconds bounds the graceful shutdown wait before the stop
	// flow escalates to a forced kill.
	StopTimeoutSeconds int `json:"stop_timeout_seconds" mapstructure:"stop_timeout_seconds"`

	// Log configuration, uses eru core's ServerLogConfig.
	Log coretypes.ServerLogConfig `json:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir:            "/var/lib/pupa",
		RunDir:             "/run/pupa",
		LogDir:             "/var/log/pupa",
		FCBinary:           DefaultFCBinary,
		PoolSize:           runtime.NumCPU(),
		StopTimeoutSeconds: DefaultStopTimeoutSeconds,
		Log: coretypes.ServerLogConfig{
			Level:      "info",
			MaxSize:    500,
			MaxAge:     28,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from file, falling back to defaults.
func LoadConfig(path string) (*Config, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // config path from CLI flag
	if err != nil {
		if os.IsNotExist(err) {
			return conf, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	conf.Normalize()
	return conf, nil
}

// Normalize fills zero-valued fields with defaults after external input
// (config file, viper, flags) has been applied.
func (c *Config) Normalize() {
	if c.PoolSize <= 0 {
		c.PoolSize = runtime.NumCPU()
	}
	if c.StopTimeoutSeconds <= 0 {
		c.StopTimeoutSeconds = DefaultStopTimeoutSeconds
	}
	if c.FCBinary == "" {
		c.FCBinary = DefaultFCBinary
	}
}
