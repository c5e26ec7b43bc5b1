package types

import "github.com/projecteru2/pupa/errdefs"

// Log levels accepted by the VMM.
var validLogLevels = map[string]struct{}{
	"Error": {}, "Warning": {}, "Info": {}, "Debug": {},
}

// LoggerConfig is the /logger payload: where the VMM writes its own log.
type LoggerConfig struct {
	LogPath       string `json:"log_path"`
	Level         string `json:"level,omitempty"`
	ShowLevel     bool   `json:"show_level,omitempty"`
	ShowLogOrigin bool   `json:"show_log_origin,omitempty"`
}

// NewLoggerConfig validates and returns a VMM logger config.
func NewLoggerConfig(logPath, level string) (LoggerConfig, error) {
	l := LoggerConfig{LogPath: logPath, Level: level}
	return l, l.Validate()
}

// Validate checks the logger invariants.
func (l LoggerConfig) Validate() error {
	if l.LogPath == "" {
		return errdefs.MissingRequiredField("log_path")
	}
	if l.Level != "" {
		if _, ok := validLogLevels[l.Level]; !ok {
			return errdefs.InvalidFormat("level", "must be one of Error, Warning, Info, Debug")
		}
	}
	return nil
}

// MetricsConfig is the /metrics payload: where the VMM writes its metrics.
type MetricsConfig struct {
	MetricsPath string `json:"metrics_path"`
}

// NewMetricsConfig validates and returns a VMM metrics config.
func NewMetricsConfig(metricsPath string) (MetricsConfig, error) {
	m := MetricsConfig{MetricsPath: metricsPath}
	return m, m.Validate()
}

// Validate checks the metrics invariants.
func (m MetricsConfig) Validate() error {
	if m.MetricsPath == "" {
		return errdefs.MissingRequiredField("metrics_path")
	}
	return nil
}
