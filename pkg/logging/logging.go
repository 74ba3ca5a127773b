// Package logging builds the zap logger shared by the holder service, its
// polling workers and the HTTP surface.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry as the "service" field
const ServiceName = "dcp-holder"

// Component names passed to zap.Logger.Named by the long-running parts of
// the holder, so their entries can be filtered by "logger".
const (
	ComponentPoller     = "poller"
	ComponentWriter     = "credential-writer"
	ComponentRequests   = "request-manager"
	ComponentWatchdog   = "credential-watchdog"
	ComponentStatusList = "statuslist"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `yaml:"level" envconfig:"LEVEL"`
	// Format is the output format: json or text
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

// NewLogger creates the root logger. JSON output uses the production encoder
// with ISO8601 timestamps; anything else gets the console encoder.
func NewLogger(cfg Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level))
	zapCfg.InitialFields = map[string]any{"service": ServiceName}

	return zapCfg.Build()
}

// ParseLevel converts a configured level name to a zapcore.Level. Unknown
// names fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}
