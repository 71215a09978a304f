package logger

import (
	"os"
	"strings"

	"github.com/pion/logging"
)

// NewFactory returns a pion logger factory writing to stdout at the given level.
// Unknown levels fall back to info.
func NewFactory(level string) *logging.DefaultLoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = os.Stdout
	f.DefaultLogLevel = ParseLevel(level)
	return f
}

// ParseLevel maps LOG_LEVEL values onto pion log levels.
func ParseLevel(level string) logging.LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "disabled", "off", "none":
		return logging.LogLevelDisabled
	case "error", "production", "prod":
		return logging.LogLevelError
	case "warn", "warning":
		return logging.LogLevelWarn
	case "debug", "dev", "development":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelInfo
	}
}

// OrDefault returns lf, or a fresh info-level factory when lf is nil.
func OrDefault(lf logging.LoggerFactory) logging.LoggerFactory {
	if lf == nil {
		return NewFactory("")
	}
	return lf
}
