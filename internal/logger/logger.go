// Package logger provides logging implementations for the bootstrap and
// ingestion engines.
//
// Loggers are thread-safe and support level filtering. Structured events are
// rendered as "event key=value ..." lines so diagnostics like
// directory_scan_failed carry their path, attempt, and cause fields.
package logger

import "strings"

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// Field is one key=value pair attached to a structured event.
type Field struct {
	Key   string
	Value interface{}
}

// F is a shorthand constructor for a Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the logging interface consumed by the walker, batch processor,
// ingestion processor, and upload client.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)

	// LogEvent logs a structured event at the given level ("debug", "info",
	// "warn", "error") with ordered key=value fields.
	LogEvent(level, event string, fields ...Field)
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if validLevels[normalized] {
		return normalized
	}

	return "info" // Default level
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// NoOpLogger discards all messages. Useful for tests and silent operation.
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that discards everything.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogTrace(message string)                       {}
func (n *NoOpLogger) LogDebug(message string)                       {}
func (n *NoOpLogger) LogInfo(message string)                        {}
func (n *NoOpLogger) LogWarn(message string)                        {}
func (n *NoOpLogger) LogError(message string)                       {}
func (n *NoOpLogger) LogEvent(level, event string, fields ...Field) {}

// MultiLogger fans messages out to several loggers (e.g. console plus file).
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that forwards to every non-nil target.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	var targets []Logger
	for _, l := range loggers {
		if l != nil {
			targets = append(targets, l)
		}
	}
	return &MultiLogger{loggers: targets}
}

func (m *MultiLogger) LogTrace(message string) {
	for _, l := range m.loggers {
		l.LogTrace(message)
	}
}

func (m *MultiLogger) LogDebug(message string) {
	for _, l := range m.loggers {
		l.LogDebug(message)
	}
}

func (m *MultiLogger) LogInfo(message string) {
	for _, l := range m.loggers {
		l.LogInfo(message)
	}
}

func (m *MultiLogger) LogWarn(message string) {
	for _, l := range m.loggers {
		l.LogWarn(message)
	}
}

func (m *MultiLogger) LogError(message string) {
	for _, l := range m.loggers {
		l.LogError(message)
	}
}

func (m *MultiLogger) LogEvent(level, event string, fields ...Field) {
	for _, l := range m.loggers {
		l.LogEvent(level, event, fields...)
	}
}
