package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Severity represents log message severity levels
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity converts a command line level name into a Severity.
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return SeverityDebug, nil
	case "info", "":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	}
	return SeverityInfo, fmt.Errorf("unknown log level %q", name)
}

func (s Severity) logrusLevel() logrus.Level {
	switch s {
	case SeverityDebug:
		return logrus.DebugLevel
	case SeverityInfo:
		return logrus.InfoLevel
	case SeverityWarning:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// Logger interface defines the logging contract for the capture pipeline
type Logger interface {
	// Log logs a message with the specified severity
	Log(severity Severity, msg string)

	// Logf logs a formatted message with the specified severity
	Logf(severity Severity, format string, args ...interface{})

	// Error logs an error
	Error(err error)

	// Debug logs a debug message
	Debug(msg string)

	// Info logs an info message
	Info(msg string)

	// Warning logs a warning message
	Warning(msg string)
}

// LogrusLogger implements the Logger interface on top of logrus.
type LogrusLogger struct {
	entry    *logrus.Entry
	minLevel Severity
}

// NewLogrusLogger creates a logger writing text records to stderr.
func NewLogrusLogger(minLevel Severity) *LogrusLogger {
	return NewLogrusLoggerWithWriter(os.Stderr, minLevel)
}

// NewLogrusLoggerWithWriter creates a logger writing text records to w.
func NewLogrusLoggerWithWriter(w io.Writer, minLevel Severity) *LogrusLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(minLevel.logrusLevel())
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	})
	return &LogrusLogger{
		entry:    logrus.NewEntry(l),
		minLevel: minLevel,
	}
}

// WithComponent returns a child logger tagging every record with comp.
func (l *LogrusLogger) WithComponent(comp string) *LogrusLogger {
	return &LogrusLogger{
		entry:    l.entry.WithField("comp", comp),
		minLevel: l.minLevel,
	}
}

// Log logs a message with the specified severity
func (l *LogrusLogger) Log(severity Severity, msg string) {
	if severity < l.minLevel {
		return
	}
	l.entry.Log(severity.logrusLevel(), msg)
}

// Logf logs a formatted message with the specified severity
func (l *LogrusLogger) Logf(severity Severity, format string, args ...interface{}) {
	if severity < l.minLevel {
		return
	}
	l.Log(severity, fmt.Sprintf(format, args...))
}

// Error logs an error
func (l *LogrusLogger) Error(err error) {
	if err != nil {
		l.Log(SeverityError, err.Error())
	}
}

// Debug logs a debug message
func (l *LogrusLogger) Debug(msg string) {
	l.Log(SeverityDebug, msg)
}

// Info logs an info message
func (l *LogrusLogger) Info(msg string) {
	l.Log(SeverityInfo, msg)
}

// Warning logs a warning message
func (l *LogrusLogger) Warning(msg string) {
	l.Log(SeverityWarning, msg)
}

// ForComponent tags logger output with a component name when the
// implementation supports it, and returns it unchanged otherwise.
// A nil logger becomes a NoOpLogger.
func ForComponent(logger Logger, comp string) Logger {
	switch l := logger.(type) {
	case nil:
		return NewNoOpLogger()
	case *LogrusLogger:
		return l.WithComponent(comp)
	}
	return logger
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-op logger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Log does nothing
func (l *NoOpLogger) Log(severity Severity, msg string) {}

// Logf does nothing
func (l *NoOpLogger) Logf(severity Severity, format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(err error) {}

// Debug does nothing
func (l *NoOpLogger) Debug(msg string) {}

// Info does nothing
func (l *NoOpLogger) Info(msg string) {}

// Warning does nothing
func (l *NoOpLogger) Warning(msg string) {}
