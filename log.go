package kvlite

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logging collaborator the core reports warnings
// (tamper detection, deserialization failures — both non-fatal, the read
// degrades to absent — and soft-cleanup failures) and errors (storage
// failures on the read path, which the facade reports as absent and records
// in LastError) through. Storage failures on writes, deletes and clears are
// returned to the caller without a log record. The core never logs at
// Info/Debug; that's for callers of the CacheFacade to decide.
type Logger interface {
	// Warn logs a non-fatal condition (tamper detected, deserialization
	// failure, soft-cleanup failure) with structured fields.
	Warn(msg string, fields map[string]any)

	// Error logs a storage failure together with its error value.
	Error(msg string, err error, fields map[string]any)
}

// LogLevel mirrors the handful of levels the engine cares about.
type LogLevel string

// Supported LogLevel values.
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig configures a ZerologLogger.
type LogConfig struct {
	Level      LogLevel
	JSONOutput bool
	Output     io.Writer
}

// ZerologLogger is the default Logger, backed by github.com/rs/zerolog.
// Unlike the teacher's package-level global Logger, this is a
// constructor-injected value: the core depends only on the Logger
// interface, never on process-wide state.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger builds a ZerologLogger from cfg.
func NewZerologLogger(cfg LogConfig) *ZerologLogger {
	level := zerolog.InfoLevel

	switch cfg.Level {
	case LogLevelDebug:
		level = zerolog.DebugLevel
	case LogLevelWarn:
		level = zerolog.WarnLevel
	case LogLevelError:
		level = zerolog.ErrorLevel
	case LogLevelInfo, "":
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var zl zerolog.Logger

	if cfg.JSONOutput {
		zl = zerolog.New(output).Level(level).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Logger()
	}

	return &ZerologLogger{logger: zl}
}

// Warn implements Logger.
func (l *ZerologLogger) Warn(msg string, fields map[string]any) {
	event := l.logger.Warn().Str("component", "kvlite")

	for k, v := range fields {
		event = event.Interface(k, v)
	}

	event.Msg(msg)
}

// Error implements Logger.
func (l *ZerologLogger) Error(msg string, err error, fields map[string]any) {
	event := l.logger.Error().Str("component", "kvlite").Err(err)

	for k, v := range fields {
		event = event.Interface(k, v)
	}

	event.Msg(msg)
}

// NopLogger discards everything. Useful as a default when the caller does
// not supply a Logger.
type NopLogger struct{}

// Warn implements Logger.
func (NopLogger) Warn(string, map[string]any) {}

// Error implements Logger.
func (NopLogger) Error(string, error, map[string]any) {}
