package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a zerolog.Logger carrying the field vocabulary shared by the
// planner and the executor: component, pipeline_id, host_id, cloud_id.
type Logger struct {
	zlog zerolog.Logger
}

type loggerKey struct{}

// NewLogger builds the process logger. Output goes to stderr.
func NewLogger(cfg LoggingConfig) *Logger {
	var out io.Writer = os.Stderr
	if cfg.Format != FormatJSON {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(out).
		With().Timestamp().Logger().
		Level(parseLevel(cfg.Level))
	return &Logger{zlog: zlog}
}

// FromZerolog wraps an existing zerolog logger, keeping its settings.
func FromZerolog(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog}
}

// Zerolog exposes the underlying logger for code that composes its own
// events.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

// WithPipeline tags the logger with a pipeline ID.
func (l *Logger) WithPipeline(pipelineID string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("pipeline_id", pipelineID).Logger()}
}

// WithHost tags the logger with a host's identity.
func (l *Logger) WithHost(hostID int64, innerIP string) *Logger {
	return &Logger{zlog: l.zlog.With().
		Int64("host_id", hostID).
		Str("inner_ip", innerIP).
		Logger()}
}

// WithCloud tags the logger with a cloud region ID.
func (l *Logger) WithCloud(cloudID int64) *Logger {
	return &Logger{zlog: l.zlog.With().Int64("cloud_id", cloudID).Logger()}
}

// WithError attaches an error to every event the child logger emits.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// WithContext embeds the logger in a context.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext extracts the logger from a context, falling back to a
// plain stderr logger when none is embedded.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: zerolog.New(os.Stderr).With().Timestamp().Logger()}
}

func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zlog.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zlog.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zlog.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zlog.Error().Msgf(format, args...) }

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
