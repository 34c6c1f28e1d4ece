// Package logger provides structured, leveled logging for the application.
package logger

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Level represents a logging level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LoggerInterface is the logging contract used across the application.
// Keyvals are alternating key/value pairs, slog-style.
type LoggerInterface interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Logger implements LoggerInterface on top of zerolog.
type Logger struct {
	zl zerolog.Logger
}

var _ LoggerInterface = (*Logger)(nil)

// New creates a Logger writing to w at the given level. The service name is
// attached to every event; attrs are optional static fields.
func New(w io.Writer, level Level, service string, attrs map[string]any) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	ctx := zerolog.New(w).Level(toZerolog(level)).With().Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	for k, v := range attrs {
		ctx = ctx.Interface(k, v)
	}

	return &Logger{zl: ctx.Logger()}
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l *Logger) Debug(ctx context.Context, msg string, keyvals ...any) {
	l.emit(l.zl.Debug(), msg, keyvals)
}

func (l *Logger) Info(ctx context.Context, msg string, keyvals ...any) {
	l.emit(l.zl.Info(), msg, keyvals)
}

func (l *Logger) Warn(ctx context.Context, msg string, keyvals ...any) {
	l.emit(l.zl.Warn(), msg, keyvals)
}

func (l *Logger) Error(ctx context.Context, msg string, keyvals ...any) {
	l.emit(l.zl.Error(), msg, keyvals)
}

func (l *Logger) emit(ev *zerolog.Event, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		switch v := keyvals[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case error:
			if v != nil {
				ev = ev.Str(key, v.Error())
			}
		default:
			ev = ev.Interface(key, v)
		}
	}
	if len(keyvals)%2 != 0 {
		ev = ev.Interface("arg", keyvals[len(keyvals)-1])
	}
	ev.Msg(msg)
}
