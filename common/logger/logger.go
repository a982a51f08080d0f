package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
)

// Interface is the logging surface the acquisition packages depend on.
// *Logger satisfies it; tests pass a t.Logf-backed implementation.
type Interface interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ctxKey string

const requesterKey ctxKey = "requester_id"

// Logger wraps slog.Logger with contextual fields
type Logger struct {
	*slog.Logger
	stacks bool
}

// New creates a new logger writing to stdout
func New(level, format string) *Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, level, format string) *Logger {
	var handler slog.Handler

	logLevel := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{
		Logger: slog.New(handler),
		stacks: logLevel == slog.LevelDebug,
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ContextWithRequester stores the requester id for log correlation
func ContextWithRequester(ctx context.Context, requesterID string) context.Context {
	return context.WithValue(ctx, requesterKey, requesterID)
}

// WithContext returns a logger carrying the requester id from ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id, ok := ctx.Value(requesterKey).(string); ok && id != "" {
		return l.WithRequester(id)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...), stacks: l.stacks}
}

// WithRequester adds requester_id to logger context
func (l *Logger) WithRequester(requesterID string) *Logger {
	return &Logger{Logger: l.With("requester_id", requesterID), stacks: l.stacks}
}

// WithBatchID adds batch_id to logger context
func (l *Logger) WithBatchID(batchID string) *Logger {
	return &Logger{Logger: l.With("batch_id", batchID), stacks: l.stacks}
}

// WithComponent adds component to logger context
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With("component", name), stacks: l.stacks}
}

// Error logs an error. At debug level a stack trace is attached.
func (l *Logger) Error(msg string, args ...any) {
	if l.stacks {
		args = append(args, "stack", string(debug.Stack()))
	}
	l.Logger.Error(msg, args...)
}

// ErrorContext logs an error with context. At debug level a stack trace is attached.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	if l.stacks {
		args = append(args, "stack", string(debug.Stack()))
	}
	l.Logger.ErrorContext(ctx, msg, args...)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
