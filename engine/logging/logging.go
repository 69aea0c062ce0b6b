// Package logging wraps log/slog with trace/span correlation so every log
// line emitted by a bridge or exporter can be joined back to the OTLP trace
// that produced it.
package logging

import (
	"context"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/term"
)

// Logger is the correlated logging surface used throughout the engine.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
	DebugCtx(ctx context.Context, msg string, attrs ...any)
	With(attrs ...any) Logger
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger wrapping base. If base is nil, slog's
// process-wide default logger is used.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) With(attrs ...any) Logger {
	return &correlatedLogger{base: l.base.With(attrs...)}
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, withCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, withCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, withCorrelation(ctx, attrs)...)
}

func (l *correlatedLogger) DebugCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.DebugContext(ctx, msg, withCorrelation(ctx, attrs)...)
}

// NewFromLevel builds a correlated Logger from a textual level
// (debug/info/warn/error, default info). It emits JSON unless level is
// "debug" and stdout is an interactive terminal, in which case it emits
// human-readable text — the same level-parse-then-pick-a-handler shape as
// monitoring.NewStructuredLogger, generalized from that function's
// explicit format parameter to a TTY check.
func NewFromLevel(level string) Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if slogLevel == slog.LevelDebug && term.IsTerminal(int(os.Stdout.Fd())) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return New(slog.New(handler))
}

// withCorrelation appends trace_id/span_id attrs when ctx carries a valid
// OTel span context, recording or not.
func withCorrelation(ctx context.Context, attrs []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return attrs
	}
	return append(attrs,
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
