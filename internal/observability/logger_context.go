// Package observability carries request-scoped logging state through contexts.
package observability

import (
	"context"
	"log/slog"
)

type loggerContextKey struct{}

// correlationContextKey stores the id tying log lines of one HTTP request or
// one retrieval run together.
type correlationContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if lg, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && lg != nil {
		return lg
	}
	return slog.Default()
}

// WithCorrelation stores id under attr (e.g. "request_id", "run_id") and
// returns a context whose logger carries it on every line.
func WithCorrelation(ctx context.Context, attr, id string) context.Context {
	if ctx == nil || id == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, correlationContextKey{}, id)
	return ContextWithLogger(ctx, LoggerFromContext(ctx).With(slog.String(attr, id)))
}

// CorrelationID returns the id stored by WithCorrelation, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationContextKey{}).(string)
	return id
}
