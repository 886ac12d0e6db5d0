// Package requestctx carries per-request values for the cart service: the scoped logger,
// trace identifiers and the storefront session id.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey  struct{}
	traceKey   struct{}
	sessionKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo identifies the server span handling a request.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

func base(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// WithLogger returns ctx carrying logger. A nil logger stores the shared no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(base(ctx), loggerKey{}, logger)
}

// Logger returns the request logger, or the shared no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := base(ctx).Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to. Callers compare against it to detect a
// context without a logger.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace returns ctx carrying info.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(base(ctx), traceKey{}, info)
}

// Trace returns the trace identifiers stored on ctx.
func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := base(ctx).Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id stored on ctx, or "".
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionID returns ctx carrying the storefront session id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(base(ctx), sessionKey{}, id)
}

// SessionID returns the storefront session id, or "" when the request has none.
func SessionID(ctx context.Context) string {
	id, _ := base(ctx).Value(sessionKey{}).(string)
	return id
}
