// Package requestctx carries request scoped values (logger, trace, terminal identity) through
// context.Context.
package requestctx

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey   contextKey = "github.com/tillpoint/api/internal/platform/requestctx/logger"
	traceContextKey    contextKey = "github.com/tillpoint/api/internal/platform/requestctx/trace"
	terminalContextKey contextKey = "github.com/tillpoint/api/internal/platform/requestctx/terminal"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Terminal identifies the point-of-sale device and store a request comes from.
type Terminal struct {
	ID      string
	StoreID string
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	return info, ok
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithTerminal records the calling terminal. Blank identifiers are ignored.
func WithTerminal(ctx context.Context, terminal Terminal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	terminal.ID = strings.TrimSpace(terminal.ID)
	terminal.StoreID = strings.TrimSpace(terminal.StoreID)
	if terminal.ID == "" && terminal.StoreID == "" {
		return ctx
	}
	return context.WithValue(ctx, terminalContextKey, terminal)
}

// TerminalFrom returns the terminal recorded on ctx.
func TerminalFrom(ctx context.Context) (Terminal, bool) {
	if ctx == nil {
		return Terminal{}, false
	}
	terminal, ok := ctx.Value(terminalContextKey).(Terminal)
	return terminal, ok
}
