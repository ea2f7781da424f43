package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// New returns a structured JSON logger writing to stdout.
// Debug records are kept only for local and dev environments.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(appEnv, os.Stdout)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(appEnv string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if appEnv == "local" || appEnv == "dev" {
		level = slog.LevelDebug
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// Discard returns a logger that drops every record. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// FromOr gets a logger from context, falling back to l.
func FromOr(ctx context.Context, l *slog.Logger) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if cl, ok := v.(*slog.Logger); ok && cl != nil {
			return cl
		}
	}
	return l
}
