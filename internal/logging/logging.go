// Package logging provides the shared slog setup plus helpers for keeping
// untrusted input out of log lines and for carrying the request-scoped
// logger through the pipeline explicitly (no ambient thread-local state).
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide default logger. Level comes from
// LOG_LEVEL (debug|info|warn|error), defaulting to info.
func Setup(service string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", service)
	slog.SetDefault(logger)
	return logger
}

// Sanitize strips CR/LF from untrusted strings before they reach a log
// line, preventing log injection via request fields.
func Sanitize(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	r := strings.NewReplacer("\r", " ", "\n", " ")
	return r.Replace(s)
}

type ctxKey struct{}

// WithLogger returns a context carrying a request-scoped logger. Handlers
// attach request_id / correlation_id once; everything downstream pulls the
// enriched logger back out with FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request-scoped logger, or the default logger when
// the context carries none.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
