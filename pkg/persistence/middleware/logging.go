package middleware

import (
	"context"
	"log/slog"
	"time"
)

// NewLogging logs every backend call at debug level. Failures other than
// not-found and conflicts are logged as warnings.
func NewLogging(logger *slog.Logger) Middleware {
	return observe(func(ctx context.Context, op string, elapsed time.Duration, err error) {
		result := outcome(err)
		level := slog.LevelDebug
		if result == "error" {
			level = slog.LevelWarn
		}
		attrs := []any{"operation", op, "outcome", result, "elapsed", elapsed}
		if err != nil {
			attrs = append(attrs, "err", err)
		}
		logger.Log(ctx, level, "backend call", attrs...)
	})
}
