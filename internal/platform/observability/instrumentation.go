package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type spanKey struct{}

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := currentLogger()
	return cfg.Enabled
}

// SpanID returns the id of the innermost span carried by ctx, or "".
func SpanID(ctx context.Context) string {
	id, _ := ctx.Value(spanKey{}).(string)
	return id
}

// StartSpan logs the start of component/operation at debug level and
// returns a context carrying the new span id plus a func that logs the end
// with its duration. A non-nil error raises the end record to error level.
// Without Setup the span is free: ctx is returned unchanged.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger, _ := currentLogger()
	if logger == nil {
		return ctx, func(error) {}
	}

	id := uuid.NewString()[:8]
	base := []slog.Attr{
		slog.String("span", id),
		slog.String("component", component),
		slog.String("operation", operation),
	}
	if parent := SpanID(ctx); parent != "" {
		base = append(base, slog.String("parent", parent))
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "[OBSERVABILITY] span start", base...)

	ctx = context.WithValue(ctx, spanKey{}, id)
	return ctx, func(err error) {
		level := slog.LevelDebug
		attrs := append(base[:len(base):len(base)], slog.Duration("duration", time.Since(start)))
		if err != nil {
			level = slog.LevelError
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.LogAttrs(ctx, level, "[OBSERVABILITY] span end", attrs...)
	}
}
