package observability

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Config toggles metrics collection. Spans are logged whenever Setup has
// been given a logger.
type Config struct {
	Enabled bool
}

type ShutdownFunc func(context.Context) error

type hooks struct {
	logger *slog.Logger
	cfg    Config
}

var installed atomic.Pointer[hooks]

func currentLogger() (*slog.Logger, Config) {
	h := installed.Load()
	if h == nil {
		return nil, Config{}
	}
	return h.logger, h.cfg
}

// Setup installs the span logger and, when enabled, builds the metric set.
// A disabled setup returns nil *Metrics; every recorder accepts nil.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Metrics, ShutdownFunc, error) {
	installed.Store(&hooks{logger: logger, cfg: cfg})

	var metrics *Metrics
	state := "disabled"
	if cfg.Enabled {
		metrics = NewMetrics()
		state = "metrics enabled"
	}
	if logger != nil {
		logger.InfoContext(ctx, "[OBSERVABILITY][SETUP] "+state)
	}

	return metrics, func(context.Context) error {
		installed.Store(nil)
		return nil
	}, nil
}
