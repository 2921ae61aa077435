package health

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/connpool"
	"github.com/takrelay/aggregator/internal/metrics"
)

var Module = fx.Module("health",
	fx.Provide(func(cfg *config.Config, pool connpool.Pool, reg *metrics.Registry, logger *slog.Logger) *Monitor {
		return NewMonitor(cfg.Health, pool, reg, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, m *Monitor) {
		var cancel context.CancelFunc
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())
				go m.Run(ctx)
				return nil
			},
			OnStop: func(context.Context) error {
				if cancel != nil {
					cancel()
				}
				return nil
			},
		})
	}),
)
