package aggregator

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/metrics"
)

var Module = fx.Module("aggregator",
	fx.Provide(func(cfg *config.Config, reg *metrics.Registry, logger *slog.Logger) *Aggregator {
		return New(cfg.Aggregator, reg, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, a *Aggregator) {
		var cancel context.CancelFunc
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())
				go a.Run(ctx)
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
