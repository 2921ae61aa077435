package ws

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/aggregator"
)

var Module = fx.Module("api.ws",
	fx.Provide(
		func(logger *slog.Logger) *Hub { return NewHub(logger) },
		NewStreamHandler,
	),
	fx.Invoke(func(lc fx.Lifecycle, hub *Hub, a *aggregator.Aggregator) {
		var cancel context.CancelFunc
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())
				go hub.Run(ctx, a.Broadcast())
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
