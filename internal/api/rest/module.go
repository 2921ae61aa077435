package rest

import (
	"context"
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/config"
)

var Module = fx.Module("api.rest",
	fx.Provide(NewRouter),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, router http.Handler, logger *slog.Logger) {
		srv := &http.Server{Addr: cfg.API.ListenAddr, Handler: router}
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("rest server failed", "error", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}),
)
