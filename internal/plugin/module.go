package plugin

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/metrics"
)

var Module = fx.Module("plugin",
	fx.Provide(
		func(cfg *config.Config, reg *metrics.Registry, logger *slog.Logger) *Runtime {
			return NewRuntime(cfg.Plugins, reg, logger)
		},
		fx.Annotate(
			func(r *Runtime) filter.PluginInvoker { return r },
			fx.As(new(filter.PluginInvoker)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, r *Runtime) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				for _, decl := range cfg.Plugins.Filters {
					if err := r.Load(ctx, decl, cfg.Plugins.SandboxPolicy, KindFilter); err != nil {
						return err
					}
				}
				for _, decl := range cfg.Plugins.Transformers {
					if err := r.Load(ctx, decl, cfg.Plugins.SandboxPolicy, KindTransformer); err != nil {
						return err
					}
				}
				if cfg.Plugins.HotReload {
					return r.WatchDir(context.Background(), cfg.Plugins.PluginDir)
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return r.Close(ctx)
			},
		})
	}),
)
