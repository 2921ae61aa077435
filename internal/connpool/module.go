package connpool

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/transport"
)

var Module = fx.Module("connpool",
	fx.Provide(
		transport.NewFactory,
		func(cfg *config.Config, factory transport.Factory, logger *slog.Logger) Pool {
			return New(cfg.Application, factory, logger)
		},
	),
)
