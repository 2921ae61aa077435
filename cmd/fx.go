package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/aggregator"
	"github.com/takrelay/aggregator/internal/api/auth"
	"github.com/takrelay/aggregator/internal/api/rest"
	"github.com/takrelay/aggregator/internal/api/ws"
	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/connpool"
	"github.com/takrelay/aggregator/internal/distributor"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/health"
	"github.com/takrelay/aggregator/internal/logging"
	"github.com/takrelay/aggregator/internal/metrics"
	"github.com/takrelay/aggregator/internal/plugin"
	"github.com/takrelay/aggregator/internal/telemetry"
)

// NewApp wires every subsystem module into one fx.App. connpool.Pool and
// *health.Monitor are both types other packages only reach through
// narrow interfaces (distributor.ConnectionSender, distributor.CircuitChecker)
// to avoid import cycles; this is the one place allowed to see every
// concrete type and bridge them together.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			func() *slog.Logger { return logging.New(cfg.Application.Dev()) },
			metrics.New,
			telemetry.NewProvider,
		),
		fx.Invoke(func(lc fx.Lifecycle, tp *telemetry.Provider) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error { return tp.Shutdown(ctx) },
			})
		}),

		connpool.Module,
		aggregator.Module,
		filter.Module,
		plugin.Module,
		health.Module,
		fx.Provide(
			func(p connpool.Pool) distributor.ConnectionSender { return p },
			func(m *health.Monitor) distributor.CircuitChecker { return m },
		),
		distributor.Module,

		auth.Module,
		ws.Module,
		rest.Module,

		fx.Invoke(startConnections),
	)
}

// startConnections registers every configured server with the pool on
// OnStart and wires each connection's inbound channel into the aggregator,
// the way the teacher's registry seeds its initial set of subscribers.
func startConnections(lc fx.Lifecycle, cfg *config.Config, pool connpool.Pool, agg *aggregator.Aggregator, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for _, server := range cfg.Servers {
				id, err := pool.AddConnection(ctx, server)
				if err != nil {
					logger.Error("failed to add configured connection", "server_id", server.ID, "error", err)
					continue
				}
				conn, ok := pool.Connection(id)
				if !ok {
					continue
				}
				agg.AddSource(context.Background(), conn.Inbound())
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Application.ShutdownTimeout()+5*time.Second)
			defer cancel()
			return pool.Shutdown(shutdownCtx)
		},
	})
}
