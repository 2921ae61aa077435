package distributor

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/aggregator"
	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/filter"
	"github.com/takrelay/aggregator/internal/metrics"
)

// distributorParams carries the optional CircuitChecker: health imports
// connpool, and connpool imports distributor for the Strategy type, so
// distributor importing health directly would close that cycle. The
// wiring root (cmd/fx.go) bridges the concrete *health.Monitor to this
// interface instead.
type distributorParams struct {
	fx.In

	Config    *config.Config
	Sender    ConnectionSender
	Snapshot  *filter.Snapshot
	RulesByID map[string]config.RuleConfig
	Metrics   *metrics.Registry
	Logger    *slog.Logger
	Breaker   CircuitChecker `optional:"true"`
}

// Module provides the Distributor itself. ConnectionSender and
// CircuitChecker are supplied by the wiring root (cmd/fx.go), which is the
// one place allowed to know both the connpool.Pool/*health.Monitor
// types and this package's interfaces without creating an import cycle.
var Module = fx.Module("distributor",
	fx.Provide(func(p distributorParams) *Distributor {
		d := New(p.Config.Distributor, p.Sender, p.Snapshot, p.RulesByID, p.Metrics, p.Logger)
		if p.Breaker != nil {
			d = d.WithCircuitChecker(p.Breaker)
		}
		return d
	}),
	fx.Invoke(func(lc fx.Lifecycle, d *Distributor, a *aggregator.Aggregator) {
		var cancel context.CancelFunc
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())
				go d.Run(ctx, a.Output())
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
