package filter

import (
	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/config"
)

var Module = fx.Module("filter",
	fx.Provide(func(cfg *config.Config, invoker PluginInvoker) (*Snapshot, map[string]config.RuleConfig, error) {
		chain, byID, err := Build(cfg.Filters, invoker)
		if err != nil {
			return nil, nil, err
		}
		return NewSnapshot(chain), byID, nil
	}),
)
