package auth

import (
	"go.uber.org/fx"

	"github.com/takrelay/aggregator/internal/config"
)

var Module = fx.Module("api.auth",
	fx.Provide(func(cfg *config.Config) *Authenticator { return New(cfg.API) }),
)
