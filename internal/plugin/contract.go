package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// buildHostModule builds the "takagg_host" module: a logging sink
// (host_log) and a Unix-millisecond clock (host_now_unix_ms). Nothing in
// this package calls it, so plugin sandboxes are instantiated without these
// host functions and a plugin that imports takagg_host fails to
// instantiate. Network and filesystem access is capability-gated and wired
// separately in sandbox.go via WASI, never through this module.
func buildHostModule(ctx context.Context, r wazero.Runtime, logger *slog.Logger, pluginID string) (api.Module, error) {
	builder := r.NewHostModuleBuilder("takagg_host")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			buf, ok := mod.Memory().Read(ptr, length)
			if !ok {
				return
			}
			logger.Info("plugin log", "plugin_id", pluginID, "message", string(buf))
		}).
		Export("host_log")

	builder.NewFunctionBuilder().
		WithFunc(func(context.Context) uint64 {
			return uint64(time.Now().UnixMilli())
		}).
		Export("host_now_unix_ms")

	return builder.Instantiate(ctx)
}
