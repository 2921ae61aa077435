// Package plugin sandboxes third-party filter/transformer extensions as
// WASM modules run under wazero. Each invocation gets a freshly
// instantiated module (the "ephemeral sandbox store"); nothing survives
// between calls. Capabilities are enforced by only wiring the WASI host
// imports a plugin's declared policy grants.
package plugin

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/takrelay/aggregator/internal/config"
	"github.com/takrelay/aggregator/internal/cot"
	takerrors "github.com/takrelay/aggregator/internal/errors"
	"github.com/takrelay/aggregator/internal/metrics"
)

// Runtime owns the shared wazero.Runtime and every loaded plugin instance.
// Compilation is cached per Instance; only module instantiation happens
// per call.
type Runtime struct {
	wz wazero.Runtime

	mu        sync.RWMutex
	instances map[string]*Instance

	limits  config.ResourceLimitsConfig
	logger  *slog.Logger
	metrics *metrics.Registry
}

func NewRuntime(cfg config.PluginsConfig, reg *metrics.Registry, logger *slog.Logger) *Runtime {
	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memoryLimitPages(cfg.ResourceLimits.MemoryLimitMiB))

	return &Runtime{
		wz:        wazero.NewRuntimeWithConfig(context.Background(), runtimeCfg),
		instances: make(map[string]*Instance),
		limits:    cfg.ResourceLimits,
		logger:    logger.With("component", "plugin"),
		metrics:   reg,
	}
}

// memoryLimitPages converts a MiB cap to wazero's 64KiB page unit.
func memoryLimitPages(mib int) uint32 {
	if mib <= 0 {
		mib = 50
	}
	return uint32(mib * 1024 * 1024 / 65536)
}

// Load compiles the .wasm binary at decl.Path, content-addressing it by
// SHA-256 (spec: plugin integrity), and registers it under decl.ID.
func (r *Runtime) Load(ctx context.Context, decl config.PluginDeclConfig, policy config.SandboxPolicyConfig, kind Kind) error {
	const op = "plugin.Load"

	bin, err := os.ReadFile(decl.Path)
	if err != nil {
		return takerrors.Wrap(op, takerrors.KindPluginUnhealthy, err)
	}
	sum := sha256.Sum256(bin)

	compiled, err := r.wz.CompileModule(ctx, bin)
	if err != nil {
		return takerrors.Wrap(op, takerrors.KindPluginTrapped, err)
	}

	inst := &Instance{
		ID:           decl.ID,
		Kind:         kind,
		Path:         decl.Path,
		SHA256:       sum,
		Capabilities: capabilitiesFromPolicy(policy),
		Config:       decl.Config,
		compiled:     compiled,
		breaker:      newBreaker(decl.ID, decl.CircuitFailureThreshold),
	}
	inst.enabled.Store(true)

	r.mu.Lock()
	if old, exists := r.instances[decl.ID]; exists {
		_ = old.compiled.Close(ctx)
	}
	r.instances[decl.ID] = inst
	r.mu.Unlock()

	r.logger.Info("plugin loaded", "plugin_id", decl.ID, "kind", kind, "sha256", fmt.Sprintf("%x", sum))
	return nil
}

// Reload recompiles the plugin from disk, replacing the running instance
// only if the new binary compiles successfully (a bad reload never takes
// down a healthy plugin).
func (r *Runtime) Reload(ctx context.Context, id string) error {
	r.mu.RLock()
	inst, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return takerrors.NotFound("plugin.Reload")
	}

	decl := config.PluginDeclConfig{ID: inst.ID, Path: inst.Path, Config: inst.Config}
	policy := config.SandboxPolicyConfig{
		AllowNetwork: inst.Capabilities.Network,
		AllowFSRead:  inst.Capabilities.FSRead,
		AllowFSWrite: inst.Capabilities.FSWrite,
		AllowEnvVars: inst.Capabilities.EnvVars,
		AllowedPaths: inst.Capabilities.AllowedPaths,
	}
	return r.Load(ctx, decl, policy, inst.Kind)
}

func (r *Runtime) Unload(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil
	}
	delete(r.instances, id)
	return inst.compiled.Close(ctx)
}

func (r *Runtime) Toggle(id string, enabled bool) error {
	r.mu.RLock()
	inst, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return takerrors.NotFound("plugin.Toggle")
	}
	inst.enabled.Store(enabled)
	return nil
}

func (r *Runtime) UpdateConfig(id string, cfg map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return takerrors.NotFound("plugin.UpdateConfig")
	}
	inst.Config = cfg
	return nil
}

func (r *Runtime) Stats(id string) (Stats, bool) {
	r.mu.RLock()
	inst, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return inst.Stats(), true
}

func (r *Runtime) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stats, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst.Stats())
	}
	return out
}

type filterPayload struct {
	Type      string  `json:"type"`
	UID       string  `json:"uid"`
	Callsign  string  `json:"callsign"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	HasLatLon bool    `json:"has_lat_lon"`
}

type filterResult struct {
	Matched bool `json:"matched"`
}

// EvaluateFilter runs a filter-kind plugin against ev, implementing
// filter.PluginInvoker without filter ever importing this package.
func (r *Runtime) EvaluateFilter(ctx context.Context, pluginID string, ev *cot.Event, timeout time.Duration) (bool, error) {
	inst, err := r.lookupEnabled(pluginID)
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(toFilterPayload(ev))
	if err != nil {
		return false, err
	}

	out, err := r.execute(ctx, inst, "evaluate_filter", payload, timeout)
	if err != nil {
		return false, err
	}

	var res filterResult
	if err := json.Unmarshal(out, &res); err != nil {
		return false, takerrors.Wrap("plugin.EvaluateFilter", takerrors.KindPluginTrapped, err)
	}
	return res.Matched, nil
}

// ApplyTransform runs a transformer-kind plugin, returning the (possibly
// unmodified) event the plugin produced.
func (r *Runtime) ApplyTransform(ctx context.Context, pluginID string, ev *cot.Event, timeout time.Duration) (*cot.Event, error) {
	inst, err := r.lookupEnabled(pluginID)
	if err != nil {
		return ev, err
	}

	payload, err := json.Marshal(toFilterPayload(ev))
	if err != nil {
		return ev, err
	}

	out, err := r.execute(ctx, inst, "transform", payload, timeout)
	if err != nil {
		return ev, err
	}

	var p filterPayload
	if err := json.Unmarshal(out, &p); err != nil {
		return ev, takerrors.Wrap("plugin.ApplyTransform", takerrors.KindPluginTrapped, err)
	}

	out2 := *ev
	out2.Type, out2.UID, out2.Callsign = p.Type, p.UID, p.Callsign
	out2.Lat, out2.Lon, out2.HasLatLon = p.Lat, p.Lon, p.HasLatLon
	return &out2, nil
}

func toFilterPayload(ev *cot.Event) filterPayload {
	return filterPayload{
		Type: ev.Type, UID: ev.UID, Callsign: ev.Callsign,
		Lat: ev.Lat, Lon: ev.Lon, HasLatLon: ev.HasLatLon,
	}
}

func (r *Runtime) lookupEnabled(pluginID string) (*Instance, error) {
	r.mu.RLock()
	inst, ok := r.instances[pluginID]
	r.mu.RUnlock()
	if !ok {
		return nil, takerrors.NotFound("plugin.lookupEnabled")
	}
	if !inst.Enabled() {
		return nil, takerrors.New("plugin.lookupEnabled", takerrors.KindPluginUnhealthy)
	}
	if !inst.Healthy() {
		return nil, takerrors.New("plugin.lookupEnabled", takerrors.KindPluginUnhealthy)
	}
	return inst, nil
}

// execute runs fnName on a fresh sandbox instance of inst under the
// circuit breaker and a deadline capped by both the call's own timeout and
// the runtime's configured maximum.
func (r *Runtime) execute(ctx context.Context, inst *Instance, fnName string, payload []byte, timeout time.Duration) ([]byte, error) {
	inst.executions.Add(1)
	if r.metrics != nil {
		r.metrics.PluginExecutions.WithLabelValues(inst.ID).Inc()
	}

	deadline := r.effectiveTimeout(inst.Kind, timeout)
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	result, err := inst.breaker.Execute(func() (interface{}, error) {
		mod, err := instantiate(callCtx, r.wz, inst)
		if err != nil {
			return nil, takerrors.Wrap("plugin.execute", takerrors.KindPluginTrapped, err)
		}
		defer mod.Close(callCtx)

		return callBytesFn(callCtx, mod, fnName, payload)
	})

	if err != nil {
		inst.errors.Add(1)
		if r.metrics != nil {
			r.metrics.PluginErrors.WithLabelValues(inst.ID).Inc()
		}
		if callCtx.Err() != nil {
			inst.timeouts.Add(1)
			if r.metrics != nil {
				r.metrics.PluginTimeouts.WithLabelValues(inst.ID).Inc()
			}
			return nil, takerrors.Wrap("plugin.execute", takerrors.KindPluginTimedOut, err)
		}
		return nil, err
	}

	return result.([]byte), nil
}

func (r *Runtime) effectiveTimeout(kind Kind, requested time.Duration) time.Duration {
	var ceiling time.Duration
	if kind == KindTransformer {
		ceiling = time.Duration(r.limits.TransformerTimeoutMs) * time.Millisecond
	} else {
		ceiling = time.Duration(r.limits.FilterTimeoutMs) * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = 10 * time.Millisecond
	}
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

func (r *Runtime) Close(ctx context.Context) error {
	return r.wz.Close(ctx)
}
