package plugin

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// instantiate creates a fresh api.Module from inst's compiled module. A new
// instance per call is the "ephemeral sandbox store": no WASM linear memory
// or global state survives from one invocation to the next, so a
// misbehaving plugin call can never corrupt the next one's starting state.
func instantiate(ctx context.Context, runtime wazero.Runtime, inst *Instance) (api.Module, error) {
	if inst.Capabilities.Network || inst.Capabilities.FSRead || inst.Capabilities.FSWrite || inst.Capabilities.EnvVars {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
			return nil, fmt.Errorf("plugin: wasi instantiate: %w", err)
		}
	}

	modCfg := wazero.NewModuleConfig().WithName("")
	if inst.Capabilities.FSRead || inst.Capabilities.FSWrite {
		fsCfg := wazero.NewFSConfig()
		for _, p := range inst.Capabilities.AllowedPaths {
			fsCfg = fsCfg.WithDirMount(p, p)
		}
		modCfg = modCfg.WithFSConfig(fsCfg)
	}

	mod, err := runtime.InstantiateModule(ctx, inst.compiled, modCfg)
	if err != nil {
		// A trap during instantiation (missing import because a denied
		// capability was never wired, bad start function, OOM) surfaces
		// here; the caller classifies it as PluginTrapped.
		return nil, err
	}
	return mod, nil
}

// callBytesFn implements the (ptr,len)-in (ptr<<32|len)-out ABI convention
// the plugin contract uses for passing a CoT event payload and receiving a
// result payload, the same shared-memory protocol the pack's WASM bridge
// uses for its string-in/string-out calls.
func callBytesFn(ctx context.Context, mod api.Module, fnName string, input []byte) ([]byte, error) {
	allocFn := mod.ExportedFunction("plugin_alloc")
	freeFn := mod.ExportedFunction("plugin_free")
	targetFn := mod.ExportedFunction(fnName)
	if allocFn == nil || freeFn == nil || targetFn == nil {
		return nil, fmt.Errorf("plugin: missing export %q", fnName)
	}

	var inPtr uint64
	inLen := uint64(len(input))
	if inLen > 0 {
		results, err := allocFn.Call(ctx, inLen)
		if err != nil {
			return nil, fmt.Errorf("plugin alloc: %w", err)
		}
		inPtr = results[0]
		if inPtr == 0 {
			return nil, fmt.Errorf("plugin alloc returned null")
		}
		if !mod.Memory().Write(uint32(inPtr), input) {
			_, _ = freeFn.Call(ctx, inPtr, inLen)
			return nil, fmt.Errorf("plugin memory write out of range")
		}
	}

	results, err := targetFn.Call(ctx, inPtr, inLen)
	if inLen > 0 {
		_, _ = freeFn.Call(ctx, inPtr, inLen)
	}
	if err != nil {
		return nil, fmt.Errorf("plugin call %s: %w", fnName, err)
	}

	packed := results[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed & 0xFFFFFFFF)
	if outLen == 0 {
		return nil, nil
	}

	out, ok := mod.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("plugin memory read out of range")
	}
	cp := make([]byte, len(out))
	copy(cp, out)
	_, _ = freeFn.Call(ctx, uint64(outPtr), uint64(outLen))
	return cp, nil
}
