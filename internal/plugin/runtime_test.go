package plugin

import (
	"log/slog"
	"testing"
	"time"

	"github.com/takrelay/aggregator/internal/config"
	takerrors "github.com/takrelay/aggregator/internal/errors"
)

func testRuntime() *Runtime {
	return NewRuntime(config.PluginsConfig{
		ResourceLimits: config.ResourceLimitsConfig{
			MemoryLimitMiB:       50,
			FilterTimeoutMs:      10,
			TransformerTimeoutMs: 10000,
		},
	}, nil, slog.New(slog.DiscardHandler))
}

func registerFakeInstance(r *Runtime, id string, kind Kind, enabled bool) *Instance {
	inst := &Instance{ID: id, Kind: kind, breaker: newBreaker(id, 5)}
	inst.enabled.Store(enabled)
	r.mu.Lock()
	r.instances[id] = inst
	r.mu.Unlock()
	return inst
}

func TestLookupEnabled_UnknownID(t *testing.T) {
	r := testRuntime()
	if _, err := r.lookupEnabled("missing"); err == nil {
		t.Fatalf("expected error for unknown plugin id")
	} else if kind, _ := takerrors.KindOf(err); kind != takerrors.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", kind)
	}
}

func TestLookupEnabled_DisabledRejected(t *testing.T) {
	r := testRuntime()
	registerFakeInstance(r, "p1", KindFilter, false)

	if _, err := r.lookupEnabled("p1"); err == nil {
		t.Fatalf("expected error for disabled plugin")
	}
}

func TestLookupEnabled_EnabledHealthyPasses(t *testing.T) {
	r := testRuntime()
	registerFakeInstance(r, "p1", KindFilter, true)

	if _, err := r.lookupEnabled("p1"); err != nil {
		t.Fatalf("expected enabled healthy plugin to pass lookup, got %v", err)
	}
}

func TestToggle_DisablesLookup(t *testing.T) {
	r := testRuntime()
	registerFakeInstance(r, "p1", KindFilter, true)

	if err := r.Toggle("p1", false); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if _, err := r.lookupEnabled("p1"); err == nil {
		t.Fatalf("expected disabled plugin to fail lookup after Toggle")
	}
}

func TestEffectiveTimeout_ClampsToCeiling(t *testing.T) {
	r := testRuntime()

	if got := r.effectiveTimeout(KindFilter, 5*time.Second); got != 10*time.Millisecond {
		t.Fatalf("expected filter timeout clamped to 10ms ceiling, got %v", got)
	}
	if got := r.effectiveTimeout(KindFilter, time.Millisecond); got != time.Millisecond {
		t.Fatalf("expected requested timeout under ceiling to be honored, got %v", got)
	}
	if got := r.effectiveTimeout(KindTransformer, 0); got != 10*time.Second {
		t.Fatalf("expected transformer default ceiling of 10s when unrequested, got %v", got)
	}
}

func TestMemoryLimitPages_DefaultsTo50MiB(t *testing.T) {
	if got := memoryLimitPages(0); got != memoryLimitPages(50) {
		t.Fatalf("expected zero MiB to default to 50MiB worth of pages")
	}
	if got := memoryLimitPages(50); got != 800 {
		t.Fatalf("expected 50MiB == 800 pages of 64KiB, got %d", got)
	}
}

func TestUpdateConfig_UnknownIDFails(t *testing.T) {
	r := testRuntime()
	if err := r.UpdateConfig("missing", map[string]any{"a": 1}); err == nil {
		t.Fatalf("expected error updating unknown plugin config")
	}
}
