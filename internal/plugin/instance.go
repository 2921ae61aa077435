package plugin

import (
	"sync/atomic"

	"github.com/sony/gobreaker"
	"github.com/tetratelabs/wazero"

	"github.com/takrelay/aggregator/internal/config"
)

// Kind distinguishes filter plugins (accept/reject a single event) from
// transformer plugins (rewrite an event before it reaches the distributor).
type Kind string

const (
	KindFilter      Kind = "filter"
	KindTransformer Kind = "transformer"
)

// Capabilities gates which WASI host imports a plugin's sandbox receives.
// A plugin that calls a syscall with no matching host import traps, which
// the runtime classifies as PluginTrapped rather than granting it anyway.
type Capabilities struct {
	Network      bool
	FSRead       bool
	FSWrite      bool
	EnvVars      bool
	AllowedPaths []string
}

func capabilitiesFromPolicy(p config.SandboxPolicyConfig) Capabilities {
	return Capabilities{
		Network:      p.AllowNetwork,
		FSRead:       p.AllowFSRead,
		FSWrite:      p.AllowFSWrite,
		EnvVars:      p.AllowEnvVars,
		AllowedPaths: p.AllowedPaths,
	}
}

// Instance is one loaded plugin: its compiled module plus the bookkeeping
// the runtime needs to execute, monitor, and hot-reload it.
type Instance struct {
	ID           string
	Kind         Kind
	Path         string
	SHA256       [32]byte
	Capabilities Capabilities
	Config       map[string]any

	compiled wazero.CompiledModule

	enabled    atomic.Bool
	executions atomic.Uint64
	errors     atomic.Uint64
	timeouts   atomic.Uint64

	breaker *gobreaker.CircuitBreaker
}

func newBreaker(pluginID string, failureThreshold int) *gobreaker.CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	settings := gobreaker.Settings{
		Name: pluginID,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func (i *Instance) Enabled() bool { return i.enabled.Load() }

func (i *Instance) Healthy() bool { return i.breaker.State() != gobreaker.StateOpen }

// Stats is a point-in-time snapshot of a plugin's execution counters.
type Stats struct {
	ID         string
	Kind       Kind
	Enabled    bool
	Healthy    bool
	Executions uint64
	Errors     uint64
	Timeouts   uint64
}

func (i *Instance) Stats() Stats {
	return Stats{
		ID:         i.ID,
		Kind:       i.Kind,
		Enabled:    i.Enabled(),
		Healthy:    i.Healthy(),
		Executions: i.executions.Load(),
		Errors:     i.errors.Load(),
		Timeouts:   i.timeouts.Load(),
	}
}
