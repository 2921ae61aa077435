// Package metrics is the process-wide metrics registry (spec §9: "Global
// state ... limited to the plugin-runtime engine and the metrics
// registry"), backing GET /api/v1/metrics in Prometheus text format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter/gauge the core subsystems update.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	ConnectionsByState *prometheus.GaugeVec
	MsgsIn             *prometheus.CounterVec
	MsgsOut            *prometheus.CounterVec
	BytesIn            *prometheus.CounterVec
	BytesOut           *prometheus.CounterVec
	ConnectionErrors   *prometheus.CounterVec
	Reconnects         *prometheus.CounterVec

	DuplicatesDropped prometheus.Counter
	UniquesForwarded  prometheus.Counter
	ParseWarnings     prometheus.Counter

	DroppedByBackpressure *prometheus.CounterVec
	RuleEvaluations       *prometheus.CounterVec

	PluginExecutions prometheus.CounterVec
	PluginErrors     prometheus.CounterVec
	PluginTimeouts   prometheus.CounterVec

	CircuitState *prometheus.GaugeVec
}

// New constructs and registers every collector against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		Registerer: reg,
		Gatherer:   reg,

		ConnectionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "takagg_connections",
			Help: "Current number of connections by state.",
		}, []string{"state"}),

		MsgsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_connection_msgs_in_total",
			Help: "Frames received per connection.",
		}, []string{"connection_id"}),

		MsgsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_connection_msgs_out_total",
			Help: "Frames sent per connection.",
		}, []string{"connection_id"}),

		BytesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_connection_bytes_in_total",
			Help: "Bytes received per connection.",
		}, []string{"connection_id"}),

		BytesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_connection_bytes_out_total",
			Help: "Bytes sent per connection.",
		}, []string{"connection_id"}),

		ConnectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_connection_errors_total",
			Help: "Errors observed per connection.",
		}, []string{"connection_id"}),

		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_connection_reconnects_total",
			Help: "Reconnect attempts per connection.",
		}, []string{"connection_id"}),

		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takagg_aggregator_duplicates_dropped_total",
			Help: "Frames dropped as duplicates by the aggregator.",
		}),

		UniquesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takagg_aggregator_uniques_forwarded_total",
			Help: "Unique frames forwarded by the aggregator.",
		}),

		ParseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "takagg_aggregator_parse_warnings_total",
			Help: "Frames forwarded despite a CoT parse warning.",
		}),

		DroppedByBackpressure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_distributor_dropped_by_backpressure_total",
			Help: "Frames not delivered per destination: dropped by the backpressure strategy or skipped while the circuit breaker was open.",
		}, []string{"connection_id"}),

		RuleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_distributor_rule_evaluations_total",
			Help: "Filter rule evaluation outcomes.",
		}, []string{"rule_id", "outcome"}),

		PluginExecutions: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_plugin_executions_total",
			Help: "Plugin invocations.",
		}, []string{"plugin_id"}),

		PluginErrors: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_plugin_errors_total",
			Help: "Plugin invocation errors.",
		}, []string{"plugin_id"}),

		PluginTimeouts: *prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "takagg_plugin_timeouts_total",
			Help: "Plugin invocation timeouts.",
		}, []string{"plugin_id"}),

		CircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "takagg_circuit_breaker_state",
			Help: "Circuit breaker state per connection (0=closed,1=half_open,2=open).",
		}, []string{"connection_id"}),
	}

	reg.MustRegister(
		r.ConnectionsByState, r.MsgsIn, r.MsgsOut, r.BytesIn, r.BytesOut,
		r.ConnectionErrors, r.Reconnects, r.DuplicatesDropped, r.UniquesForwarded,
		r.ParseWarnings, r.DroppedByBackpressure, r.RuleEvaluations,
		&r.PluginExecutions, &r.PluginErrors, &r.PluginTimeouts, r.CircuitState,
	)

	return r
}
