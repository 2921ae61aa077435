// Package config loads and validates the aggregator's configuration value
// (spec: application, servers, aggregator, distributor, health, filters,
// plugins) using viper for file/env binding, the same way the teacher wires
// its configuration layer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	takerrors "github.com/takrelay/aggregator/internal/errors"
)

// Config is the fully validated configuration consumed by the core. It is
// the "collaborator-provided, already validated" value spec.md assumes —
// this package is the thin collaborator that produces it.
type Config struct {
	Application ApplicationConfig `mapstructure:"application"`
	Servers     []ServerConfig    `mapstructure:"servers"`
	Aggregator  AggregatorConfig  `mapstructure:"aggregator"`
	Distributor DistributorConfig `mapstructure:"distributor"`
	Health      HealthConfig      `mapstructure:"health"`
	Filters     FiltersConfig     `mapstructure:"filters"`
	Plugins     PluginsConfig     `mapstructure:"plugins"`
	API         APIConfig         `mapstructure:"api"`
}

type ApplicationConfig struct {
	MaxConnections    int    `mapstructure:"max_connections"`
	WorkerThreads     int    `mapstructure:"worker_threads"`
	ShutdownTimeoutMs int    `mapstructure:"shutdown_timeout_ms"`
	Environment       string `mapstructure:"environment"` // "production" or "development"
}

// Dev reports whether logging should favor human-readable text output over
// JSON, mirroring the teacher's own prod/dev logging split.
func (a ApplicationConfig) Dev() bool { return a.Environment != "production" }

func (a ApplicationConfig) ShutdownTimeout() time.Duration {
	return time.Duration(a.ShutdownTimeoutMs) * time.Millisecond
}

type ReconnectConfig struct {
	BaseMs      int     `mapstructure:"base_ms"`
	MaxMs       int     `mapstructure:"max_ms"`
	MaxAttempts int     `mapstructure:"max_attempts"`
	Jitter      float64 `mapstructure:"jitter"`
}

type TLSConfig struct {
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	CAFile             string `mapstructure:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	ServerName         string `mapstructure:"server_name"`
}

type ServerConfig struct {
	ID              string          `mapstructure:"id"`
	Endpoint        string          `mapstructure:"endpoint"`
	Protocol        string          `mapstructure:"protocol"` // tcp, udp, tls, ws, multicast
	Priority        int             `mapstructure:"priority"`
	AutoReconnect   bool            `mapstructure:"auto_reconnect"`
	Reconnect       ReconnectConfig `mapstructure:"reconnect"`
	TLS             TLSConfig       `mapstructure:"tls"`
	ChannelCapacity int             `mapstructure:"channel_capacity"`
}

type AggregatorConfig struct {
	DedupWindowMs int `mapstructure:"dedup_window_ms"`
	MaxEntries    int `mapstructure:"max_entries"`
	WorkerCount   int `mapstructure:"worker_count"`
	ShardCount    int `mapstructure:"shard_count"`
}

func (a AggregatorConfig) DedupWindow() time.Duration {
	return time.Duration(a.DedupWindowMs) * time.Millisecond
}

type DistributorConfig struct {
	MaxWorkers       int    `mapstructure:"max_workers"`
	BatchSize        int    `mapstructure:"batch_size"`
	FlushIntervalMs  int    `mapstructure:"flush_interval_ms"`
	DefaultStrategy  string `mapstructure:"default_strategy"` // drop_on_full, block_until_space, try_for_timeout
	TryTimeoutMs     int    `mapstructure:"try_timeout_ms"`
	SourceAffine     bool   `mapstructure:"source_affine"`
}

func (d DistributorConfig) FlushInterval() time.Duration {
	return time.Duration(d.FlushIntervalMs) * time.Millisecond
}

func (d DistributorConfig) TryTimeout() time.Duration {
	return time.Duration(d.TryTimeoutMs) * time.Millisecond
}

type HealthConfig struct {
	CheckIntervalMs  int `mapstructure:"check_interval_ms"`
	IdleThresholdMs  int `mapstructure:"idle_threshold_ms"`
	FailureThreshold int `mapstructure:"failure_threshold"`
	SuccessThreshold int `mapstructure:"success_threshold"`
	ResetTimeoutMs   int `mapstructure:"reset_timeout_ms"`
}

func (h HealthConfig) CheckInterval() time.Duration {
	return time.Duration(h.CheckIntervalMs) * time.Millisecond
}

func (h HealthConfig) IdleThreshold() time.Duration {
	return time.Duration(h.IdleThresholdMs) * time.Millisecond
}

func (h HealthConfig) ResetTimeout() time.Duration {
	return time.Duration(h.ResetTimeoutMs) * time.Millisecond
}

type RuleConfig struct {
	RuleID       string            `mapstructure:"rule_id"`
	Kind         string            `mapstructure:"kind"`
	Enabled      bool              `mapstructure:"enabled"`
	Priority     int               `mapstructure:"priority"`
	OnMatch      string            `mapstructure:"on_match"` // accept, reject, tag
	Tags         map[string]string `mapstructure:"tags"`
	Destinations []string          `mapstructure:"destinations"`

	EventTypes  []string `mapstructure:"event_types"`
	Callsigns   []string `mapstructure:"callsigns"`
	Affiliation []string `mapstructure:"affiliations"`
	UIDs        []string `mapstructure:"uids"`

	MinLat float64 `mapstructure:"min_lat"`
	MaxLat float64 `mapstructure:"max_lat"`
	MinLon float64 `mapstructure:"min_lon"`
	MaxLon float64 `mapstructure:"max_lon"`

	RegexField   string `mapstructure:"regex_field"`
	RegexPattern string `mapstructure:"regex_pattern"`

	PluginID     string         `mapstructure:"plugin_id"`
	StaticConfig map[string]any `mapstructure:"static_config"`
}

type FiltersConfig struct {
	Mode  string       `mapstructure:"mode"` // whitelist, blacklist
	Rules []RuleConfig `mapstructure:"rules"`
}

type ResourceLimitsConfig struct {
	MemoryLimitMiB       int `mapstructure:"memory_limit_mib"`
	FilterTimeoutMs      int `mapstructure:"filter_timeout_ms"`
	TransformerTimeoutMs int `mapstructure:"transformer_timeout_ms"`
	MaxConcurrentCalls   int `mapstructure:"max_concurrent_calls"`
}

type SandboxPolicyConfig struct {
	AllowNetwork   bool     `mapstructure:"allow_network"`
	AllowFSRead    bool     `mapstructure:"allow_fs_read"`
	AllowFSWrite   bool     `mapstructure:"allow_fs_write"`
	AllowEnvVars   bool     `mapstructure:"allow_env_vars"`
	AllowedPaths   []string `mapstructure:"allowed_paths"`
}

type PluginDeclConfig struct {
	ID           string         `mapstructure:"id"`
	Path         string         `mapstructure:"path"`
	Kind         string         `mapstructure:"kind"` // filter, transformer
	Config       map[string]any `mapstructure:"config"`
	CircuitFailureThreshold int  `mapstructure:"circuit_failure_threshold"`
}

type PluginsConfig struct {
	PluginDir              string               `mapstructure:"plugin_dir"`
	HotReload              bool                 `mapstructure:"hot_reload"`
	ResourceLimits         ResourceLimitsConfig `mapstructure:"resource_limits"`
	SandboxPolicy          SandboxPolicyConfig  `mapstructure:"sandbox_policy"`
	Filters                []PluginDeclConfig   `mapstructure:"filters"`
	Transformers           []PluginDeclConfig   `mapstructure:"transformers"`
}

// APITokenConfig binds a bearer token to the tier(s) it authorizes:
// "read", "operator", "admin". A token with no roles is rejected.
type APITokenConfig struct {
	Token string   `mapstructure:"token"`
	Roles []string `mapstructure:"roles"`
}

type APIConfig struct {
	ListenAddr string           `mapstructure:"listen_addr"`
	Tokens     []APITokenConfig `mapstructure:"tokens"`
}

// Load reads configuration from file, environment (TAKAGG_ prefix), and
// pflag-bound CLI overrides, applies defaults, and validates the result.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix("TAKAGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, takerrors.Wrap("config.Load", takerrors.KindConfig, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, takerrors.Wrap("config.Load", takerrors.KindConfig, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, takerrors.Wrap("config.Load", takerrors.KindConfig, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("application.max_connections", 256)
	v.SetDefault("application.worker_threads", 0)
	v.SetDefault("application.shutdown_timeout_ms", 5000)
	v.SetDefault("application.environment", "production")

	v.SetDefault("aggregator.dedup_window_ms", 60000)
	v.SetDefault("aggregator.max_entries", 100000)
	v.SetDefault("aggregator.worker_count", 4)
	v.SetDefault("aggregator.shard_count", 32)

	v.SetDefault("distributor.max_workers", 16)
	v.SetDefault("distributor.batch_size", 100)
	v.SetDefault("distributor.flush_interval_ms", 10)
	v.SetDefault("distributor.default_strategy", "drop_on_full")
	v.SetDefault("distributor.try_timeout_ms", 250)
	v.SetDefault("distributor.source_affine", true)

	v.SetDefault("health.check_interval_ms", 30000)
	v.SetDefault("health.idle_threshold_ms", 90000)
	v.SetDefault("health.failure_threshold", 5)
	v.SetDefault("health.success_threshold", 2)
	v.SetDefault("health.reset_timeout_ms", 60000)

	v.SetDefault("filters.mode", "whitelist")

	v.SetDefault("plugins.resource_limits.memory_limit_mib", 50)
	v.SetDefault("plugins.resource_limits.filter_timeout_ms", 10)
	v.SetDefault("plugins.resource_limits.transformer_timeout_ms", 10000)
	v.SetDefault("plugins.resource_limits.max_concurrent_calls", 32)

	v.SetDefault("api.listen_addr", ":8087")
}

// Validate enforces the invariants the rest of the system relies on
// (positive capacities, known protocol/strategy/mode names). Validation
// errors are fatal at startup per spec §7.
func Validate(cfg *Config) error {
	const op = "config.Validate"

	if cfg.Application.MaxConnections <= 0 {
		return takerrors.New(op, takerrors.KindConfig)
	}

	seen := make(map[string]struct{}, len(cfg.Servers))
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if s.ID == "" {
			return takerrors.Wrap(op, takerrors.KindConfig, fmt.Errorf("server[%d]: missing id", i))
		}
		if _, dup := seen[s.ID]; dup {
			return takerrors.Wrap(op, takerrors.KindConfig, fmt.Errorf("duplicate server id %q", s.ID))
		}
		seen[s.ID] = struct{}{}

		switch s.Protocol {
		case "tcp", "udp", "tls", "ws", "multicast":
		default:
			return takerrors.Wrap(op, takerrors.KindConfig, fmt.Errorf("server %q: unknown protocol %q", s.ID, s.Protocol))
		}
		if s.ChannelCapacity <= 0 {
			s.ChannelCapacity = 1000
		}
		if s.Reconnect.BaseMs <= 0 {
			s.Reconnect.BaseMs = 500
		}
		if s.Reconnect.MaxMs <= 0 {
			s.Reconnect.MaxMs = 30000
		}
	}

	switch cfg.Distributor.DefaultStrategy {
	case "drop_on_full", "block_until_space", "try_for_timeout":
	default:
		return takerrors.Wrap(op, takerrors.KindConfig, fmt.Errorf("unknown distributor strategy %q", cfg.Distributor.DefaultStrategy))
	}

	switch cfg.Filters.Mode {
	case "whitelist", "blacklist":
	default:
		return takerrors.Wrap(op, takerrors.KindConfig, fmt.Errorf("unknown filter mode %q", cfg.Filters.Mode))
	}

	if cfg.Aggregator.ShardCount <= 0 {
		cfg.Aggregator.ShardCount = 32
	}
	if cfg.Aggregator.WorkerCount <= 0 {
		cfg.Aggregator.WorkerCount = 4
	}
	if cfg.Distributor.MaxWorkers <= 0 {
		cfg.Distributor.MaxWorkers = 16
	}

	return nil
}
