package filter

import (
	"fmt"
	"regexp"

	"github.com/takrelay/aggregator/internal/config"
)

// Build compiles a FiltersConfig into a Chain plus a lookup of the source
// RuleConfig by rule ID, which the distributor consults for a matched
// rule's destinations (kept out of the Rule interface itself so
// Evaluate stays a pure accept/reject/tag decision).
func Build(cfg config.FiltersConfig, invoker PluginInvoker) (*Chain, map[string]config.RuleConfig, error) {
	rules := make([]Rule, 0, len(cfg.Rules))
	byID := make(map[string]config.RuleConfig, len(cfg.Rules))

	for _, rc := range cfg.Rules {
		if !rc.Enabled {
			continue
		}
		r, err := buildRule(rc, invoker)
		if err != nil {
			return nil, nil, fmt.Errorf("filter: rule %q: %w", rc.RuleID, err)
		}
		rules = append(rules, r)
		byID[rc.RuleID] = rc
	}

	mode := Mode(cfg.Mode)
	if mode != ModeWhitelist && mode != ModeBlacklist {
		mode = ModeWhitelist
	}

	return NewChain(mode, rules), byID, nil
}

func buildRule(rc config.RuleConfig, invoker PluginInvoker) (Rule, error) {
	onMatch := outcomeFromString(rc.OnMatch)
	b := base{id: rc.RuleID, priority: rc.Priority}

	switch rc.Kind {
	case "always_pass":
		return AlwaysPass{b}, nil
	case "always_block":
		return AlwaysBlock{b}, nil
	case "by_event_type":
		return ByEventType{base: b, Types: rc.EventTypes, OnMatch: onMatch}, nil
	case "by_callsign":
		return ByCallsign{base: b, Callsigns: rc.Callsigns, OnMatch: onMatch}, nil
	case "by_affiliation":
		return ByAffiliation{base: b, Affiliations: rc.Affiliation, OnMatch: onMatch}, nil
	case "by_geo_bounds":
		return ByGeoBounds{base: b, MinLat: rc.MinLat, MaxLat: rc.MaxLat, MinLon: rc.MinLon, MaxLon: rc.MaxLon, OnMatch: onMatch}, nil
	case "by_uid":
		return ByUid{base: b, UIDs: rc.UIDs, OnMatch: onMatch}, nil
	case "regex":
		pat, err := regexp.Compile(rc.RegexPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		return Regex{base: b, Field: rc.RegexField, Pattern: pat, OnMatch: onMatch}, nil
	case "plugin":
		if invoker == nil {
			return nil, fmt.Errorf("plugin rule %q configured but no plugin invoker available", rc.RuleID)
		}
		return Plugin{base: b, PluginID: rc.PluginID, OnMatch: onMatch, Invoker: invoker}, nil
	default:
		return nil, fmt.Errorf("unknown rule kind %q", rc.Kind)
	}
}

func outcomeFromString(s string) Outcome {
	switch s {
	case "accept":
		return OutcomeAccept
	case "reject":
		return OutcomeReject
	case "tag":
		return OutcomeTag
	default:
		return OutcomeReject
	}
}
