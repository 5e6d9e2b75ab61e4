// Package config loads the policy configuration document described in spec
// §6: per-risk-level profiles, origin overrides, queue settings, and the
// separate risk-gate settings. An explicit path is tried first, then
// DefaultSearchPath in order.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/ghmbegerez/converge/internal/intent"
	"github.com/ghmbegerez/converge/internal/policy"
)

// DefaultSearchPath is the fallback load order when no explicit path is
// given: first existing wins.
var DefaultSearchPath = []string{
	".converge/policy.json",
	"policy.json",
	"policy.default.json",
}

// Policy is the fully-decoded policy configuration document.
type Policy struct {
	Profiles       map[intent.RiskLevel]policy.Profile
	OriginOverride policy.OriginOverrides
	Queue          QueueSettings
	Risk           policy.GlobalSettings
}

// QueueSettings mirrors the "queue" section of the policy document.
type QueueSettings struct {
	MaxRetries    int
	DefaultTarget string
}

// rawProfile matches the JSON shape of one entry in "profiles".
type rawProfile struct {
	EntropyBudget  float64  `mapstructure:"entropy_budget"`
	ContainmentMin float64  `mapstructure:"containment_min"`
	BlastLimit     float64  `mapstructure:"blast_limit"`
	Checks         []string `mapstructure:"checks"`
	CoherencePass  float64  `mapstructure:"coherence_pass"`
	CoherenceWarn  float64  `mapstructure:"coherence_warn"`
	Security       struct {
		MaxCritical int `mapstructure:"max_critical"`
		MaxHigh     int `mapstructure:"max_high"`
	} `mapstructure:"security"`
}

func (r rawProfile) toProfile() policy.Profile {
	return policy.Profile{
		EntropyBudget:   r.EntropyBudget,
		ContainmentMin:  r.ContainmentMin,
		BlastLimit:      r.BlastLimit,
		Checks:          r.Checks,
		CoherencePass:   r.CoherencePass,
		CoherenceWarn:   r.CoherenceWarn,
		SecurityMaxCrit: r.Security.MaxCritical,
		SecurityMaxHigh: r.Security.MaxHigh,
	}
}

// rawOverride matches one entry nested under "origin_overrides"; it mirrors
// policy.ProfileOverride in a JSON-friendly shape; only security.max_high
// stays a pointer so an absent key can be told apart from zero.
type rawOverride struct {
	EntropyBudget  float64  `mapstructure:"entropy_budget"`
	ContainmentMin float64  `mapstructure:"containment_min"`
	CoherencePass  float64  `mapstructure:"coherence_pass"`
	CoherenceWarn  float64  `mapstructure:"coherence_warn"`
	Checks         []string `mapstructure:"checks"`
	Security       struct {
		MaxHigh *int `mapstructure:"max_high"`
	} `mapstructure:"security"`
}

func (r rawOverride) toOverride() policy.ProfileOverride {
	return policy.ProfileOverride{
		EntropyBudget:   r.EntropyBudget,
		ContainmentMin:  r.ContainmentMin,
		CoherencePass:   r.CoherencePass,
		CoherenceWarn:   r.CoherenceWarn,
		Checks:          r.Checks,
		SecurityMaxHigh: r.Security.MaxHigh,
	}
}

type rawDocument struct {
	Profiles map[string]rawProfile `mapstructure:"profiles"`

	OriginOverrides map[string]map[string]rawOverride `mapstructure:"origin_overrides"`

	Queue struct {
		MaxRetries    int    `mapstructure:"max_retries"`
		DefaultTarget string `mapstructure:"default_target"`
	} `mapstructure:"queue"`

	Risk struct {
		MaxRiskScore        float64 `mapstructure:"max_risk_score"`
		MaxDamageScore      float64 `mapstructure:"max_damage_score"`
		MaxPropagationScore float64 `mapstructure:"max_propagation_score"`
		Mode                string  `mapstructure:"mode"`
		EnforceRatio        float64 `mapstructure:"enforce_ratio"`
	} `mapstructure:"risk"`
}

// Resolve returns the first existing path in the load order: explicitPath
// (if non-empty) -> DefaultSearchPath entries. Returns "" if none exist.
func Resolve(explicitPath string) string {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err == nil {
			return explicitPath
		}
	}
	for _, candidate := range DefaultSearchPath {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load reads and decodes the policy document at path via viper. Missing
// profiles/risk-level entries fall back to policy.DefaultProfiles /
// policy.DefaultGlobalSettings so a partial document only overrides what it
// specifies.
func Load(path string) (Policy, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Policy{}, fmt.Errorf("config: read policy file %s: %w", path, err)
	}

	var raw rawDocument
	if err := v.Unmarshal(&raw); err != nil {
		return Policy{}, fmt.Errorf("config: decode policy file %s: %w", path, err)
	}

	return fromRaw(raw), nil
}

func fromRaw(raw rawDocument) Policy {
	profiles := make(map[intent.RiskLevel]policy.Profile, len(policy.DefaultProfiles))
	for level, def := range policy.DefaultProfiles {
		profiles[level] = def
	}
	for key, rp := range raw.Profiles {
		level := intent.RiskLevel(normalizeLevel(key))
		if !level.Valid() {
			continue
		}
		profiles[level] = rp.toProfile()
	}

	overrides := make(policy.OriginOverrides, len(raw.OriginOverrides))
	for originKey, byLevel := range raw.OriginOverrides {
		origin := intent.OriginType(normalizeLevel(originKey))
		if !origin.Valid() {
			continue
		}
		entry := make(map[string]policy.ProfileOverride, len(byLevel))
		for levelKey, ro := range byLevel {
			if levelKey == "_default" {
				entry["_default"] = ro.toOverride()
				continue
			}
			level := intent.RiskLevel(normalizeLevel(levelKey))
			if !level.Valid() {
				continue
			}
			entry[string(level)] = ro.toOverride()
		}
		overrides[origin] = entry
	}

	global := policy.DefaultGlobalSettings
	if raw.Risk.MaxRiskScore != 0 {
		global.MaxRiskScore = raw.Risk.MaxRiskScore
	}
	if raw.Risk.MaxDamageScore != 0 {
		global.MaxDamageScore = raw.Risk.MaxDamageScore
	}
	if raw.Risk.MaxPropagationScore != 0 {
		global.MaxPropagationScore = raw.Risk.MaxPropagationScore
	}
	if raw.Risk.Mode != "" {
		global.RiskGateMode = policy.RiskGateMode(raw.Risk.Mode)
	}
	if raw.Risk.EnforceRatio != 0 {
		global.EnforceRatio = raw.Risk.EnforceRatio
	}

	queue := QueueSettings{MaxRetries: intent.MaxRetries, DefaultTarget: "main"}
	if raw.Queue.MaxRetries != 0 {
		queue.MaxRetries = raw.Queue.MaxRetries
	}
	if raw.Queue.DefaultTarget != "" {
		queue.DefaultTarget = raw.Queue.DefaultTarget
	}

	return Policy{Profiles: profiles, OriginOverride: overrides, Queue: queue, Risk: global}
}

func normalizeLevel(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
