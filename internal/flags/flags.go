// Package flags implements the three-tier override resolver: defaults ->
// config file -> environment variables, with environment winning. Flags
// carry both a boolean enabled bit and a finer-grained mode
// (off/shadow/enforce) consumed by components like the risk gate.
package flags

import (
	"os"
	"strconv"
	"strings"
)

// Mode is the per-flag enforcement mode.
type Mode string

const (
	ModeOff     Mode = "off"
	ModeShadow  Mode = "shadow"
	ModeEnforce Mode = "enforce"
)

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeOff, ModeShadow, ModeEnforce:
		return true
	}
	return false
}

// Flag is one feature's resolved state.
type Flag struct {
	Enabled bool
	Mode    Mode
}

// Registry resolves flags through defaults -> config -> environment
// layering. Along with the queue-lock reference it is the only
// process-wide mutable state; callers construct one at process start and
// touch it afterwards only through explicit Set calls.
type Registry struct {
	defaults  map[string]Flag
	config    map[string]Flag
	envPrefix string
}

// New builds a Registry seeded with defaults. envPrefix, if non-empty, is
// prepended to the environment variable lookup (e.g. "CONVERGE" turns flag
// "auto_classify" into env var "CONVERGE_FLAG_AUTO_CLASSIFY").
func New(defaults map[string]Flag, envPrefix string) *Registry {
	d := make(map[string]Flag, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Registry{defaults: d, config: make(map[string]Flag), envPrefix: envPrefix}
}

// SetConfig overlays config-file-sourced values for name, the middle tier
// between defaults and environment.
func (r *Registry) SetConfig(name string, f Flag) {
	r.config[name] = f
}

// Get resolves name's Flag: environment wins over config, which wins over
// defaults. An unset flag resolves to Flag{} (disabled, off).
func (r *Registry) Get(name string) Flag {
	resolved := r.defaults[name]
	if cfg, ok := r.config[name]; ok {
		resolved = cfg
	}
	if env, ok := r.fromEnv(name); ok {
		resolved = env
	}
	return resolved
}

// Enabled is shorthand for Get(name).Enabled.
func (r *Registry) Enabled(name string) bool {
	return r.Get(name).Enabled
}

func (r *Registry) fromEnv(name string) (Flag, bool) {
	key := r.envKey(name)
	raw, ok := os.LookupEnv(key)
	if !ok {
		return Flag{}, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Flag{}, false
	}

	// "off"/"shadow"/"enforce" set mode directly (and imply enabled for
	// anything but off); a bare boolean maps true to enabled/ModeEnforce
	// and false to disabled/ModeOff.
	if m := Mode(strings.ToLower(raw)); m.Valid() {
		return Flag{Enabled: m != ModeOff, Mode: m}, true
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		mode := ModeOff
		if b {
			mode = ModeEnforce
		}
		return Flag{Enabled: b, Mode: mode}, true
	}
	return Flag{}, false
}

func (r *Registry) envKey(name string) string {
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if r.envPrefix == "" {
		return "FLAG_" + upper
	}
	return strings.ToUpper(r.envPrefix) + "_FLAG_" + upper
}

// Known flag names used across the core.
const (
	FlagAutoClassify     = "auto_classify"
	FlagAutoConfirmMerge = "auto_confirm_merge"
	FlagRiskGateEnforce  = "risk_gate_enforce"
)

// DefaultRegistry constructs the Registry with the core's baseline
// defaults: auto-classification and auto-confirm stay off until someone
// turns them on.
func DefaultRegistry() *Registry {
	return New(map[string]Flag{
		FlagAutoClassify:     {Enabled: false, Mode: ModeOff},
		FlagAutoConfirmMerge: {Enabled: false, Mode: ModeOff},
		FlagRiskGateEnforce:  {Enabled: false, Mode: ModeShadow},
	}, "CONVERGE")
}
