package config

import (
	"time"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/policy"
)

// RepoConfig names one repository root the control plane mediates work
// against. BaseDir overrides where that repo's control-plane directory is
// rooted (pkg/cpath.Resolve's baseDir); empty means the repo root itself.
type RepoConfig struct {
	Root    string `yaml:"root" validate:"required"`
	BaseDir string `yaml:"base_dir,omitempty"`
}

// ChannelConfig is one adapter's credentials and enablement, indirected
// through environment variable *names* — never literal secrets in YAML
// (the teacher's SlackYAMLConfig.TokenEnv pattern).
type ChannelConfig struct {
	Enabled          bool   `yaml:"enabled"`
	TokenEnv         string `yaml:"token_env,omitempty"`
	SigningSecretEnv string `yaml:"signing_secret_env,omitempty"`
	DefaultTarget    string `yaml:"default_target,omitempty"` // e.g. default Slack channel ID

	// Conversational marks whether raw (non-command) text on this channel
	// may reach the operator backend (spec.md §4.5 step 4). Channels that
	// leave this false still reach the operator if the envelope carries an
	// explicit per-message metadata override.
	Conversational bool `yaml:"conversational,omitempty"`
}

// ChannelsConfig maps channel name ("slack", "telegram", "editor",
// "terminal") to its adapter configuration.
type ChannelsConfig map[string]ChannelConfig

// CommandRuleConfig is the YAML shape of one policy.Rule entry, keyed by
// command_key in PolicyConfig.Commands.
type CommandRuleConfig struct {
	Scopes               []string `yaml:"scopes,omitempty"`
	Mutating             bool     `yaml:"mutating"`
	ConfirmationRequired bool     `yaml:"confirmation_required,omitempty"`
	MinAssuranceTier     string   `yaml:"min_assurance_tier,omitempty"`
	OpsClass             string   `yaml:"ops_class,omitempty"`
}

// Rule converts the YAML shape into a policy.Rule.
func (c CommandRuleConfig) Rule() policy.Rule {
	return policy.Rule{
		Scopes:               c.Scopes,
		Mutating:             c.Mutating,
		ConfirmationRequired: c.ConfirmationRequired,
		MinAssuranceTier:     envelope.AssuranceTier(c.MinAssuranceTier),
		OpsClass:             c.OpsClass,
	}
}

// KillSwitchConfig is the YAML shape of policy.KillSwitches.
type KillSwitchConfig struct {
	MutationsDisabledGlobal bool     `yaml:"mutations_disabled_global,omitempty"`
	DisabledChannels        []string `yaml:"disabled_channels,omitempty"`
	DisabledOpsClasses      []string `yaml:"disabled_ops_classes,omitempty"`
}

// KillSwitches converts the YAML shape into policy.KillSwitches.
func (c KillSwitchConfig) KillSwitches() policy.KillSwitches {
	return policy.KillSwitches{
		MutationsDisabledGlobal: c.MutationsDisabledGlobal,
		DisabledChannels:        toSet(c.DisabledChannels),
		DisabledOpsClasses:      toSet(c.DisabledOpsClasses),
	}
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

// RateLimitConfig is the YAML shape of policy.RateLimiterConfig.
type RateLimitConfig struct {
	ActorLimit    int    `yaml:"actor_limit"`
	ActorWindow   string `yaml:"actor_window,omitempty"`
	ChannelLimit  int    `yaml:"channel_limit"`
	ChannelWindow string `yaml:"channel_window,omitempty"`
	Overflow      string `yaml:"overflow,omitempty"` // "defer" | "fail"
	DeferMs       int64  `yaml:"defer_ms,omitempty"`
}

// RateLimiterConfig converts the YAML shape into policy.RateLimiterConfig,
// taking the wider of the two configured windows (spec.md §4.4 runs one
// fixed window per actor+channel and one per channel; this repository uses
// a single window duration for both, sized to the stricter requirement).
func (c RateLimitConfig) RateLimiterConfig() policy.RateLimiterConfig {
	window := parseDurationOr(c.ActorWindow, time.Minute)
	if w2 := parseDurationOr(c.ChannelWindow, 0); w2 > window {
		window = w2
	}
	overflow := policy.OverflowDefer
	if c.Overflow == string(policy.OverflowFail) {
		overflow = policy.OverflowFail
	}
	return policy.RateLimiterConfig{
		ActorLimit:   c.ActorLimit,
		ChannelLimit: c.ChannelLimit,
		WindowMs:     window.Milliseconds(),
		Overflow:     overflow,
		DeferMs:      c.DeferMs,
	}
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return fallback
}

// PolicyConfig is the complete YAML shape of the static command policy
// table, kill switches, and rate limiter (spec.md §4.4).
type PolicyConfig struct {
	Commands    map[string]CommandRuleConfig `yaml:"commands"`
	KillSwitch  KillSwitchConfig             `yaml:"kill_switches"`
	RateLimit   RateLimitConfig              `yaml:"rate_limit"`
}

// Table converts Commands into a policy.Table.
func (c PolicyConfig) Table() policy.Table {
	out := make(policy.Table, len(c.Commands))
	for key, rule := range c.Commands {
		out[key] = rule.Rule()
	}
	return out
}

// TTLConfig carries the two durations the spec requires survive restart as
// absolute deadlines, not callbacks (spec.md §9).
type TTLConfig struct {
	IdempotencyTTL   string `yaml:"idempotency_ttl,omitempty"`
	ConfirmationTTL  string `yaml:"confirmation_ttl,omitempty"`
}

// Idempotency returns the configured idempotency TTL, defaulting to
// idempotency.DefaultTTL (24h, spec.md §4.2).
func (c TTLConfig) Idempotency() time.Duration {
	return parseDurationOr(c.IdempotencyTTL, 24*time.Hour)
}

// Confirmation returns the configured confirmation TTL. A zero value is a
// legal boundary condition (spec.md §8: "confirmation_ttl=0 immediately
// expires") so it is not defaulted away; it is only replaced when the
// field was entirely absent from YAML (empty string).
func (c TTLConfig) Confirmation() time.Duration {
	if c.ConfirmationTTL == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.ConfirmationTTL)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// OutboxConfig configures dead-letter thresholds and backoff shape (spec.md
// §4.7). The dispatcher's default exponential backoff (pkg/outbox.NewBackoff)
// is used regardless; MaxAttempts and the periodic DrainInterval are the
// only knobs surfaced here.
type OutboxConfig struct {
	MaxAttempts      int    `yaml:"max_attempts"`
	DrainInterval    string `yaml:"drain_interval,omitempty"`
}

// MaxAttemptsOrDefault returns MaxAttempts, defaulting to 5.
func (c OutboxConfig) MaxAttemptsOrDefault() int {
	if c.MaxAttempts <= 0 {
		return 5
	}
	return c.MaxAttempts
}

// DrainIntervalOrDefault returns the periodic dispatcher wakeup interval,
// defaulting to 15s (spec.md §4.7's "periodic wakeup ensures liveness").
func (c OutboxConfig) DrainIntervalOrDefault() time.Duration {
	return parseDurationOr(c.DrainInterval, 15*time.Second)
}

// ReloadConfig configures the reload orchestrator's timeouts (spec.md §4.9).
type ReloadConfig struct {
	WarmupTimeout string `yaml:"warmup_timeout,omitempty"`
	DrainTimeout  string `yaml:"drain_timeout,omitempty"`
}

// WarmupTimeoutOrDefault returns the configured warmup timeout, default 10s.
func (c ReloadConfig) WarmupTimeoutOrDefault() time.Duration {
	return parseDurationOr(c.WarmupTimeout, 10*time.Second)
}

// DrainTimeoutOrDefault returns the configured drain timeout, default 10s.
func (c ReloadConfig) DrainTimeoutOrDefault() time.Duration {
	return parseDurationOr(c.DrainTimeout, 10*time.Second)
}
