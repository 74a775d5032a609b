// Package policy implements command authorization: the static
// command→(scope, min-assurance, ops-class) table, channel/ops-class
// kill-switches, and the per-(actor,channel) and per-channel rate limiter
// (spec.md §4.4).
package policy

import (
	"github.com/codeready-toolchain/mucp/pkg/envelope"
)

// Rule is the static policy entry for one command key.
type Rule struct {
	Scopes               []string
	Mutating             bool
	ConfirmationRequired bool
	MinAssuranceTier     envelope.AssuranceTier
	OpsClass             string
}

// Table maps a resolved command_key (spec.md §6.2) to its Rule.
type Table map[string]Rule

// Binding is the subset of an identity binding the policy engine needs to
// decide. Declared locally so this package does not depend on identity's
// journal-shaped Binding type.
type Binding struct {
	BindingID     string
	Scopes        []string
	AssuranceTier envelope.AssuranceTier
}

func hasScope(have []string, want string) bool {
	for _, s := range have {
		if s == want {
			return true
		}
	}
	return false
}

// DecisionKind classifies a policy decision.
type DecisionKind string

const (
	Allow DecisionKind = "allow"
	Deny  DecisionKind = "deny"
	Defer DecisionKind = "defer"
	Fail  DecisionKind = "fail"
)

// Deny reasons.
const (
	ReasonUnmappedCommand         = "unmapped_command"
	ReasonMissingScope            = "missing_scope"
	ReasonAssuranceTierTooLow     = "assurance_tier_too_low"
	ReasonMutationsDisabledGlobal = "mutations_disabled_global"
	ReasonMutationsDisabledChan   = "mutations_disabled_channel"
	ReasonMutationsDisabledClass  = "mutations_disabled_class"
)

// Decision is the tagged outcome of Authorize.
type Decision struct {
	Kind       DecisionKind
	Reason     string
	RetryAtMs  int64
	Rule       Rule // populated on Allow
}

// KillSwitches gates mutating commands independently of scope checks.
type KillSwitches struct {
	MutationsDisabledGlobal bool
	DisabledChannels        map[string]bool
	DisabledOpsClasses      map[string]bool
}

func (k KillSwitches) channelDisabled(channel string) bool {
	return k.DisabledChannels != nil && k.DisabledChannels[channel]
}

func (k KillSwitches) classDisabled(class string) bool {
	return k.DisabledOpsClasses != nil && k.DisabledOpsClasses[class]
}

// Engine is the policy engine: default-deny, command must be mapped,
// binding must carry every required scope at sufficient tier, and kill
// switches gate mutations independently of scope (spec.md §4.4).
type Engine struct {
	table    Table
	kill     KillSwitches
	limiter  *RateLimiter
}

// NewEngine constructs a policy Engine.
func NewEngine(table Table, kill KillSwitches, limiter *RateLimiter) *Engine {
	return &Engine{table: table, kill: kill, limiter: limiter}
}

// Authorize runs the full authorization + rate-limit decision for a
// resolved command key against a binding. now is used for rate-limit
// windowing and defer deadlines.
func (e *Engine) Authorize(commandKey string, binding Binding, channel string, actorID string, nowMs int64) Decision {
	rule, ok := e.table[commandKey]
	if !ok {
		return Decision{Kind: Deny, Reason: ReasonUnmappedCommand}
	}

	for _, want := range rule.Scopes {
		if !hasScope(binding.Scopes, want) {
			return Decision{Kind: Deny, Reason: ReasonMissingScope}
		}
	}

	if rule.MinAssuranceTier != "" && binding.AssuranceTier.Rank() < rule.MinAssuranceTier.Rank() {
		return Decision{Kind: Deny, Reason: ReasonAssuranceTierTooLow}
	}

	if rule.Mutating {
		if e.kill.MutationsDisabledGlobal {
			return Decision{Kind: Deny, Reason: ReasonMutationsDisabledGlobal}
		}
		if e.kill.channelDisabled(channel) {
			return Decision{Kind: Deny, Reason: ReasonMutationsDisabledChan}
		}
		if rule.OpsClass != "" && e.kill.classDisabled(rule.OpsClass) {
			return Decision{Kind: Deny, Reason: ReasonMutationsDisabledClass}
		}
	}

	if e.limiter != nil {
		if d, ok := e.limiter.Check(actorID, channel, nowMs); !ok {
			return d
		}
	}

	return Decision{Kind: Allow, Rule: rule}
}

// ChannelEnabled reports whether channel is currently permitted to submit
// mutating commands, for the control surface's channel listing (spec.md
// §6.1). It does not reflect read-only availability — read-only commands
// are never gated by kill switches.
func (e *Engine) ChannelEnabled(channel string) bool {
	return !e.kill.MutationsDisabledGlobal && !e.kill.channelDisabled(channel)
}
