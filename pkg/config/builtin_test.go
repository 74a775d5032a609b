package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetBuiltinPolicyCoversOperationalCommands(t *testing.T) {
	policy := GetBuiltinPolicy()

	status := policy.Commands["status"]
	assert.False(t, status.Mutating)

	reload := policy.Commands["reload"]
	assert.True(t, reload.Mutating)
	assert.Equal(t, "tier_a", reload.MinAssuranceTier)
	assert.Contains(t, reload.Scopes, "cp.admin")

	issueClose := policy.Commands["issue close"]
	assert.True(t, issueClose.Mutating)
	assert.True(t, issueClose.ConfirmationRequired)

	issueDepAdd := policy.Commands["issue dep add"]
	assert.True(t, issueDepAdd.Mutating)
	assert.False(t, issueDepAdd.ConfirmationRequired)
}

func TestGetBuiltinPolicyRateLimitDefaults(t *testing.T) {
	policy := GetBuiltinPolicy()

	assert.Equal(t, 20, policy.RateLimit.ActorLimit)
	assert.Equal(t, 200, policy.RateLimit.ChannelLimit)
	assert.Equal(t, "defer", policy.RateLimit.Overflow)
}

func TestCommandRuleConfigToRule(t *testing.T) {
	policy := GetBuiltinPolicy()
	rule := policy.Commands["issue close"].Rule()

	assert.True(t, rule.Mutating)
	assert.True(t, rule.ConfirmationRequired)
}
