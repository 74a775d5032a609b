package config

// GetBuiltinPolicy returns the control plane's built-in command policy
// table: the operational commands every deployment needs regardless of
// which business domain it mediates (spec.md §6.2's "/reload", "/update",
// "status"), plus a representative issue-tracking command family used as
// the worked example throughout spec.md §8's literal scenarios. A
// deployment's mucp.yaml overrides or extends these per-command (loader.go
// merges user policy over builtin, same precedence as the teacher's
// agent/MCP-server builtin-then-user merge).
func GetBuiltinPolicy() PolicyConfig {
	return PolicyConfig{
		Commands: map[string]CommandRuleConfig{
			"status": {
				Mutating: false,
			},
			"reload": {
				Scopes:           []string{"cp.admin"},
				Mutating:         true,
				MinAssuranceTier: "tier_a",
				OpsClass:         "admin",
			},
			"update": {
				Scopes:           []string{"cp.admin"},
				Mutating:         true,
				MinAssuranceTier: "tier_a",
				OpsClass:         "admin",
			},
			"issue close": {
				Scopes:               []string{"cp.issue.write"},
				Mutating:             true,
				ConfirmationRequired: true,
				MinAssuranceTier:     "tier_a",
				OpsClass:             "issue_write",
			},
			"issue dep add": {
				Scopes:           []string{"cp.issue.write"},
				Mutating:         true,
				MinAssuranceTier: "tier_b",
				OpsClass:         "issue_write",
			},
		},
		RateLimit: RateLimitConfig{
			ActorLimit:    20,
			ActorWindow:   "1m",
			ChannelLimit:  200,
			ChannelWindow: "1m",
			Overflow:      "defer",
			DeferMs:       250,
		},
	}
}
