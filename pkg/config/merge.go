package config

// mergePolicy merges the built-in policy table with the user-provided one:
// a user rule replaces the built-in rule for the same command_key wholesale
// (not merged field-by-field — mergo's struct merge cannot tell "the
// operator wants mutating:false" apart from "the operator didn't set
// mutating", so a partial override can never turn a field back to its zero
// value), and the user's kill-switch/rate-limit blocks replace the built-in
// ones wholesale when present for the same reason.
func mergePolicy(builtin PolicyConfig, user *PolicyConfig) (PolicyConfig, error) {
	merged := PolicyConfig{
		Commands:   make(map[string]CommandRuleConfig, len(builtin.Commands)),
		RateLimit:  builtin.RateLimit,
		KillSwitch: builtin.KillSwitch,
	}
	for k, v := range builtin.Commands {
		merged.Commands[k] = v
	}
	if user == nil {
		return merged, nil
	}

	for k, v := range user.Commands {
		merged.Commands[k] = v
	}
	if user.RateLimit != (RateLimitConfig{}) {
		merged.RateLimit = user.RateLimit
	}
	if !killSwitchIsZero(user.KillSwitch) {
		merged.KillSwitch = user.KillSwitch
	}
	return merged, nil
}

func killSwitchIsZero(k KillSwitchConfig) bool {
	return !k.MutationsDisabledGlobal && len(k.DisabledChannels) == 0 && len(k.DisabledOpsClasses) == 0
}
