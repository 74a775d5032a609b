package config

import (
	"errors"
	"fmt"
)

// Validator checks cross-field and cross-reference invariants on a loaded
// Config that the YAML schema alone cannot express (the teacher's
// NewValidator(cfg).ValidateAll() shape).
type Validator struct {
	cfg *Config
}

// NewValidator binds a Validator to the Config it checks.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check, collecting and joining all failures rather
// than stopping at the first (the teacher's validator does the same so an
// operator sees every problem in one pass).
func (v *Validator) ValidateAll() error {
	var errs []error
	errs = append(errs, v.validateRepos()...)
	errs = append(errs, v.validateChannels()...)
	errs = append(errs, v.validatePolicy()...)
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
}

func (v *Validator) validateRepos() []error {
	var errs []error
	seen := make(map[string]bool, len(v.cfg.Repos))
	for _, r := range v.cfg.Repos {
		if r.Root == "" {
			errs = append(errs, NewValidationError("repo", "", "root", ErrMissingRequiredField))
			continue
		}
		if seen[r.Root] {
			errs = append(errs, NewValidationError("repo", r.Root, "root", fmt.Errorf("%w: duplicate repo root", ErrInvalidValue)))
		}
		seen[r.Root] = true
	}
	return errs
}

func (v *Validator) validateChannels() []error {
	var errs []error
	for name, ch := range v.cfg.Channels {
		if !ch.Enabled {
			continue
		}
		switch name {
		case "terminal", "editor":
			// terminal carries no external verification; editor verifies
			// via a shared secret checked on each connection's auth frame,
			// not a token env (spec.md §4.11).
		default:
			if ch.TokenEnv == "" {
				errs = append(errs, NewValidationError("channel", name, "token_env", ErrMissingRequiredField))
			}
		}
	}
	return errs
}

func (v *Validator) validatePolicy() []error {
	var errs []error
	for key, rule := range v.cfg.Policy.Commands {
		if key == "" {
			errs = append(errs, NewValidationError("policy", key, "command_key", ErrMissingRequiredField))
		}
		if !rule.Mutating && rule.ConfirmationRequired {
			errs = append(errs, NewValidationError("policy", key, "confirmation_required", fmt.Errorf("%w: confirmation_required is only meaningful for mutating commands", ErrInvalidValue)))
		}
	}
	switch v.cfg.Policy.RateLimit.Overflow {
	case "", "defer", "fail":
	default:
		errs = append(errs, NewValidationError("policy", "rate_limit", "overflow", fmt.Errorf("%w: must be \"defer\" or \"fail\"", ErrInvalidValue)))
	}
	return errs
}
