// Package grammar parses raw command_text into a classified invocation
// (spec.md §6.2): slash/mu! /mu? forms, reserved confirm/cancel forms, and
// greedy longest-match resolution of multi-token command keys against a
// known table.
package grammar

import "strings"

// Mode is the requested mutation mode of a parsed command invocation.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeMutate   Mode = "mutate"
	ModeReadonly Mode = "readonly"
)

// Kind classifies a parse outcome.
type Kind string

const (
	KindNoop    Kind = "noop"
	KindInvalid Kind = "invalid"
	KindCommand Kind = "command"
	KindConfirm Kind = "confirm"
	KindCancel  Kind = "cancel"
)

// Invocation is the tagged result of parsing one line of command_text.
type Invocation struct {
	Kind      Kind
	Key       string   // resolved command_key, set when Kind == KindCommand
	Args      []string // remaining tokens after the resolved key
	Mode      Mode
	CommandID string // set when Kind == KindConfirm or KindCancel
}

// shorthand maps bare slash shorthands to their canonical command key.
var shorthand = map[string]string{
	"/reload": "reload",
	"/update": "update",
}

// MaxKeyTokens is the longest multi-token command key this grammar
// resolves (spec.md §6.2: greedy longest-match over lengths 3, 2, 1).
const MaxKeyTokens = 3

// Parse classifies raw command_text. known is the set of valid resolved
// command keys (e.g. "issue dep add", "issue close", "status") used to
// drive the greedy longest-match; a key not present in known is still
// returned as KindCommand with the longest token run that could plausibly
// be a key (length 1) so that policy.Authorize can reject it as
// unmapped_command rather than the grammar silently swallowing it.
func Parse(text string, known map[string]bool) Invocation {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Invocation{Kind: KindNoop}
	}

	fields := strings.Fields(trimmed)

	if canon, ok := shorthand[fields[0]]; ok {
		return Invocation{Kind: KindCommand, Key: canon, Args: fields[1:], Mode: ModeAuto}
	}

	if fields[0] == "confirm" {
		if len(fields) != 2 {
			return Invocation{Kind: KindInvalid}
		}
		return Invocation{Kind: KindConfirm, CommandID: fields[1]}
	}
	if fields[0] == "cancel" {
		if len(fields) != 2 {
			return Invocation{Kind: KindInvalid}
		}
		return Invocation{Kind: KindCancel, CommandID: fields[1]}
	}

	switch {
	case strings.HasPrefix(trimmed, "/"):
		body := strings.TrimPrefix(trimmed, "/")
		return resolve(strings.Fields(body), ModeAuto, known)
	case fields[0] == "mu!":
		return resolve(fields[1:], ModeMutate, known)
	case fields[0] == "mu?":
		return resolve(fields[1:], ModeReadonly, known)
	default:
		return Invocation{Kind: KindNoop}
	}
}

// resolve performs the greedy longest-match described in spec.md §6.2:
// try the first 3 tokens joined by a space, then 2, then 1; the first
// match present in known wins. A nil known matches every candidate, so the
// longest available run (up to 3 tokens) is taken. If nothing matches, the
// 1-token prefix is returned so callers can still attempt policy lookup
// (which will default-deny it as unmapped).
func resolve(tokens []string, mode Mode, known map[string]bool) Invocation {
	if len(tokens) == 0 {
		return Invocation{Kind: KindInvalid}
	}

	for n := MaxKeyTokens; n >= 1; n-- {
		if n > len(tokens) {
			continue
		}
		candidate := strings.Join(tokens[:n], " ")
		if known == nil || known[candidate] {
			return Invocation{Kind: KindCommand, Key: candidate, Args: tokens[n:], Mode: mode}
		}
	}

	return Invocation{Kind: KindCommand, Key: tokens[0], Args: tokens[1:], Mode: mode}
}
