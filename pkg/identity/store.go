// Package identity tracks (channel, tenant, actor) → operator binding
// associations (spec.md §4.3). Each mutation appends a journal entry and
// recomputes the in-memory active map; at most one binding is active per
// triple at a time.
package identity

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/journal"
)

// TerminalBindingID is the reserved binding used for in-process terminal
// sessions (spec.md §3, §4.5).
const TerminalBindingID = "TERMINAL_BINDING"

const terminalOperatorID = "terminal-operator"
const terminalChannel = "terminal"
const terminalTenant = "local"

// terminalScopes grants the reserved terminal binding every scope the
// built-in policy table can require. A terminal session carries no network
// verification (adapter.VerificationNone) because it is always a trusted
// in-process operator, so its binding is provisioned at full assurance
// rather than requiring an external link step.
var terminalScopes = []string{"cp.admin", "cp.issue.write"}

// Status is the lifecycle state of a binding.
type Status string

const (
	StatusActive   Status = "active"
	StatusUnlinked Status = "unlinked"
	StatusRevoked  Status = "revoked"
)

// AssuranceTier mirrors envelope.AssuranceTier without importing it, to keep
// this package's wire shape self-contained for journal decoding.
type AssuranceTier string

const (
	TierA AssuranceTier = "tier_a"
	TierB AssuranceTier = "tier_b"
	TierC AssuranceTier = "tier_c"
)

// Binding is an identity binding event as persisted to identities.jsonl.
// Every link/unlink/revoke appends one Binding record; the live view is the
// fold of these by BindingID, filtered to the active one per triple.
type Binding struct {
	BindingID       string        `json:"binding_id"`
	OperatorID      string        `json:"operator_id"`
	Channel         string        `json:"channel"`
	ChannelTenantID string        `json:"channel_tenant_id"`
	ChannelActorID  string        `json:"channel_actor_id"`
	AssuranceTier   AssuranceTier `json:"assurance_tier"`
	Scopes          []string      `json:"scopes"`
	Status          Status        `json:"status"`
	LinkedAtMs      int64         `json:"linked_at_ms"`
	UpdatedAtMs     int64         `json:"updated_at_ms"`
	RevokeReason    string        `json:"revoke_reason,omitempty"`
}

type tripleKey struct {
	channel, tenant, actor string
}

// Store is the in-memory fold of identities.jsonl.
type Store struct {
	mu       sync.RWMutex
	writer   *journal.Writer
	bindings map[string]Binding      // binding_id -> latest state
	active   map[tripleKey]string    // triple -> binding_id of the active binding
}

// Open loads a Store from its journal file.
func Open(path string) (*Store, error) {
	s := &Store{
		writer:   journal.NewWriter(path),
		bindings: make(map[string]Binding),
		active:   make(map[tripleKey]string),
	}

	err := journal.ForEach(path, func(b Binding) error {
		s.fold(b)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.ensureTerminalBinding(time.Now()); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureTerminalBinding seeds the reserved TERMINAL_BINDING (spec.md §3:
// "a reserved TERMINAL_BINDING exists for in-process terminal sessions") the
// first time a repository's identity journal is opened. Once the seed entry
// is on disk, later Opens see it already active and this is a no-op, so a
// running deployment never reseeds or duplicates the binding.
func (s *Store) ensureTerminalBinding(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey{terminalChannel, terminalTenant, TerminalBindingID}
	if _, ok := s.active[key]; ok {
		return nil
	}

	b := Binding{
		BindingID:       TerminalBindingID,
		OperatorID:      terminalOperatorID,
		Channel:         terminalChannel,
		ChannelTenantID: terminalTenant,
		ChannelActorID:  TerminalBindingID,
		AssuranceTier:   TierA,
		Scopes:          terminalScopes,
		Status:          StatusActive,
		LinkedAtMs:      now.UnixMilli(),
		UpdatedAtMs:     now.UnixMilli(),
	}
	if err := s.writer.Append(b); err != nil {
		return err
	}
	s.fold(b)
	return nil
}

func (s *Store) fold(b Binding) {
	s.bindings[b.BindingID] = b
	key := tripleKey{b.Channel, b.ChannelTenantID, b.ChannelActorID}
	if b.Status == StatusActive {
		s.active[key] = b.BindingID
	} else if s.active[key] == b.BindingID {
		delete(s.active, key)
	}
}

// Link creates a new active binding for (channel, tenant, actor). If an
// active binding already exists for that triple, it is first unlinked with
// cause "superseded" (spec.md §4.3 invariant).
func (s *Store) Link(bindingID, operatorID, channel, tenant, actor string, tier AssuranceTier, scopes []string, now time.Time) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tripleKey{channel, tenant, actor}
	if existingID, ok := s.active[key]; ok {
		if err := s.unlinkLocked(existingID, "superseded", now); err != nil {
			return nil, err
		}
	}

	b := Binding{
		BindingID:       bindingID,
		OperatorID:      operatorID,
		Channel:         channel,
		ChannelTenantID: tenant,
		ChannelActorID:  actor,
		AssuranceTier:   tier,
		Scopes:          scopes,
		Status:          StatusActive,
		LinkedAtMs:      now.UnixMilli(),
		UpdatedAtMs:     now.UnixMilli(),
	}

	if err := s.writer.Append(b); err != nil {
		return nil, err
	}
	s.fold(b)
	cp := b
	return &cp, nil
}

// Unlink transitions an active binding to unlinked.
func (s *Store) Unlink(bindingID, cause string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlinkLocked(bindingID, cause, now)
}

func (s *Store) unlinkLocked(bindingID, cause string, now time.Time) error {
	b, ok := s.bindings[bindingID]
	if !ok {
		return nil
	}
	b.Status = StatusUnlinked
	b.UpdatedAtMs = now.UnixMilli()
	b.RevokeReason = cause
	if err := s.writer.Append(b); err != nil {
		return err
	}
	s.fold(b)
	return nil
}

// Revoke transitions an active binding to revoked with a reason.
func (s *Store) Revoke(bindingID, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[bindingID]
	if !ok {
		return nil
	}
	b.Status = StatusRevoked
	b.UpdatedAtMs = now.UnixMilli()
	b.RevokeReason = reason
	if err := s.writer.Append(b); err != nil {
		return err
	}
	s.fold(b)
	return nil
}

// ResolveActive looks up the active binding for (channel, tenant, actor).
// Returns nil if none is active.
func (s *Store) ResolveActive(channel, tenant, actor string) *Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := tripleKey{channel, tenant, actor}
	id, ok := s.active[key]
	if !ok {
		return nil
	}
	b := s.bindings[id]
	cp := b
	return &cp
}
