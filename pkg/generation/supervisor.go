// Package generation implements the generation supervisor (spec.md §4.8):
// the authoritative record of which control-plane runtime instance is
// currently active, and the coalescing of overlapping reload requests onto
// a single in-flight attempt.
package generation

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Outcome is the terminal result of a reload attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one in-flight or completed reload attempt.
type Attempt struct {
	AttemptID     string
	Reason        string
	FromGeneration int64
	ToGeneration   int64
	Outcome        Outcome
	Pending        bool
}

// Snapshot is the point-in-time view returned by Supervisor.Snapshot.
type Snapshot struct {
	ActiveGeneration int64
	GenerationSeq    int64
	Pending          *Attempt
	LastReload       *Attempt
}

// Supervisor tracks the active generation number and the single pending
// reload attempt, if any (spec.md §4.8 invariants).
type Supervisor struct {
	mu sync.Mutex

	activeGeneration int64
	generationSeq    int64
	pending          *Attempt
	lastReload       *Attempt

	group      singleflight.Group
	nextAttempt int64
}

// NewSupervisor constructs a Supervisor starting at generation 0.
func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// BeginReloadResult is the tagged outcome of BeginReload.
type BeginReloadResult struct {
	Attempt   Attempt
	Coalesced bool
}

// BeginReload starts a new reload attempt, or — if one is already pending —
// returns the existing attempt with Coalesced=true (spec.md §4.8: "At most
// one pending attempt").
func (s *Supervisor) BeginReload(reason string) BeginReloadResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return BeginReloadResult{Attempt: *s.pending, Coalesced: true}
	}

	s.nextAttempt++
	attempt := &Attempt{
		AttemptID:      attemptID(s.nextAttempt),
		Reason:         reason,
		FromGeneration: s.activeGeneration,
		ToGeneration:   s.activeGeneration + 1,
		Pending:        true,
	}
	s.pending = attempt
	return BeginReloadResult{Attempt: *attempt}
}

func attemptID(n int64) string {
	const alphabet = "0123456789abcdef"
	if n == 0 {
		return "attempt-0"
	}
	buf := make([]byte, 0, 20)
	for n > 0 {
		buf = append([]byte{alphabet[n%16]}, buf...)
		n /= 16
	}
	return "attempt-" + string(buf)
}

// MarkSwapInstalled promotes the pending attempt's to_generation to active
// (the cutover step of spec.md §4.9).
func (s *Supervisor) MarkSwapInstalled(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.AttemptID != attemptID {
		return
	}
	s.activeGeneration = s.pending.ToGeneration
}

// RollbackSwapInstalled restores from_generation as active (the rollback
// step of spec.md §4.9, triggered only after a drain failure post-cutover).
func (s *Supervisor) RollbackSwapInstalled(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.AttemptID != attemptID {
		return
	}
	s.activeGeneration = s.pending.FromGeneration
}

// FinishReload records a terminal outcome for the pending attempt, clears
// it, and — on success — bumps generation_seq (spec.md §4.8).
func (s *Supervisor) FinishReload(attemptID string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil || s.pending.AttemptID != attemptID {
		return
	}

	done := *s.pending
	done.Outcome = outcome
	done.Pending = false
	if outcome == OutcomeCompleted {
		s.generationSeq++
	}
	s.lastReload = &done
	s.pending = nil
}

// Snapshot returns the current generation, pending attempt (if any), and
// last completed/failed reload.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{ActiveGeneration: s.activeGeneration, GenerationSeq: s.generationSeq}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	if s.lastReload != nil {
		l := *s.lastReload
		snap.LastReload = &l
	}
	return snap
}

// ActiveGeneration returns the currently active generation number.
func (s *Supervisor) ActiveGeneration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeGeneration
}

// CoalesceReload runs fn at most once per outstanding reason key, fanning
// out its result to every concurrent caller that requested the same key —
// the singleflight half of spec.md §4.8's "a second beginReload while
// pending returns the existing attempt" guarantee, used by the HTTP reload
// handler to collapse concurrent callers onto one orchestrator.Reload run.
func (s *Supervisor) CoalesceReload(key string, fn func() (any, error)) (any, error, bool) {
	v, err, shared := s.group.Do(key, fn)
	return v, err, shared
}
