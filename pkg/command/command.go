// Package command implements the command record, its state machine
// (spec.md §4.5), and the journal-backed in-memory command map that both
// the pipeline and the startup replayer fold into.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/journal"
	"github.com/google/uuid"
)

// NewID generates a standalone command_id outside of any Store's sequence.
// Production code claims IDs from a Store's NextID instead, so that
// command_id is the monotonic string spec.md §3 requires; this remains for
// fixtures and callers with no open Store to seed a sequence from.
func NewID() string {
	return "cmd_" + uuid.New().String()
}

// State is one node of the command lifecycle state machine.
type State string

const (
	StateAccepted            State = "accepted"
	StateQueued               State = "queued"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateInProgress           State = "in_progress"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
	StateExpired              State = "expired"
	StateDeferred             State = "deferred"
)

// transitions enumerates the legal source→target edges of spec.md §4.5.
var transitions = map[State]map[State]bool{
	StateAccepted: {
		StateQueued:               true,
		StateAwaitingConfirmation: true,
		StateCompleted:            true,
		StateFailed:               true,
	},
	StateAwaitingConfirmation: {
		StateQueued:    true,
		StateCancelled: true,
		StateExpired:   true,
	},
	StateQueued: {
		StateInProgress: true,
		StateDeferred:   true,
		StateCancelled:  true,
	},
	StateInProgress: {
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
		StateDeferred:  true,
	},
	StateDeferred: {
		StateQueued: true,
	},
}

// IsTerminal reports whether a state has no further legal outgoing edge.
func IsTerminal(s State) bool {
	return transitions[s] == nil
}

// CanTransition reports whether from→to is a legal edge of the state machine.
func CanTransition(from, to State) bool {
	return transitions[from] != nil && transitions[from][to]
}

// EntryKind tags what a commands.jsonl line represents.
type EntryKind string

const (
	EntryLifecycle EntryKind = "command.lifecycle"
	EntryMutating  EntryKind = "domain.mutating"
)

// Entry is one line of commands.jsonl (spec.md §6.3). Lifecycle entries
// carry a to-state and carry Result when the transition is terminal;
// mutating entries carry the caller-defined domain effect payload.
type Entry struct {
	Kind          EntryKind          `json:"kind"`
	CommandID     string             `json:"command_id"`
	Correlation   envelope.Correlation `json:"correlation"`
	TsMs          int64              `json:"ts_ms"`
	ToState       State              `json:"to_state,omitempty"`
	CommandKey    string             `json:"command_key,omitempty"`
	Args          []string           `json:"args,omitempty"`
	Mode          string             `json:"mode,omitempty"`
	Result        any                `json:"result,omitempty"`
	ErrorCode     string             `json:"error_code,omitempty"`
	RetryAtMs     int64              `json:"retry_at_ms,omitempty"`
	ConfirmExpMs  int64              `json:"confirmation_expires_at_ms,omitempty"`
	Effect        any                `json:"effect,omitempty"`
}

// Record is the in-memory view of one command, folded from its Entries.
type Record struct {
	CommandID     string
	Correlation   envelope.Correlation
	CommandKey    string
	Args          []string
	Mode          string
	State         State
	Result        any
	ErrorCode     string
	RetryAtMs     int64
	ConfirmExpMs  int64
	CreatedAtMs   int64
	UpdatedAtMs   int64
	MutatingCount int // number of domain.mutating entries observed for this command

	mu sync.RWMutex
}

// Clone returns a lock-free copy safe to hand to callers.
func (r *Record) Clone() Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := *r
	cp.mu = sync.RWMutex{}
	return cp
}

func (r *Record) applyLifecycle(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CreatedAtMs == 0 {
		r.CreatedAtMs = e.TsMs
		r.CommandID = e.CommandID
		r.Correlation = e.Correlation
		r.CommandKey = e.CommandKey
		r.Args = e.Args
		r.Mode = e.Mode
	}
	r.State = e.ToState
	r.UpdatedAtMs = e.TsMs
	r.Result = e.Result
	r.ErrorCode = e.ErrorCode
	r.RetryAtMs = e.RetryAtMs
	r.ConfirmExpMs = e.ConfirmExpMs
}

func (r *Record) applyMutating() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.MutatingCount++
}

// HasMutatingEntry reports whether replay has observed any domain.mutating
// entry for this command — the exactly-once guard of spec.md §4.10.
func (r *Record) HasMutatingEntry() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.MutatingCount > 0
}

// Store is the journal-backed command map: every transition is appended to
// commands.jsonl before the in-memory Record is updated, so the map is
// always a fold of a durable, replayable log.
type Store struct {
	writer *journal.Writer
	prefix string
	seq    int64 // highest sequence number claimed so far; next is seq+1

	mu      sync.RWMutex
	records map[string]*Record
}

// Open loads a Store by folding commands.jsonl in order. The monotonic ID
// sequence (NextID) is seeded from the highest "<prefix>-cmd-<n>" suffix
// already present in the log, so a restart never reissues a command_id.
func Open(path string) (*Store, error) {
	s := &Store{
		writer:  journal.NewWriter(path),
		prefix:  "cmd",
		records: make(map[string]*Record),
	}
	err := journal.ForEach(path, func(e Entry) error {
		s.fold(e)
		s.observeID(e.CommandID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// WithPrefix overrides the id prefix used by NextID (SPEC_FULL.md §4's
// "<repo-short>-cmd-<seq>" scheme) and returns the Store for chaining. Call
// it once, right after Open and before the Store is shared across
// goroutines; NextID reads the prefix lock-free.
func (s *Store) WithPrefix(prefix string) *Store {
	s.prefix = prefix
	return s
}

// NextID returns the next monotonic command_id in this Store's sequence
// (spec.md §3: "command_id (monotonic string)").
func (s *Store) NextID() string {
	n := atomic.AddInt64(&s.seq, 1)
	return fmt.Sprintf("%s-cmd-%d", s.prefix, n)
}

// observeID advances the sequence counter past any id already present in
// the replayed log, regardless of which prefix generated it.
func (s *Store) observeID(id string) {
	idx := strings.LastIndex(id, "-")
	if idx < 0 || idx == len(id)-1 {
		return
	}
	n, err := strconv.ParseInt(id[idx+1:], 10, 64)
	if err != nil {
		return
	}
	for {
		cur := atomic.LoadInt64(&s.seq)
		if n <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&s.seq, cur, n) {
			return
		}
	}
}

func (s *Store) fold(e Entry) {
	s.mu.Lock()
	r, ok := s.records[e.CommandID]
	if !ok {
		r = &Record{}
		s.records[e.CommandID] = r
	}
	s.mu.Unlock()

	switch e.Kind {
	case EntryMutating:
		r.applyMutating()
	default:
		r.applyLifecycle(e)
	}
}

// Get returns the current Record for a command_id, or nil if unknown.
func (s *Store) Get(commandID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[commandID]
}

// All returns a snapshot of every command_id currently tracked.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// Transition appends a command.lifecycle entry moving commandID from its
// current state to `to`, and folds it into the in-memory map. Transition
// refuses to append an illegal edge — the caller has a bug if it tries.
func (s *Store) Transition(e Entry, now time.Time) error {
	s.mu.RLock()
	r, exists := s.records[e.CommandID]
	s.mu.RUnlock()

	from := StateAccepted
	if exists {
		r.mu.RLock()
		from = r.State
		r.mu.RUnlock()
	}
	if exists && !CanTransition(from, e.ToState) {
		return fmt.Errorf("%w: %s -> %s", errIllegalTransition, from, e.ToState)
	}

	e.Kind = EntryLifecycle
	e.TsMs = now.UnixMilli()
	if err := s.writer.Append(e); err != nil {
		return err
	}
	s.fold(e)
	return nil
}

// AppendMutating appends a domain.mutating entry for commandID within what
// the caller must ensure is the same single-writer section as the
// terminal lifecycle transition (spec.md §4.5).
func (s *Store) AppendMutating(commandID string, correlation envelope.Correlation, effect any, now time.Time) error {
	e := Entry{
		Kind:        EntryMutating,
		CommandID:   commandID,
		Correlation: correlation,
		TsMs:        now.UnixMilli(),
		Effect:      effect,
	}
	if err := s.writer.Append(e); err != nil {
		return err
	}
	s.fold(e)
	return nil
}

var errIllegalTransition = errors.New("illegal command state transition")
