// Package outbox implements the durable outbox and dispatcher (spec.md
// §4.7): dedupe-keyed enqueue, a pending→in_flight→delivered/dead_letter
// state machine, exponential backoff via cenkalti/backoff, dead-letter
// replay, and event-coalesced draining.
package outbox

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/journal"
	"github.com/codeready-toolchain/mucp/pkg/mucperr"
	"github.com/codeready-toolchain/mucp/pkg/telemetry"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentDeliveries bounds how many outbox records one drain pass
// attempts at once, so a large pending backlog cannot open unbounded
// concurrent connections to a channel's API.
const maxConcurrentDeliveries = 8

// State is the lifecycle state of one OutboxRecord.
type State string

const (
	StatePending    State = "pending"
	StateInFlight   State = "in_flight"
	StateDelivered  State = "delivered"
	StateDeadLetter State = "dead_letter"
)

// Record is one outbound delivery attempt as persisted to outbox.jsonl.
type Record struct {
	OutboxID         string            `json:"outbox_id"`
	DedupeKey        string            `json:"dedupe_key"`
	Channel          string            `json:"channel"`
	Envelope         envelope.Outbound `json:"envelope"`
	State            State             `json:"state"`
	AttemptCount      int               `json:"attempt_count"`
	MaxAttempts       int               `json:"max_attempts"`
	NextAttemptAtMs   int64             `json:"next_attempt_at_ms"`
	DeadLetterReason  string            `json:"dead_letter_reason,omitempty"`
	ReplayOfOutboxID  string            `json:"replay_of_outbox_id,omitempty"`
	CreatedAtMs       int64             `json:"created_at_ms"`
	UpdatedAtMs       int64             `json:"updated_at_ms"`
}

// EnqueueKind tags whether Enqueue created a new record or found the
// dedupe key already present.
type EnqueueKind string

const (
	Enqueued  EnqueueKind = "enqueued"
	DuplicateEnqueue EnqueueKind = "duplicate"
)

// EnqueueResult is the tagged outcome of Enqueue.
type EnqueueResult struct {
	Kind   EnqueueKind
	Record Record
}

// DeliverKind classifies what a channel Driver did with one delivery attempt.
type DeliverKind string

const (
	Delivered         DeliverKind = "delivered"
	Retry             DeliverKind = "retry"
	UnsupportedChannel DeliverKind = "unsupported"
)

// DeliverResult is what a Driver reports after attempting one delivery.
type DeliverResult struct {
	Kind          DeliverKind
	Err           error
	RetryDelayMs  int64 // optional channel-supplied override, e.g. HTTP 429 Retry-After
}

// Driver delivers one Outbound envelope over a specific channel. Drivers
// that do not recognize the channel return DeliverResult{Kind:
// UnsupportedChannel}.
type Driver interface {
	Deliver(channel string, out envelope.Outbound) DeliverResult
}

// Store is the journal-backed fold of outbox.jsonl.
type Store struct {
	writer *journal.Writer
	path   string
	prefix string
	seq    int64 // highest sequence number claimed so far; next is seq+1

	mu      sync.Mutex
	byID    map[string]Record
	byDedup map[string]string // dedupe_key -> outbox_id
}

// Open loads a Store by folding outbox.jsonl. The monotonic ID sequence
// (NextID) is seeded from the highest "<prefix>-ob-<n>" suffix already
// present in the log, so a restart never reissues an outbox_id.
func Open(path string) (*Store, error) {
	records, err := journal.ReadAll[Record](path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		writer:  journal.NewWriter(path),
		path:    path,
		prefix:  "ob",
		byID:    make(map[string]Record, len(records)),
		byDedup: make(map[string]string, len(records)),
	}
	for _, r := range records {
		s.byID[r.OutboxID] = r
		s.byDedup[r.DedupeKey] = r.OutboxID
		s.observeID(r.OutboxID)
	}
	return s, nil
}

// WithPrefix overrides the id prefix used by NextID (SPEC_FULL.md §4's
// "<repo-short>-ob-<seq>" scheme) and returns the Store for chaining. Call
// it once, right after Open and before the Store is shared across
// goroutines; NextID reads the prefix lock-free.
func (s *Store) WithPrefix(prefix string) *Store {
	s.prefix = prefix
	return s
}

// NextID returns the next monotonic outbox_id in this Store's sequence.
func (s *Store) NextID() string {
	n := atomic.AddInt64(&s.seq, 1)
	return fmt.Sprintf("%s-ob-%d", s.prefix, n)
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

// Enqueue appends a new pending record keyed by dedupeKey, or returns the
// existing record if dedupeKey was already enqueued (spec.md §4.7).
func (s *Store) Enqueue(dedupeKey, channel string, out envelope.Outbound, maxAttempts int, now time.Time) (EnqueueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byDedup[dedupeKey]; ok {
		return EnqueueResult{Kind: DuplicateEnqueue, Record: s.byID[id]}, nil
	}

	r := Record{
		OutboxID:        s.NextID(),
		DedupeKey:       dedupeKey,
		Channel:         channel,
		Envelope:        out,
		State:           StatePending,
		MaxAttempts:     maxAttempts,
		NextAttemptAtMs: now.UnixMilli(),
		CreatedAtMs:     now.UnixMilli(),
		UpdatedAtMs:     now.UnixMilli(),
	}

	if err := s.writer.Append(r); err != nil {
		return EnqueueResult{}, err
	}
	s.byID[r.OutboxID] = r
	s.byDedup[dedupeKey] = r.OutboxID
	return EnqueueResult{Kind: Enqueued, Record: r}, nil
}

// Pending returns every record with state=pending and next_attempt_at_ms <=
// now, oldest-enqueued first.
func (s *Store) Pending(now time.Time) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.byID {
		if r.State == StatePending && r.NextAttemptAtMs <= now.UnixMilli() {
			out = append(out, r)
		}
	}
	sortByCreated(out)
	return out
}

func sortByCreated(records []Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].CreatedAtMs < records[j-1].CreatedAtMs; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

func (s *Store) save(r Record) error {
	if err := s.writer.Append(r); err != nil {
		return err
	}
	s.mu.Lock()
	s.byID[r.OutboxID] = r
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current record for an outbox_id.
func (s *Store) Get(outboxID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[outboxID]
	return r, ok
}

// ReplayDeadLetter clones a dead-letter record with a fresh outbox_id,
// preserving its correlation.command_id and tagging replay_of_outbox_id
// (spec.md §4.7).
func (s *Store) ReplayDeadLetter(outboxID, requestedByCommandID string, now time.Time) (original Record, replay Record, err error) {
	s.mu.Lock()
	r, ok := s.byID[outboxID]
	s.mu.Unlock()
	if !ok {
		return Record{}, Record{}, mucperr.ErrDLQNotFound
	}
	if r.State != StateDeadLetter {
		return Record{}, Record{}, mucperr.ErrDLQNotDead
	}

	replay = r
	replay.OutboxID = s.NextID()
	replay.DedupeKey = replay.OutboxID
	replay.State = StatePending
	replay.AttemptCount = 0
	replay.NextAttemptAtMs = now.UnixMilli()
	replay.ReplayOfOutboxID = outboxID
	replay.DeadLetterReason = ""
	replay.Envelope.Correlation.CommandID = requestedByCommandID
	replay.CreatedAtMs = now.UnixMilli()
	replay.UpdatedAtMs = now.UnixMilli()

	if err := s.writer.Append(replay); err != nil {
		return Record{}, Record{}, err
	}
	s.mu.Lock()
	s.byID[replay.OutboxID] = replay
	s.byDedup[replay.DedupeKey] = replay.OutboxID
	s.mu.Unlock()
	return r, replay, nil
}

// NewBackoff constructs the exponential-with-jitter, capped backoff policy
// used to compute next_attempt_at_ms when a channel driver does not supply
// its own retry_delay_ms (spec.md §4.7).
func NewBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0 // caller tracks max_attempts, not elapsed wall time
	return b
}

// Dispatcher drains pending records by invoking a Driver and updating each
// record's terminal/retry state (spec.md §4.7).
type Dispatcher struct {
	store  *Store
	driver Driver

	mu        sync.Mutex
	draining  bool
	requested bool
}

// NewDispatcher binds a Dispatcher to a Store and channel Driver.
func NewDispatcher(store *Store, driver Driver) *Dispatcher {
	return &Dispatcher{store: store, driver: driver}
}

// RequestDrain triggers a drain pass. If a drain is already running, it sets
// the requested flag so exactly one more pass runs after the current one —
// this is the event-coalescing behavior of spec.md §4.7: unbounded signal
// volume never causes unbounded concurrent drains.
func (d *Dispatcher) RequestDrain(now time.Time) {
	d.mu.Lock()
	if d.draining {
		d.requested = true
		d.mu.Unlock()
		return
	}
	d.draining = true
	d.mu.Unlock()

	go d.drainLoop(now)
}

func (d *Dispatcher) drainLoop(now time.Time) {
	for {
		d.drainOnce(now)

		d.mu.Lock()
		if !d.requested {
			d.draining = false
			d.mu.Unlock()
			return
		}
		d.requested = false
		d.mu.Unlock()
	}
}

// drainOnce fans out delivery attempts for every currently-pending record,
// bounded to maxConcurrentDeliveries in flight at once. Each record's
// outcome is independent, so one channel's slow or erroring driver never
// blocks the rest of the batch from attempting delivery.
func (d *Dispatcher) drainOnce(now time.Time) {
	pending := d.store.Pending(now)
	if len(pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentDeliveries)
	for _, r := range pending {
		r := r
		g.Go(func() error {
			d.attempt(r, now)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) attempt(r Record, now time.Time) {
	r.State = StateInFlight
	r.UpdatedAtMs = now.UnixMilli()
	if err := d.store.save(r); err != nil {
		slog.Error("outbox: failed to flip record in_flight", "outbox_id", r.OutboxID, "error", err)
		return
	}

	result := d.driver.Deliver(r.Channel, r.Envelope)
	switch result.Kind {
	case Delivered:
		r.State = StateDelivered
		telemetry.RecordOutboxAttempt(r.Channel, "delivered")
	case UnsupportedChannel:
		r.State = StateDeadLetter
		r.DeadLetterReason = "unsupported_channel"
		telemetry.RecordOutboxAttempt(r.Channel, "unsupported_channel")
		telemetry.RecordOutboxDeadLetter(r.Channel)
	default: // Retry
		r.AttemptCount++
		if r.AttemptCount >= r.MaxAttempts {
			r.State = StateDeadLetter
			r.DeadLetterReason = "attempts_exhausted"
			telemetry.RecordOutboxAttempt(r.Channel, "dead_letter")
			telemetry.RecordOutboxDeadLetter(r.Channel)
		} else {
			r.State = StatePending
			delay := result.RetryDelayMs
			if delay == 0 {
				delay = int64(backoffDelayFor(r.AttemptCount) / time.Millisecond)
			}
			r.NextAttemptAtMs = now.UnixMilli() + delay
			telemetry.RecordOutboxAttempt(r.Channel, "retry")
		}
	}
	r.UpdatedAtMs = now.UnixMilli()
	if err := d.store.save(r); err != nil {
		slog.Error("outbox: failed to persist delivery outcome", "outbox_id", r.OutboxID, "error", err)
	}
}

func backoffDelayFor(attempt int) time.Duration {
	b := NewBackoff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// StartPeriodicWakeup starts a ticker that calls RequestDrain on an
// interval, guaranteeing liveness even without producer signals (spec.md
// §4.7).
func (d *Dispatcher) StartPeriodicWakeup(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.RequestDrain(time.Now())
			}
		}
	}()
}
