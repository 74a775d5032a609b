// Package reload implements the reload orchestrator (spec.md §4.9): plan,
// warmup, cutover, drain, and rollback-on-drain-failure, with telemetry
// events and counters at every step.
package reload

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/telemetry"
)

// Runtime is a constructed-but-not-yet-traffic-accepting control-plane
// instance (adapters, pipeline, outbox). Warmup builds one; Drain retires
// the one it replaces.
type Runtime interface {
	// Stop drains the runtime (closes adapters, flushes outbox) and
	// reports whether draining failed; the orchestrator times the call.
	Stop() error
}

// WarmupFunc constructs the next generation's Runtime without accepting
// traffic yet.
type WarmupFunc func(reason string) (Runtime, error)

// Counters are the telemetry counters spec.md §4.9 names explicitly.
type Counters struct {
	ReloadSuccessTotal         int64
	ReloadFailureTotal         int64
	ReloadDrainDurationMsTotal int64
	ReloadDrainSamplesTotal    int64
	DuplicateSignalTotal       int64
}

// Orchestrator runs the reload sequence against a Supervisor and a
// caller-supplied Warmup constructor.
type Orchestrator struct {
	supervisor *generation.Supervisor
	warmup     WarmupFunc

	// countersMu guards Counters: at most one goroutine ever runs the
	// warmup/cutover/drain body at a time (Supervisor.BeginReload's own
	// lock ensures that), but every concurrently coalesced caller still
	// increments DuplicateSignalTotal on this same struct.
	countersMu sync.Mutex
	counters   Counters
	active     Runtime
}

// NewOrchestrator binds an Orchestrator to its Supervisor and Warmup
// constructor. The caller supplies the first generation's Runtime directly
// since there is nothing to drain on the very first start.
func NewOrchestrator(supervisor *generation.Supervisor, warmup WarmupFunc, initial Runtime) *Orchestrator {
	return &Orchestrator{supervisor: supervisor, warmup: warmup, active: initial}
}

// Result is the tagged outcome of a reload invocation.
type Result struct {
	ToGeneration     int64
	ActiveGeneration int64
	Outcome          generation.Outcome
	Coalesced        bool
}

// Reload runs the full plan→warmup→cutover→drain(→rollback) sequence
// (spec.md §4.9).
func (o *Orchestrator) Reload(reason string) Result {
	log := slog.Default().With("component", "reload")

	begin := o.supervisor.BeginReload(reason)
	if begin.Coalesced {
		o.bumpCounter(func(c *Counters) { c.DuplicateSignalTotal++ })
		telemetry.RecordDuplicateSignal()
		log.Info("reload coalesced onto in-flight attempt", "attempt_id", begin.Attempt.AttemptID)
		return Result{
			ToGeneration:     begin.Attempt.ToGeneration,
			ActiveGeneration: o.supervisor.ActiveGeneration(),
			Coalesced:        true,
		}
	}

	attempt := begin.Attempt
	log.Info("warmup:start", "attempt_id", attempt.AttemptID, "reason", reason)

	next, err := o.warmup(reason)
	if err != nil {
		log.Error("warmup:failed", "attempt_id", attempt.AttemptID, "error", err)
		o.supervisor.FinishReload(attempt.AttemptID, generation.OutcomeFailed)
		o.bumpCounter(func(c *Counters) { c.ReloadFailureTotal++ })
		telemetry.RecordReloadFailure(0)
		return Result{ToGeneration: attempt.ToGeneration, ActiveGeneration: o.supervisor.ActiveGeneration(), Outcome: generation.OutcomeFailed}
	}
	log.Info("warmup:complete", "attempt_id", attempt.AttemptID)

	prior := o.active
	o.active = next
	o.supervisor.MarkSwapInstalled(attempt.AttemptID)
	log.Info("cutover:complete", "attempt_id", attempt.AttemptID, "to_generation", attempt.ToGeneration)

	drainStart := time.Now()
	drainErr := prior.Stop()
	drainMs := time.Since(drainStart).Milliseconds()
	o.bumpCounter(func(c *Counters) {
		c.ReloadDrainDurationMsTotal += drainMs
		c.ReloadDrainSamplesTotal++
	})

	if drainErr != nil {
		log.Error("drain:failed", "attempt_id", attempt.AttemptID, "error", drainErr, "drain_ms", drainMs)
		o.active = prior
		if stopErr := next.Stop(); stopErr != nil {
			log.Error("rollback: failed to stop discarded generation", "attempt_id", attempt.AttemptID, "error", stopErr)
		}
		o.supervisor.RollbackSwapInstalled(attempt.AttemptID)
		o.supervisor.FinishReload(attempt.AttemptID, generation.OutcomeFailed)
		o.bumpCounter(func(c *Counters) { c.ReloadFailureTotal++ })
		telemetry.RecordReloadFailure(drainMs)
		log.Info("rollback:complete", "attempt_id", attempt.AttemptID)
		return Result{
			ToGeneration:     attempt.ToGeneration,
			ActiveGeneration: o.supervisor.ActiveGeneration(),
			Outcome:          generation.OutcomeFailed,
		}
	}

	log.Info("drain:complete", "attempt_id", attempt.AttemptID, "drain_ms", drainMs)
	log.Info("rollback:skipped", "attempt_id", attempt.AttemptID)
	o.supervisor.FinishReload(attempt.AttemptID, generation.OutcomeCompleted)
	o.bumpCounter(func(c *Counters) { c.ReloadSuccessTotal++ })
	telemetry.RecordReloadSuccess(drainMs)

	return Result{
		ToGeneration:     attempt.ToGeneration,
		ActiveGeneration: o.supervisor.ActiveGeneration(),
		Outcome:          generation.OutcomeCompleted,
	}
}

// CountersSnapshot returns a snapshot of the orchestrator's telemetry counters.
func (o *Orchestrator) CountersSnapshot() Counters {
	o.countersMu.Lock()
	defer o.countersMu.Unlock()
	return o.counters
}

func (o *Orchestrator) bumpCounter(fn func(*Counters)) {
	o.countersMu.Lock()
	fn(&o.counters)
	o.countersMu.Unlock()
}
