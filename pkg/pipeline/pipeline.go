// Package pipeline implements the seven-step command pipeline (spec.md
// §4.5): parse/validate, resolve identity, classify invocation, check
// conversational ingress, claim idempotency, authorize, and execute.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/command"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/grammar"
	"github.com/codeready-toolchain/mucp/pkg/idempotency"
	"github.com/codeready-toolchain/mucp/pkg/policy"
	"github.com/codeready-toolchain/mucp/pkg/telemetry"
)

// ResultKind classifies a CommandPipelineResult.
type ResultKind string

const (
	ResultNoop             ResultKind = "noop"
	ResultDenied           ResultKind = "denied"
	ResultOperatorResponse ResultKind = "operator_response"
	ResultCompleted        ResultKind = "completed"
	ResultAwaitingConfirm  ResultKind = "awaiting_confirmation"
	ResultQueued           ResultKind = "queued"
	ResultDeferred         ResultKind = "deferred"
)

// Result is the tagged outcome of running an Inbound through the pipeline.
type Result struct {
	Kind      ResultKind
	Reason    string
	Message   string
	CommandID string
	Result    any
	RetryAtMs int64
}

// IdentityResolver resolves an inbound envelope's (channel, tenant, actor)
// triple to a Binding, or reports that none is active.
type IdentityResolver interface {
	Resolve(channel, tenant, actor string) (policy.Binding, bool)
}

// IngressPolicy decides whether raw conversational text is allowed to reach
// the operator backend for a given channel/envelope.
type IngressPolicy interface {
	AllowsConversational(channel string, metadata map[string]string) bool
}

// OperatorOutcomeKind classifies what the operator backend did with a turn.
type OperatorOutcomeKind string

const (
	OperatorResponse OperatorOutcomeKind = "response"
	OperatorCommand  OperatorOutcomeKind = "command"
	OperatorReject   OperatorOutcomeKind = "reject"
)

// OperatorOutcome is what the operator backend returns for a conversational
// turn (spec.md §4.5 "Operator turn").
type OperatorOutcome struct {
	Kind    OperatorOutcomeKind
	Message string
	Reason  string
}

// OperatorBackend handles free-form conversational turns.
type OperatorBackend interface {
	Enabled() bool
	Turn(in *envelope.Inbound) (OperatorOutcome, error)
}

// ReadonlyExecutor runs a non-mutating command synchronously.
type ReadonlyExecutor interface {
	Execute(key string, args []string, in *envelope.Inbound) (any, error)
}

// MutationExecutor is the FIFO-serialized mutation path (pkg/mutate's tail
// chain sits behind this interface; the pipeline only needs to submit).
type MutationExecutor interface {
	Submit(commandID string, key string, args []string, in *envelope.Inbound) (any, string, error)
}

// KnownCommands returns the set of resolvable command keys, used to drive
// grammar.Parse's greedy longest-match.
type KnownCommands interface {
	Keys() map[string]bool
}

// Pipeline wires the seven pipeline steps against concrete stores.
type Pipeline struct {
	Known       KnownCommands
	Identity    IdentityResolver
	Ingress     IngressPolicy
	Idempotency *idempotency.Ledger
	Policy      *policy.Engine
	Commands    *command.Store
	Operator    OperatorBackend
	Readonly    ReadonlyExecutor
	Mutation    MutationExecutor
	ConfirmTTL  time.Duration
}

// Run executes one Inbound envelope through all seven steps, recording the
// result kind and wall-clock duration for /metrics (spec.md §6.4).
func (p *Pipeline) Run(in *envelope.Inbound, now time.Time) Result {
	start := time.Now()
	result := p.run(in, now)
	telemetry.RecordPipelineResult(in.Channel, string(result.Kind))
	telemetry.RecordCommandDuration(float64(time.Since(start).Milliseconds()))
	return result
}

func (p *Pipeline) run(in *envelope.Inbound, now time.Time) Result {
	log := slog.Default().With("component", "pipeline", "request_id", in.RequestID)

	// Step 1: parse/validate.
	if err := in.Validate(); err != nil {
		log.Warn("envelope failed validation", "error", err)
		return Result{Kind: ResultDenied, Reason: "schema_invalid"}
	}

	// Step 2: resolve identity. When the caller names the binding it
	// expects (actor_binding_id), it must match the one actually resolved
	// active for this triple — spec.md §4.5 step 2.
	binding, ok := p.Identity.Resolve(in.Channel, in.ChannelTenantID, in.ActorID)
	if !ok {
		return Result{Kind: ResultDenied, Reason: "identity_not_linked"}
	}
	if in.ActorBindingID != "" && in.ActorBindingID != binding.BindingID {
		return Result{Kind: ResultDenied, Reason: "identity_not_linked"}
	}
	in.ActorBindingID = binding.BindingID
	in.AssuranceTier = binding.AssuranceTier

	// Step 3: classify invocation.
	var known map[string]bool
	if p.Known != nil {
		known = p.Known.Keys()
	}
	inv := grammar.Parse(in.CommandText, known)

	switch inv.Kind {
	case grammar.KindNoop:
		return p.runConversational(in, binding, log, now)
	case grammar.KindInvalid:
		return Result{Kind: ResultDenied, Reason: "schema_invalid"}
	case grammar.KindConfirm:
		return p.confirm(inv.CommandID, now)
	case grammar.KindCancel:
		return p.cancel(inv.CommandID, now)
	}

	// Step 4: conversational ingress check only applies to free-form text;
	// a resolved command always reaches policy regardless of channel.

	// Step 5: idempotency claim. The command_id claimed here is the same
	// one execute() uses, so a later duplicate delivery's OriginalCommandID
	// always points at the command that actually ran.
	commandID := p.Commands.NextID()
	claim := p.claim(in, commandID, now)
	switch claim.Kind {
	case idempotency.Duplicate:
		return Result{Kind: ResultNoop, Reason: "duplicate_delivery", CommandID: claim.OriginalCommandID}
	case idempotency.Conflict:
		return Result{Kind: ResultDenied, Reason: "idempotency_conflict"}
	}

	// Step 6: policy authorization.
	decision := p.Policy.Authorize(inv.Key, binding, in.Channel, in.ActorID, now.UnixMilli())
	switch decision.Kind {
	case policy.Deny:
		return Result{Kind: ResultDenied, Reason: decision.Reason}
	case policy.Defer:
		return Result{Kind: ResultDeferred, RetryAtMs: decision.RetryAtMs}
	case policy.Fail:
		return Result{Kind: ResultDenied, Reason: decision.Reason}
	}

	// Step 7: execute.
	return p.execute(commandID, in, inv, decision.Rule, now)
}

func (p *Pipeline) claim(in *envelope.Inbound, commandID string, now time.Time) idempotency.ClaimResult {
	return p.Idempotency.Claim(in.IdempotencyKey, in.Fingerprint, commandID, idempotency.DefaultTTL, now)
}

func (p *Pipeline) runConversational(in *envelope.Inbound, binding policy.Binding, log *slog.Logger, now time.Time) Result {
	if p.Ingress != nil && !p.Ingress.AllowsConversational(in.Channel, in.Metadata) {
		return Result{Kind: ResultDenied, Reason: "ingress_not_conversational"}
	}
	if p.Operator == nil || !p.Operator.Enabled() {
		return Result{Kind: ResultDenied, Reason: "operator_unavailable"}
	}

	claim := p.claim(in, p.Commands.NextID(), now)
	switch claim.Kind {
	case idempotency.Duplicate:
		return Result{Kind: ResultNoop, Reason: "duplicate_delivery", CommandID: claim.OriginalCommandID}
	case idempotency.Conflict:
		return Result{Kind: ResultDenied, Reason: "idempotency_conflict"}
	}

	outcome, err := p.Operator.Turn(in)
	if err != nil {
		log.Error("operator turn failed", "error", err)
		return Result{Kind: ResultDenied, Reason: "operator_unavailable"}
	}

	switch outcome.Kind {
	case OperatorReject:
		return Result{Kind: ResultDenied, Reason: outcome.Reason}
	default:
		return Result{Kind: ResultOperatorResponse, Message: outcome.Message}
	}
}

func (p *Pipeline) execute(commandID string, in *envelope.Inbound, inv grammar.Invocation, rule policy.Rule, now time.Time) Result {
	correlation := in.Correlation()
	correlation.CommandID = commandID

	if err := p.Commands.Transition(command.Entry{CommandID: commandID, Correlation: correlation, CommandKey: inv.Key, Args: inv.Args, Mode: string(inv.Mode), ToState: command.StateAccepted}, now); err != nil {
		return Result{Kind: ResultDenied, Reason: "internal_error"}
	}

	if !rule.Mutating {
		result, err := p.Readonly.Execute(inv.Key, inv.Args, in)
		if err != nil {
			_ = p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateFailed, ErrorCode: "readonly_execution_failed"}, now)
			return Result{Kind: ResultDenied, Reason: "readonly_execution_failed", CommandID: commandID}
		}
		_ = p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateCompleted, Result: result}, now)
		return Result{Kind: ResultCompleted, CommandID: commandID, Result: result}
	}

	if rule.ConfirmationRequired {
		expMs := now.Add(p.ConfirmTTL).UnixMilli()
		err := p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateAwaitingConfirmation, ConfirmExpMs: expMs}, now)
		if err != nil {
			return Result{Kind: ResultDenied, Reason: "internal_error"}
		}
		return Result{Kind: ResultAwaitingConfirm, CommandID: commandID}
	}

	return p.enqueue(commandID, inv, in, now)
}

func (p *Pipeline) enqueue(commandID string, inv grammar.Invocation, in *envelope.Inbound, now time.Time) Result {
	log := slog.Default().With("component", "pipeline", "command_id", commandID)

	if err := p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateQueued}, now); err != nil {
		log.Error("failed to transition to queued", "error", err)
		return Result{Kind: ResultDenied, Reason: "internal_error", CommandID: commandID}
	}
	// queued -> in_progress before the handler runs: completed/failed are
	// only reachable from in_progress in the state machine (spec.md §3).
	if err := p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateInProgress}, now); err != nil {
		log.Error("failed to transition to in_progress", "error", err)
		return Result{Kind: ResultDenied, Reason: "internal_error", CommandID: commandID}
	}

	result, errorCode, err := p.Mutation.Submit(commandID, inv.Key, inv.Args, in)
	if err != nil {
		if tErr := p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateFailed, ErrorCode: errorCode}, now); tErr != nil {
			log.Error("failed to transition to failed", "error", tErr)
		}
		return Result{Kind: ResultDenied, Reason: errorCode, CommandID: commandID}
	}

	if tErr := p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateCompleted, Result: result}, now); tErr != nil {
		log.Error("failed to transition to completed", "error", tErr)
		return Result{Kind: ResultDenied, Reason: "internal_error", CommandID: commandID, Result: result}
	}
	return Result{Kind: ResultCompleted, CommandID: commandID, Result: result}
}

func (p *Pipeline) confirm(commandID string, now time.Time) Result {
	r := p.Commands.Get(commandID)
	if r == nil {
		return Result{Kind: ResultDenied, Reason: "unknown_command"}
	}
	clone := r.Clone()
	if clone.State != command.StateAwaitingConfirmation {
		return Result{Kind: ResultDenied, Reason: "not_awaiting_confirmation"}
	}
	if clone.ConfirmExpMs > 0 && now.UnixMilli() >= clone.ConfirmExpMs {
		_ = p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateExpired}, now)
		return Result{Kind: ResultDenied, Reason: "confirmation_expired"}
	}

	// Re-derive the inbound the command was accepted under from its folded
	// correlation, so the domain.mutating entry AppendMutating records
	// embeds the command's real provenance rather than an empty one
	// (spec.md §4.5: "the command's correlation embedded").
	confirmedIn := &envelope.Inbound{
		RequestID:             clone.Correlation.RequestID,
		DeliveryID:            clone.Correlation.DeliveryID,
		Channel:               clone.Correlation.Channel,
		ChannelTenantID:       clone.Correlation.ChannelTenantID,
		ChannelConversationID: clone.Correlation.ChannelConversationID,
		ActorID:               clone.Correlation.ActorID,
		ActorBindingID:        clone.Correlation.ActorBindingID,
	}
	return p.enqueue(commandID, grammar.Invocation{Key: clone.CommandKey, Args: clone.Args}, confirmedIn, now)
}

func (p *Pipeline) cancel(commandID string, now time.Time) Result {
	r := p.Commands.Get(commandID)
	if r == nil {
		return Result{Kind: ResultDenied, Reason: "unknown_command"}
	}
	clone := r.Clone()
	if command.IsTerminal(clone.State) {
		return Result{Kind: ResultDenied, Reason: "already_terminal"}
	}
	if err := p.Commands.Transition(command.Entry{CommandID: commandID, ToState: command.StateCancelled}, now); err != nil {
		return Result{Kind: ResultDenied, Reason: "illegal_cancel"}
	}
	return Result{Kind: ResultCompleted, CommandID: commandID, Reason: "cancelled"}
}
