// Package mucperr defines the control plane's error taxonomy.
//
// Kinds are carried as plain strings (error_code values in spec terms) on
// tagged result structs, never thrown. Sentinel errors in this package are
// reserved for Go-level plumbing failures that occur before a tagged result
// can even be constructed (journal corruption, lock contention).
package mucperr

import "errors"

// Validation.
const (
	CodeEmptyInput     = "empty_input"
	CodeSchemaInvalid  = "schema_invalid"
	CodeUnknownChannel = "unknown_channel"
)

// Identity.
const (
	CodeIdentityNotLinked = "identity_not_linked"
	CodeIdentityRevoked   = "identity_revoked"
)

// Policy.
const (
	CodeUnmappedCommand          = "unmapped_command"
	CodeMissingScope             = "missing_scope"
	CodeAssuranceTierTooLow      = "assurance_tier_too_low"
	CodeMutationsDisabledGlobal  = "mutations_disabled_global"
	CodeMutationsDisabledChannel = "mutations_disabled_channel"
	CodeMutationsDisabledClass   = "mutations_disabled_class"
)

// Idempotency.
const (
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeDuplicateDelivery   = "duplicate_delivery"
)

// Backpressure.
const (
	CodeBackpressureDeferred = "backpressure_deferred"
	CodeBackpressureOverflow = "backpressure_overflow"
)

// Execution.
const (
	CodeIngressNotConversational = "ingress_not_conversational"
	CodeOperatorUnavailable      = "operator_unavailable"
)

// Infrastructure.
const (
	CodeWriterLockBusy  = "writer_lock_busy"
	CodeJournalCorrupt  = "journal_corrupt"
	CodeDLQNotFound     = "dlq_not_found"
	CodeDLQNotDeadLeter = "dlq_not_dead_letter"
)

// Sentinel errors for plumbing failures raised before a tagged result exists.
var (
	ErrWriterLockBusy = errors.New("writer lock busy")
	ErrJournalCorrupt = errors.New("journal corrupt")
	ErrDLQNotFound    = errors.New("dead-letter record not found")
	ErrDLQNotDead     = errors.New("outbox record is not a dead letter")
)

// OperationError wraps a failed operation with component/resource context,
// grounded on the teacher's shared error-wrapping idiom.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	msg := "failed to " + e.Operation
	if e.Component != "" {
		msg += ", component: " + e.Component
	}
	if e.Resource != "" {
		msg += ", resource: " + e.Resource
	}
	if e.Cause != nil {
		msg += ", cause: " + e.Cause.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a simple wrapped error for a one-off plumbing failure.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return errors.New("failed to " + action)
	}
	return &OperationError{Operation: action, Cause: cause}
}
