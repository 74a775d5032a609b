// Package adapter defines the channel adapter contract (spec.md §4.11):
// each driver under pkg/adapter/* is a thin translator between one
// channel's wire format and the normalized envelope the pipeline consumes.
package adapter

import (
	"time"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/journal"
)

// Verification names how an adapter authenticates inbound requests.
type Verification string

const (
	VerificationHMAC           Verification = "hmac"
	VerificationSharedSecret   Verification = "shared_secret"
	VerificationNone           Verification = "none" // terminal/in-process channels only
)

// Spec is the static, declarative description of one channel adapter
// (spec.md §4.11).
type Spec struct {
	Channel          string
	Route            string
	IngressPayload   string // content-type or payload family, e.g. "application/json"
	Verification     Verification
	AckFormat        string
	DeferredDelivery bool // true if acks happen before outbox delivery completes
}

// PipelineRunner is the subset of pipeline.Pipeline an adapter needs.
type PipelineRunner interface {
	Run(in *envelope.Inbound, now time.Time) PipelineResult
}

// PipelineResult mirrors pipeline.Result's shape without importing the
// pipeline package, keeping adapters decoupled from pipeline internals.
type PipelineResult struct {
	Kind      string
	Reason    string
	Message   string
	CommandID string
	Result    any
	RetryAtMs int64
}

// AuditEntry is one adapter.audit journal line (spec.md §6.3). The Slack
// and Telegram webhook handlers append exactly one per request they accept
// or reject; the Slack URL-verification handshake, Telegram updates without
// a message, and Telegram deliveries already recorded as accepted append
// none, and the editor and terminal adapters do not write audit entries.
type AuditEntry struct {
	Kind      string            `json:"kind"`
	Channel   string            `json:"channel"`
	Event     string            `json:"event"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TsMs      int64             `json:"ts_ms"`
}

// AuditLog appends adapter.audit entries to adapter_audit.jsonl.
// Adapters must not touch business stores directly (spec.md §4.11); the
// audit log is the only state an adapter is allowed to write to itself.
type AuditLog struct {
	writer *journal.Writer
}

// OpenAuditLog binds an AuditLog to its journal file.
func OpenAuditLog(path string) *AuditLog {
	return &AuditLog{writer: journal.NewWriter(path)}
}

// Record appends one adapter.audit entry.
func (a *AuditLog) Record(channel, event, reason string, metadata map[string]string, now time.Time) error {
	return a.writer.Append(AuditEntry{
		Kind:     "adapter.audit",
		Channel:  channel,
		Event:    event,
		Reason:   reason,
		Metadata: metadata,
		TsMs:     now.UnixMilli(),
	})
}

// LastIngressAt folds path's audit journal and returns, per channel, the
// ts_ms of the most recent entry whose event is "ingress.accepted". Used by
// the control surface's channels listing (spec.md §6.1) to report
// last_ingress_at_ms without holding that state in memory across restarts.
func LastIngressAt(path string) (map[string]int64, error) {
	entries, err := journal.ReadAll[AuditEntry](path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, e := range entries {
		if e.Event != "ingress.accepted" {
			continue
		}
		if e.TsMs > out[e.Channel] {
			out[e.Channel] = e.TsMs
		}
	}
	return out, nil
}
