// Package envelope defines the normalized, channel-agnostic inbound and
// outbound message shapes that flow through the command pipeline.
package envelope

import "fmt"

// AssuranceTier ranks how strongly an identity binding is authenticated.
type AssuranceTier string

const (
	TierA AssuranceTier = "tier_a"
	TierB AssuranceTier = "tier_b"
	TierC AssuranceTier = "tier_c"
)

// Rank returns an ordinal for tier comparisons (higher is stronger).
func (t AssuranceTier) Rank() int {
	switch t {
	case TierA:
		return 3
	case TierB:
		return 2
	case TierC:
		return 1
	default:
		return 0
	}
}

// Attachment is an opaque referenced artifact carried alongside a message.
type Attachment struct {
	Kind string `json:"kind"`
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// Correlation is the full provenance of a command, embedded in every journal
// entry so any single line is self-describing for audit and replay.
type Correlation struct {
	RequestID            string `json:"request_id"`
	DeliveryID           string `json:"delivery_id"`
	Channel              string `json:"channel"`
	ChannelTenantID      string `json:"channel_tenant_id"`
	ChannelConversationID string `json:"channel_conversation_id"`
	ActorID              string `json:"actor_id"`
	ActorBindingID        string `json:"actor_binding_id"`
	CommandID            string `json:"command_id,omitempty"`
}

// Inbound is the normalized, channel-agnostic inbound envelope (spec.md §3).
type Inbound struct {
	V                     int               `json:"v"`
	ReceivedAtMs          int64             `json:"received_at_ms"`
	RequestID             string            `json:"request_id"`
	DeliveryID            string            `json:"delivery_id"`
	Channel               string            `json:"channel"`
	ChannelTenantID       string            `json:"channel_tenant_id"`
	ChannelConversationID string            `json:"channel_conversation_id"`
	ActorID               string            `json:"actor_id"`
	ActorBindingID        string            `json:"actor_binding_id"`
	AssuranceTier         AssuranceTier     `json:"assurance_tier"`
	RepoRoot              string            `json:"repo_root"`
	CommandText           string            `json:"command_text"`
	ScopeRequired         []string          `json:"scope_required,omitempty"`
	ScopeEffective        []string          `json:"scope_effective,omitempty"`
	TargetType            string            `json:"target_type,omitempty"`
	TargetID              string            `json:"target_id,omitempty"`
	IdempotencyKey        string            `json:"idempotency_key"`
	Fingerprint           string            `json:"fingerprint"`
	Attachments           []Attachment      `json:"attachments,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

// Correlation extracts the provenance envelope carried into journal entries.
func (in *Inbound) Correlation() Correlation {
	return Correlation{
		RequestID:             in.RequestID,
		DeliveryID:            in.DeliveryID,
		Channel:               in.Channel,
		ChannelTenantID:       in.ChannelTenantID,
		ChannelConversationID: in.ChannelConversationID,
		ActorID:               in.ActorID,
		ActorBindingID:        in.ActorBindingID,
	}
}

// Validate checks the envelope schema (step 1 of the pipeline, spec.md §4.5).
// It does not check authorization or identity — only structural validity.
func (in *Inbound) Validate() error {
	if in.Channel == "" {
		return fmt.Errorf("%w: channel is required", errEmptyInput)
	}
	if in.RequestID == "" {
		return fmt.Errorf("%w: request_id is required", errEmptyInput)
	}
	if in.DeliveryID == "" {
		return fmt.Errorf("%w: delivery_id is required", errEmptyInput)
	}
	if in.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency_key is required", errEmptyInput)
	}
	if in.Fingerprint == "" {
		return fmt.Errorf("%w: fingerprint is required", errEmptyInput)
	}
	if in.ActorID == "" {
		return fmt.Errorf("%w: actor_id is required", errEmptyInput)
	}
	return nil
}

// ResponseKind classifies an outbound envelope.
type ResponseKind string

const (
	KindAck    ResponseKind = "ack"
	KindResult ResponseKind = "result"
	KindError  ResponseKind = "error"
)

// Outbound is the normalized outbound envelope (spec.md §3).
type Outbound struct {
	V                     int               `json:"v"`
	TsMs                  int64             `json:"ts_ms"`
	Channel               string            `json:"channel"`
	ChannelTenantID       string            `json:"channel_tenant_id"`
	ChannelConversationID string            `json:"channel_conversation_id"`
	RequestID             string            `json:"request_id"`
	ResponseID            string            `json:"response_id"`
	Kind                  ResponseKind      `json:"kind"`
	Body                  string            `json:"body"`
	Attachments           []Attachment      `json:"attachments,omitempty"`
	Correlation           Correlation       `json:"correlation"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}
