// Package slack adapts Slack's Events API to the control plane's
// normalized envelope (spec.md §4.11), grounded on the control plane's
// existing slack-go client wrapper for outbound delivery.
package slack

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/adapter"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/outbox"
	goslack "github.com/slack-go/slack"
)

// MaxClockSkew bounds how old a signed request's timestamp may be before
// it is rejected as a replay (Slack's own recommendation).
const MaxClockSkew = 5 * time.Minute

// Spec is this adapter's static contract description.
var Spec = adapter.Spec{
	Channel:          "slack",
	Route:            "/webhooks/slack",
	IngressPayload:   "application/json",
	Verification:     adapter.VerificationHMAC,
	AckFormat:        "slack-events-api-200",
	DeferredDelivery: true,
}

// VerifySignature validates Slack's `X-Slack-Signature` HMAC-SHA256 header
// against the raw request body and signing secret.
func VerifySignature(signingSecret string, header http.Header, body []byte) error {
	ts := header.Get("X-Slack-Request-Timestamp")
	sig := header.Get("X-Slack-Signature")
	if ts == "" || sig == "" {
		return fmt.Errorf("missing Slack signature headers")
	}

	tsSec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp header: %w", err)
	}
	if skew := time.Since(time.Unix(tsSec, 0)); skew > MaxClockSkew || skew < -MaxClockSkew {
		return fmt.Errorf("request timestamp outside allowed clock skew")
	}

	base := "v0:" + ts + ":" + string(body)
	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte(base))
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// eventPayload is the subset of Slack's Events API envelope this adapter
// understands: message events and the URL verification handshake.
type eventPayload struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	EventID   string `json:"event_id"`
	Event     struct {
		Type      string `json:"type"`
		User      string `json:"user"`
		Text      string `json:"text"`
		Channel   string `json:"channel"`
		Ts        string `json:"ts"`
		ThreadTS  string `json:"thread_ts"`
	} `json:"event"`
}

// BuildInbound translates a verified Slack event body into a normalized
// Inbound envelope. Returns (challenge, nil, nil) for the URL verification
// handshake, which callers should echo back as {challenge} rather than
// running through the pipeline.
func BuildInbound(requestID string, body []byte, now time.Time) (challenge string, in *envelope.Inbound, err error) {
	var payload eventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", nil, fmt.Errorf("decode slack event payload: %w", err)
	}

	if payload.Type == "url_verification" {
		return payload.Challenge, nil, nil
	}

	fingerprint := hashFingerprint(body)

	return "", &envelope.Inbound{
		V:                     1,
		ReceivedAtMs:          now.UnixMilli(),
		RequestID:             requestID,
		DeliveryID:            payload.EventID,
		Channel:               Spec.Channel,
		ChannelTenantID:       payload.TeamID,
		ChannelConversationID: payload.Event.Channel,
		ActorID:               payload.Event.User,
		CommandText:           strings.TrimSpace(payload.Event.Text),
		IdempotencyKey:        payload.EventID,
		Fingerprint:           fingerprint,
	}, nil
}

func hashFingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:32]
}

// Driver delivers Outbound envelopes to Slack, implementing outbox.Driver
// for channel == "slack".
type Driver struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewDriver constructs a Driver bound to a bot token and default channel.
func NewDriver(token, channelID string) *Driver {
	return &Driver{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "adapter-slack-driver"),
	}
}

// Deliver posts out to the channel embedded in out.ChannelConversationID,
// falling back to the driver's default channel if empty. Implements
// outbox.Driver.
func (d *Driver) Deliver(channel string, out envelope.Outbound) outbox.DeliverResult {
	if channel != Spec.Channel {
		return outbox.DeliverResult{Kind: outbox.UnsupportedChannel}
	}

	target := out.ChannelConversationID
	if target == "" {
		target = d.channelID
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _, err := d.api.PostMessageContext(ctx, target, goslack.MsgOptionText(out.Body, false))
	if err != nil {
		d.logger.Error("slack delivery failed", "response_id", out.ResponseID, "error", err)
		return outbox.DeliverResult{Kind: outbox.Retry, Err: err}
	}
	return outbox.DeliverResult{Kind: outbox.Delivered}
}

// ReadBody drains and returns an HTTP request body, bounding it to 1MiB to
// avoid an adapter being used as a memory-exhaustion vector.
func ReadBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}
