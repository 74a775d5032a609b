// Package telegram adapts the Telegram Bot API's webhook format to the
// control plane's normalized envelope. No Telegram SDK appears anywhere in
// the reference corpus, so this adapter talks to the Bot API directly over
// net/http, following the same thin-wrapper-plus-context-timeout shape the
// Slack client uses.
package telegram

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/adapter"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/journal"
	"github.com/codeready-toolchain/mucp/pkg/outbox"
)

// Spec is this adapter's static contract description.
var Spec = adapter.Spec{
	Channel:          "telegram",
	Route:            "/webhooks/telegram",
	IngressPayload:   "application/json",
	Verification:     adapter.VerificationSharedSecret,
	AckFormat:        "telegram-webhook-200",
	DeferredDelivery: true,
}

const apiBaseURL = "https://api.telegram.org"

// update is the subset of Telegram's Update object this adapter consumes.
type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// VerifySecretToken checks Telegram's `X-Telegram-Bot-Api-Secret-Token`
// header against the token configured on the webhook (Telegram's
// recommended webhook authentication scheme; it has no HMAC body signing).
func VerifySecretToken(expected string, header http.Header) error {
	got := header.Get("X-Telegram-Bot-Api-Secret-Token")
	if got == "" || got != expected {
		return fmt.Errorf("missing or invalid secret token")
	}
	return nil
}

// BuildInbound translates a verified Telegram update body into a
// normalized Inbound envelope. Returns (nil, nil) for updates this
// adapter does not act on (non-message updates, e.g. edited_message,
// callback_query).
func BuildInbound(requestID string, body []byte, now time.Time) (*envelope.Inbound, error) {
	var u update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode telegram update: %w", err)
	}
	if u.Message == nil {
		return nil, nil
	}

	deliveryID := strconv.FormatInt(u.UpdateID, 10)

	return &envelope.Inbound{
		V:                     1,
		ReceivedAtMs:          now.UnixMilli(),
		RequestID:             requestID,
		DeliveryID:            deliveryID,
		Channel:               Spec.Channel,
		ChannelTenantID:       strconv.FormatInt(u.Message.Chat.ID, 10),
		ChannelConversationID: strconv.FormatInt(u.Message.Chat.ID, 10),
		ActorID:               strconv.FormatInt(u.Message.From.ID, 10),
		CommandText:           u.Message.Text,
		IdempotencyKey:        deliveryID,
		Fingerprint:           fingerprint(body),
	}, nil
}

func fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])[:32]
}

// ingressEntry is one telegram_ingress.jsonl line, kept apart from the
// pipeline's own idempotency ledger. The webhook handler records each
// update it runs through the pipeline (accepted) and each body it cannot
// decode (rejected, with update_id 0); updates without a message field are
// acked without a record. Seen uses the accepted entries as a cheap
// duplicate check for webhook retries sharing an update_id.
type ingressEntry struct {
	UpdateID int64  `json:"update_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	TsMs     int64  `json:"ts_ms"`
}

// IngressLog appends ingress outcomes to telegram_ingress.jsonl, the
// inbound dedupe/DLQ log for Telegram updates.
type IngressLog struct {
	writer *journal.Writer
}

// OpenIngressLog binds an IngressLog to its journal file.
func OpenIngressLog(path string) *IngressLog {
	return &IngressLog{writer: journal.NewWriter(path)}
}

// Seen folds path's ingress journal and reports whether updateID was
// already recorded as accepted, so a retried webhook delivery can be
// acked without re-running BuildInbound.
func Seen(path string, updateID int64) (bool, error) {
	entries, err := journal.ReadAll[ingressEntry](path)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.UpdateID == updateID && e.Accepted {
			return true, nil
		}
	}
	return false, nil
}

// Record appends one ingress outcome.
func (l *IngressLog) Record(updateID int64, accepted bool, reason string, now time.Time) error {
	return l.writer.Append(ingressEntry{
		UpdateID: updateID,
		Accepted: accepted,
		Reason:   reason,
		TsMs:     now.UnixMilli(),
	})
}

// Driver delivers Outbound envelopes to Telegram via the Bot API's
// sendMessage method, implementing outbox.Driver.
type Driver struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// NewDriver constructs a Driver bound to a bot token.
func NewDriver(token string) *Driver {
	return &Driver{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    apiBaseURL,
		token:      token,
		logger:     slog.Default().With("component", "adapter-telegram-driver"),
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Deliver posts out to the chat ID carried in out.ChannelConversationID.
func (d *Driver) Deliver(channel string, out envelope.Outbound) outbox.DeliverResult {
	if channel != Spec.Channel {
		return outbox.DeliverResult{Kind: outbox.UnsupportedChannel}
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: out.ChannelConversationID, Text: out.Body})
	if err != nil {
		return outbox.DeliverResult{Kind: outbox.Retry, Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/bot%s/sendMessage", d.baseURL, d.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return outbox.DeliverResult{Kind: outbox.Retry, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Error("telegram delivery failed", "response_id", out.ResponseID, "error", err)
		return outbox.DeliverResult{Kind: outbox.Retry, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return outbox.DeliverResult{Kind: outbox.Retry, Err: fmt.Errorf("telegram rate limited"), RetryDelayMs: 1000}
	}
	if resp.StatusCode >= 300 {
		return outbox.DeliverResult{Kind: outbox.Retry, Err: fmt.Errorf("telegram sendMessage status %d", resp.StatusCode)}
	}
	return outbox.DeliverResult{Kind: outbox.Delivered}
}
