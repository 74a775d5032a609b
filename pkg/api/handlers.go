package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/adapter"
	"github.com/codeready-toolchain/mucp/pkg/adapter/editor"
	"github.com/codeready-toolchain/mucp/pkg/adapter/slack"
	"github.com/codeready-toolchain/mucp/pkg/adapter/telegram"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/pipeline"
	"github.com/codeready-toolchain/mucp/pkg/reload"
	"github.com/codeready-toolchain/mucp/pkg/runtime"
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// handleWebhook dispatches POST /webhooks/:channel to the adapter bound to
// that channel name on the currently active generation. Each adapter
// verifies its own request (spec.md §4.11: adapters are thin, self-
// contained translators) before anything reaches the pipeline.
func (s *Server) handleWebhook(c *gin.Context) {
	rt := s.active(c)
	if rt == nil {
		return
	}

	switch c.Param("channel") {
	case slack.Spec.Channel:
		s.handleSlackWebhook(c, rt)
	case telegram.Spec.Channel:
		s.handleTelegramWebhook(c, rt)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
	}
}

func (s *Server) handleSlackWebhook(c *gin.Context, rt *runtime.Runtime) {
	if rt.Adapters.Slack == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "slack channel not enabled"})
		return
	}

	body, err := slack.ReadBody(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	now := time.Now()
	if err := slack.VerifySignature(rt.Adapters.SlackSigningSecret, c.Request.Header, body); err != nil {
		_ = rt.AuditLog.Record(slack.Spec.Channel, "ingress.rejected", err.Error(), nil, now)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	requestID := c.GetString("request_id")
	challenge, in, err := slack.BuildInbound(requestID, body, now)
	if err != nil {
		_ = rt.AuditLog.Record(slack.Spec.Channel, "ingress.rejected", err.Error(), nil, now)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if challenge != "" {
		c.JSON(http.StatusOK, gin.H{"challenge": challenge})
		return
	}

	_ = rt.AuditLog.Record(slack.Spec.Channel, "ingress.accepted", "", nil, now)
	result := rt.Pipeline.Run(in, now)
	enqueueReply(rt, in, result, now)
	c.JSON(http.StatusOK, gin.H{"kind": result.Kind, "command_id": result.CommandID})
}

func (s *Server) handleTelegramWebhook(c *gin.Context, rt *runtime.Runtime) {
	if rt.Adapters.Telegram == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "telegram channel not enabled"})
		return
	}

	body, err := slack.ReadBody(c.Request) // same bounded-read helper; channel-agnostic.
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	now := time.Now()
	if err := telegram.VerifySecretToken(rt.Adapters.TelegramSharedSecret, c.Request.Header); err != nil {
		_ = rt.AuditLog.Record(telegram.Spec.Channel, "ingress.rejected", err.Error(), nil, now)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "secret token verification failed"})
		return
	}

	requestID := c.GetString("request_id")
	in, err := telegram.BuildInbound(requestID, body, now)
	if err != nil {
		_ = rt.Adapters.TelegramIngressLog.Record(0, false, err.Error(), now)
		_ = rt.AuditLog.Record(telegram.Spec.Channel, "ingress.rejected", err.Error(), nil, now)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if in == nil {
		// Non-message update (edited_message, callback_query, ...): ack
		// without running the pipeline.
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	updateID, _ := strconv.ParseInt(in.DeliveryID, 10, 64)
	if seen, err := telegram.Seen(rt.Adapters.TelegramIngressPath, updateID); err == nil && seen {
		c.JSON(http.StatusOK, gin.H{"ok": true, "kind": "duplicate_delivery"})
		return
	}

	_ = rt.AuditLog.Record(telegram.Spec.Channel, "ingress.accepted", "", nil, now)
	result := rt.Pipeline.Run(in, now)
	_ = rt.Adapters.TelegramIngressLog.Record(updateID, true, "", now)
	enqueueReply(rt, in, result, now)
	c.JSON(http.StatusOK, gin.H{"ok": true, "kind": result.Kind, "command_id": result.CommandID})
}

// enqueueReply translates a pipeline Result into the channel's reply and
// enqueues it into the durable outbox for async delivery (spec.md §4.11:
// adapters "enqueue any outbound messages into the outbox" rather than
// replying inline on the webhook's ack). Deferred-delivery channels like
// Slack and Telegram only ever ack the webhook itself here; the reply the
// user sees is posted later by the outbox dispatcher's Driver.
func enqueueReply(rt *runtime.Runtime, in *envelope.Inbound, result pipeline.Result, now time.Time) {
	body, kind := replyBody(result)
	if body == "" {
		return
	}

	dedupeKey := in.DeliveryID
	if dedupeKey == "" {
		dedupeKey = in.RequestID
	}
	dedupeKey += ":reply"

	correlation := in.Correlation()
	correlation.CommandID = result.CommandID

	out := envelope.Outbound{
		V:                     1,
		TsMs:                  now.UnixMilli(),
		Channel:               in.Channel,
		ChannelTenantID:       in.ChannelTenantID,
		ChannelConversationID: in.ChannelConversationID,
		RequestID:             in.RequestID,
		ResponseID:            dedupeKey,
		Kind:                  kind,
		Body:                  body,
		Correlation:           correlation,
	}

	if _, err := rt.Outbox.Enqueue(dedupeKey, in.Channel, out, rt.OutboxMaxAttempts, now); err != nil {
		slog.Default().With("component", "api").Error("failed to enqueue reply", "channel", in.Channel, "error", err)
		return
	}
	rt.OutboxDispatcher.RequestDrain(now)
}

// replyBody renders a pipeline Result into reply text and an envelope.Kind.
// A duplicate delivery (the same webhook retried) already got its reply on
// the first delivery, so it returns "" to signal "nothing to enqueue".
func replyBody(result pipeline.Result) (string, envelope.ResponseKind) {
	switch result.Kind {
	case pipeline.ResultNoop:
		return "", ""
	case pipeline.ResultDenied:
		return fmt.Sprintf("request denied: %s", result.Reason), envelope.KindError
	case pipeline.ResultDeferred:
		return "request deferred, retry shortly", envelope.KindResult
	case pipeline.ResultOperatorResponse:
		return result.Message, envelope.KindResult
	case pipeline.ResultAwaitingConfirm:
		return fmt.Sprintf("confirmation required: confirm %s", result.CommandID), envelope.KindResult
	case pipeline.ResultQueued:
		return fmt.Sprintf("command %s queued", result.CommandID), envelope.KindResult
	case pipeline.ResultCompleted:
		return fmt.Sprintf("command %s completed", result.CommandID), envelope.KindResult
	default:
		return "", ""
	}
}

// handleEditorWebSocket upgrades the connection and hands it off to the
// active generation's editor.Hub, which owns the connection's full
// lifecycle until it closes. The handler blocks for the connection's
// lifetime, the normal shape for a WebSocket handler.
func (s *Server) handleEditorWebSocket(c *gin.Context) {
	rt := s.active(c)
	if rt == nil {
		return
	}
	if rt.Adapters.Editor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "editor channel not enabled"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	rt.Adapters.Editor.HandleConnection(context.Background(), conn)
}

// handleListChannels reports each enabled adapter's static contract plus
// its current kill-switch and last-ingress state (spec.md §6.1).
func (s *Server) handleListChannels(c *gin.Context) {
	rt := s.active(c)
	if rt == nil {
		return
	}

	lastIngress, err := adapter.LastIngressAt(rt.Layout.AdapterAudit)
	if err != nil {
		lastIngress = nil
	}

	channels := make([]gin.H, 0, 3)
	if rt.Adapters.Slack != nil {
		channels = append(channels, s.channelStatus(slack.Spec, lastIngress))
	}
	if rt.Adapters.Telegram != nil {
		channels = append(channels, s.channelStatus(telegram.Spec, lastIngress))
	}
	if rt.Adapters.Editor != nil {
		channels = append(channels, s.channelStatus(editor.Spec, lastIngress))
	}

	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

func (s *Server) channelStatus(spec adapter.Spec, lastIngress map[string]int64) gin.H {
	return gin.H{
		"channel":            spec.Channel,
		"route":              spec.Route,
		"ingress_payload":    spec.IngressPayload,
		"verification":       spec.Verification,
		"ack_format":         spec.AckFormat,
		"deferred_delivery":  spec.DeferredDelivery,
		"mutations_enabled":  s.runtimeMutationsEnabled(spec.Channel),
		"last_ingress_at_ms": lastIngress[spec.Channel],
	}
}

func (s *Server) runtimeMutationsEnabled(channel string) bool {
	rt := s.runtimes.Load()
	if rt == nil || rt.Policy == nil {
		return false
	}
	return rt.Policy.ChannelEnabled(channel)
}

// handleReload triggers a reload. Concurrent HTTP callers are funneled
// through generation.Supervisor.CoalesceReload so that two POSTs landing in
// the same instant share a single orchestrator.Reload execution rather than
// racing each other's counter updates (spec.md §4.8's "second beginReload
// overlapping in time" invariant, enforced here at the transport boundary
// in addition to Supervisor.BeginReload's own pending-attempt guard).
func (s *Server) handleReload(c *gin.Context) {
	reason := c.Query("reason")
	if reason == "" {
		reason = "api_request_" + uuid.New().String()
	}
	v, _, shared := s.supervisor.CoalesceReload("reload", func() (any, error) {
		return s.orchestrator.Reload(reason), nil
	})
	result := v.(reload.Result)
	c.JSON(http.StatusOK, gin.H{
		"to_generation":     result.ToGeneration,
		"active_generation": result.ActiveGeneration,
		"outcome":           result.Outcome,
		"coalesced":         result.Coalesced || shared,
	})
}

func (s *Server) handleRollback(c *gin.Context) {
	// Rollback is never user-invoked (spec.md §4.9): it happens
	// automatically when a reload's drain step fails. This endpoint
	// reports the last reload's terminal outcome so an operator can
	// confirm whether an automatic rollback occurred.
	snap := s.supervisor.Snapshot()
	if snap.LastReload == nil {
		c.JSON(http.StatusOK, gin.H{"rolled_back": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rolled_back": snap.LastReload.Outcome == "failed",
		"attempt_id":  snap.LastReload.AttemptID,
		"outcome":     snap.LastReload.Outcome,
	})
}
