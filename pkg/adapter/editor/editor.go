// Package editor adapts an editor-integration WebSocket channel (e.g. an
// IDE plugin) to the control plane's normalized envelope. Connection
// bookkeeping mirrors the control plane's WebSocket event broadcaster: one
// goroutine per connection owns that connection's read loop and state, so
// per-connection fields need no lock of their own.
package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/mucp/pkg/adapter"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/outbox"
	"github.com/google/uuid"
)

// Spec is this adapter's static contract description.
var Spec = adapter.Spec{
	Channel:          "editor",
	Route:            "/ws/editor",
	IngressPayload:   "application/json",
	Verification:     adapter.VerificationSharedSecret,
	AckFormat:        "json-frame",
	DeferredDelivery: true,
}

const writeTimeout = 5 * time.Second

// ClientMessage is one inbound WebSocket frame from an editor session.
type ClientMessage struct {
	Action          string `json:"action"` // "auth" | "command"
	SessionID       string `json:"session_id"`
	SharedSecret    string `json:"shared_secret,omitempty"`
	ActorID         string `json:"actor_id,omitempty"`
	CommandText     string `json:"command_text,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

// connection is one editor WebSocket client. authed, sessionID and actorID
// are only ever written from the goroutine running Hub.HandleConnection,
// so they need no lock.
type connection struct {
	id          string
	conn        *websocket.Conn
	sessionID   string
	actorID     string
	authed      bool
	ctx         context.Context
	cancel      context.CancelFunc
}

// Hub manages editor WebSocket connections and dispatches outbound
// responses to the connection bound to a given session.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	bySession   map[string]string // session_id -> connection_id
	sharedSecret string
	runner      adapter.PipelineRunner
	logger      *slog.Logger
}

// NewHub constructs a Hub bound to a pipeline runner and the shared secret
// editor clients must present on their auth frame.
func NewHub(runner adapter.PipelineRunner, sharedSecret string) *Hub {
	return &Hub{
		connections:  make(map[string]*connection),
		bySession:    make(map[string]string),
		sharedSecret: sharedSecret,
		runner:       runner,
		logger:       slog.Default().With("component", "adapter-editor"),
	}
}

// HandleConnection owns one editor WebSocket's lifecycle. Blocks until the
// connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:     uuid.New().String(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.register(c)
	defer h.unregister(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("invalid editor frame", "connection_id", c.id, "error", err)
			continue
		}

		h.handleMessage(ctx, c, &msg)
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c.id)
	if c.sessionID != "" && h.bySession[c.sessionID] == c.id {
		delete(h.bySession, c.sessionID)
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "auth":
		if msg.SharedSecret != h.sharedSecret || msg.SessionID == "" {
			h.sendJSON(c, map[string]string{"type": "auth.rejected"})
			return
		}
		c.authed = true
		c.sessionID = msg.SessionID
		c.actorID = msg.ActorID
		h.mu.Lock()
		h.bySession[msg.SessionID] = c.id
		h.mu.Unlock()
		h.sendJSON(c, map[string]string{"type": "auth.confirmed"})

	case "command":
		if !c.authed {
			h.sendJSON(c, map[string]string{"type": "error", "message": "not authenticated"})
			return
		}
		in := h.buildInbound(c, msg)
		result := h.runner.Run(in, time.Now())
		h.sendResult(c, result)

	default:
		h.sendJSON(c, map[string]string{"type": "error", "message": "unknown action"})
	}
}

func (h *Hub) buildInbound(c *connection, msg *ClientMessage) *envelope.Inbound {
	reqID := uuid.New().String()
	key := msg.IdempotencyKey
	if key == "" {
		key = reqID
	}
	return &envelope.Inbound{
		V:                     1,
		ReceivedAtMs:          time.Now().UnixMilli(),
		RequestID:             reqID,
		DeliveryID:            reqID,
		Channel:               Spec.Channel,
		ChannelTenantID:       "editor",
		ChannelConversationID: c.sessionID,
		ActorID:               c.actorID,
		CommandText:           msg.CommandText,
		IdempotencyKey:        key,
		Fingerprint:           "editor:" + c.sessionID + ":" + msg.CommandText,
	}
}

func (h *Hub) sendResult(c *connection, result adapter.PipelineResult) {
	h.sendJSON(c, map[string]any{
		"type":       "command.result",
		"kind":       result.Kind,
		"reason":     result.Reason,
		"message":    result.Message,
		"command_id": result.CommandID,
		"result":     result.Result,
	})
}

func (h *Hub) sendJSON(c *connection, payload any) {
	if c.conn == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal editor frame", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Warn("failed to write editor frame", "connection_id", c.id, "error", err)
	}
}

// Deliver sends out to whichever connection is currently bound to
// out.ChannelConversationID (the editor session ID). Implements
// outbox.Driver. A session that has disconnected is a retryable condition,
// not a dead letter: the operator may reconnect before MaxAttempts is hit.
func (h *Hub) Deliver(channel string, out envelope.Outbound) outbox.DeliverResult {
	if channel != Spec.Channel {
		return outbox.DeliverResult{Kind: outbox.UnsupportedChannel}
	}

	h.mu.RLock()
	connID, ok := h.bySession[out.ChannelConversationID]
	var c *connection
	if ok {
		c = h.connections[connID]
	}
	h.mu.RUnlock()

	if c == nil {
		return outbox.DeliverResult{
			Kind: outbox.Retry,
			Err:  fmt.Errorf("no connected editor session %s", out.ChannelConversationID),
		}
	}

	h.sendJSON(c, map[string]any{
		"type":  "response",
		"kind":  out.Kind,
		"body":  out.Body,
		"ts_ms": out.TsMs,
	})
	return outbox.DeliverResult{Kind: outbox.Delivered}
}
