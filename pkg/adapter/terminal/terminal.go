// Package terminal adapts a local interactive session (CLI REPL) to the
// control plane's normalized envelope. Unlike the networked adapters,
// terminal sessions are always bound to the reserved TERMINAL_BINDING
// identity (spec.md §4.3) and carry no external verification.
package terminal

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/adapter"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/identity"
	"github.com/google/uuid"
)

// Spec is this adapter's static contract description.
var Spec = adapter.Spec{
	Channel:          "terminal",
	Route:            "",
	IngressPayload:   "line",
	Verification:     adapter.VerificationNone,
	AckFormat:        "plain-text",
	DeferredDelivery: false,
}

const tenantID = "local"

// BuildInbound wraps one line of terminal input as a normalized Inbound
// envelope. Each line gets a fresh request/delivery ID, and the idempotency
// key and fingerprint are derived from it: terminal sessions have no
// redelivery, so every line, including a repeat of an earlier one, is
// claimed as a new command.
func BuildInbound(line string, now time.Time) *envelope.Inbound {
	reqID := uuid.New().String()
	return &envelope.Inbound{
		V:                     1,
		ReceivedAtMs:          now.UnixMilli(),
		RequestID:             reqID,
		DeliveryID:            reqID,
		Channel:               Spec.Channel,
		ChannelTenantID:       tenantID,
		ChannelConversationID: "local",
		ActorID:               identity.TerminalBindingID,
		ActorBindingID:        identity.TerminalBindingID,
		CommandText:           strings.TrimSpace(line),
		IdempotencyKey:        reqID,
		Fingerprint:           fingerprint(line, reqID),
	}
}

func fingerprint(line, reqID string) string {
	return "terminal:" + reqID + ":" + line
}

// Session runs a blocking read-eval-print loop over an input reader,
// writing one formatted result per command line to out, until the input
// reaches EOF.
type Session struct {
	runner adapter.PipelineRunner
	out    io.Writer
	logger *slog.Logger
}

// NewSession binds a Session to a pipeline runner and output writer.
func NewSession(runner adapter.PipelineRunner, out io.Writer) *Session {
	return &Session{
		runner: runner,
		out:    out,
		logger: slog.Default().With("component", "adapter-terminal"),
	}
}

// Run reads lines from in until EOF, running each non-blank line through
// the pipeline and writing a formatted acknowledgment to out.
func (s *Session) Run(in io.Reader, now func() time.Time) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		inbound := BuildInbound(line, now())
		result := s.runner.Run(inbound, now())
		s.writeAck(result)
	}
	return scanner.Err()
}

func (s *Session) writeAck(result adapter.PipelineResult) {
	switch result.Kind {
	case "denied":
		fmt.Fprintf(s.out, "denied: %s\n", result.Reason)
	case "operator_response":
		fmt.Fprintf(s.out, "%s\n", result.Message)
	case "awaiting_confirmation":
		fmt.Fprintf(s.out, "awaiting confirmation (command_id=%s): reply \"confirm %s\" or \"cancel %s\"\n",
			result.CommandID, result.CommandID, result.CommandID)
	case "noop":
		if result.Reason != "" {
			fmt.Fprintf(s.out, "(no-op: %s)\n", result.Reason)
		}
	default:
		fmt.Fprintf(s.out, "%s (command_id=%s)\n", result.Kind, result.CommandID)
	}
}
