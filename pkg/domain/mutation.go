package domain

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/command"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/mucperr"
	"github.com/codeready-toolchain/mucp/pkg/reload"
)

// IssueStore is a minimal in-memory stand-in for a real issue tracker,
// existing only so "issue close"/"issue dep add" have an observable side
// effect to journal and replay (spec.md §8's confirmation-flow scenario
// runs against "issue close"). A real deployment supplies its own
// MutationHandler in place of this one.
type IssueStore struct {
	closed map[string]bool
	deps   map[string][]string
}

// NewIssueStore constructs an empty IssueStore.
func NewIssueStore() *IssueStore {
	return &IssueStore{closed: make(map[string]bool), deps: make(map[string][]string)}
}

func (s *IssueStore) close(issueID string) {
	s.closed[issueID] = true
}

func (s *IssueStore) addDep(issueID, dep string) {
	s.deps[issueID] = append(s.deps[issueID], dep)
}

// MutationHandler dispatches the built-in mutating commands, matching
// mutate.Handler's signature so it can back both the live Executor's tail
// chain and startup replay's re-execution path.
type MutationHandler struct {
	Commands     *command.Store
	Orchestrator *reload.Orchestrator
	Issues       *IssueStore
}

// Handle runs key's domain effect and appends the command's
// domain.mutating journal entry, so a crash between effect and terminal
// transition is reconciled as already-applied on the next replay rather
// than re-run.
func (h *MutationHandler) Handle(commandID, key string, args []string, in *envelope.Inbound) (any, string, error) {
	now := time.Now()
	log := slog.Default().With("component", "domain-mutation", "command_id", commandID, "command_key", key)

	var effect any
	var err error

	switch key {
	case "reload", "update":
		effect, err = h.handleReload(key)
	case "issue close":
		effect, err = h.handleIssueClose(args)
	case "issue dep add":
		effect, err = h.handleIssueDepAdd(args)
	default:
		return nil, mucperr.CodeUnmappedCommand, fmt.Errorf("unknown mutating command %q", key)
	}

	if err != nil {
		log.Error("mutation handler failed", "error", err)
		return nil, "mutation_failed", err
	}

	if h.Commands != nil {
		if appendErr := h.Commands.AppendMutating(commandID, in.Correlation(), effect, now); appendErr != nil {
			log.Error("failed to append domain.mutating entry", "error", appendErr)
		}
	}

	return effect, "", nil
}

func (h *MutationHandler) handleReload(key string) (any, error) {
	result := h.Orchestrator.Reload(key)
	if result.Outcome != generation.OutcomeCompleted && !result.Coalesced {
		return result, fmt.Errorf("%s did not complete (outcome=%s)", key, result.Outcome)
	}
	return result, nil
}

func (h *MutationHandler) handleIssueClose(args []string) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("issue close requires an issue id")
	}
	h.Issues.close(args[0])
	return map[string]string{"issue_id": args[0], "status": "closed"}, nil
}

func (h *MutationHandler) handleIssueDepAdd(args []string) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("issue dep add requires an issue id and a dependency id")
	}
	h.Issues.addDep(args[0], args[1])
	return map[string]string{"issue_id": args[0], "dependency": args[1]}, nil
}

// Replay adapts Handle to replay.ExecuteFunc's signature, re-driving a
// recovered non-terminal command from its folded Record (spec.md §4.10).
// Only invoked for commands with no domain.mutating entry already on the
// log, so Handle's own AppendMutating call here is the first and only one.
func (h *MutationHandler) Replay(record command.Record) (any, error) {
	in := &envelope.Inbound{
		RequestID:       record.Correlation.RequestID,
		Channel:         record.Correlation.Channel,
		ChannelTenantID: record.Correlation.ChannelTenantID,
		ActorID:         record.Correlation.ActorID,
	}
	result, errCode, err := h.Handle(record.CommandID, record.CommandKey, record.Args, in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCode, err)
	}
	return result, nil
}
