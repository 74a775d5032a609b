// Package replay implements startup replay (spec.md §4.10): fold the
// command journal, find every non-terminal command, and reconcile it —
// skipping execute() entirely when a domain.mutating entry already proves
// the side effect happened, so a crash-and-restart never double-executes a
// mutation.
package replay

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/command"
)

// ExecuteFunc re-drives a recovered command to completion. It is only
// invoked for commands with no domain.mutating entry already on the log.
type ExecuteFunc func(record command.Record) (any, error)

// Stats summarizes one replay pass, for startup logging.
type Stats struct {
	TotalCommands   int
	Reconciled      int // had a domain.mutating entry; execute() skipped
	Reexecuted      int // non-terminal, no mutating entry; execute() called
	Expired         int // awaiting_confirmation past its deadline
	ReexecuteFailed int
}

// Run replays store's journal (already folded by command.Open) and
// reconciles every non-terminal command. now is used to detect expired
// awaiting_confirmation deadlines.
func Run(store *command.Store, execute ExecuteFunc, now time.Time) Stats {
	log := slog.Default().With("component", "replay")
	var stats Stats

	for _, r := range store.All() {
		stats.TotalCommands++
		clone := r.Clone()

		if command.IsTerminal(clone.State) {
			continue
		}

		if clone.State == command.StateAwaitingConfirmation && clone.ConfirmExpMs > 0 && now.UnixMilli() >= clone.ConfirmExpMs {
			if err := store.Transition(command.Entry{CommandID: clone.CommandID, ToState: command.StateExpired}, now); err != nil {
				log.Error("replay: failed to expire stale confirmation", "command_id", clone.CommandID, "error", err)
			}
			stats.Expired++
			continue
		}

		if r.HasMutatingEntry() {
			if err := advanceToInProgress(store, clone.CommandID, clone.State, now); err != nil {
				log.Error("replay: failed to advance reconciled command to in_progress", "command_id", clone.CommandID, "error", err)
				continue
			}
			result := map[string]any{"reconciled": true, "reason": "mutating_event_present"}
			if err := store.Transition(command.Entry{CommandID: clone.CommandID, ToState: command.StateCompleted, Result: result}, now); err != nil {
				log.Error("replay: failed to mark reconciled command completed", "command_id", clone.CommandID, "error", err)
			}
			stats.Reconciled++
			continue
		}

		// awaiting_confirmation with an unexpired deadline is not a
		// recovery candidate: it stays put until an explicit confirm or
		// cancel arrives, or a later sweep expires it.
		if clone.State == command.StateAwaitingConfirmation {
			continue
		}

		if err := advanceToInProgress(store, clone.CommandID, clone.State, now); err != nil {
			log.Error("replay: failed to advance command to in_progress", "command_id", clone.CommandID, "error", err)
			stats.ReexecuteFailed++
			continue
		}

		result, err := execute(clone)
		stats.Reexecuted++
		if err != nil {
			log.Error("replay: re-execution failed", "command_id", clone.CommandID, "error", err)
			if tErr := store.Transition(command.Entry{CommandID: clone.CommandID, ToState: command.StateFailed, ErrorCode: "replay_execution_failed"}, now); tErr != nil {
				log.Error("replay: failed to mark command failed", "command_id", clone.CommandID, "error", tErr)
			}
			stats.ReexecuteFailed++
			continue
		}
		if err := store.Transition(command.Entry{CommandID: clone.CommandID, ToState: command.StateCompleted, Result: result}, now); err != nil {
			log.Error("replay: failed to mark command completed", "command_id", clone.CommandID, "error", err)
		}
	}

	log.Info("replay complete",
		"total", stats.TotalCommands,
		"reconciled", stats.Reconciled,
		"reexecuted", stats.Reexecuted,
		"expired", stats.Expired,
		"reexecute_failed", stats.ReexecuteFailed)

	return stats
}

// advanceToInProgress walks a recovered command from whatever non-terminal
// state it was left in up to in_progress, the only state completed/failed
// are reachable from (spec.md §3's state DAG). A crash can leave a command
// at accepted (before its queued entry landed), queued, deferred, or
// already in_progress; each case replays the missing hops rather than
// jumping the edge directly.
func advanceToInProgress(store *command.Store, commandID string, state command.State, now time.Time) error {
	switch state {
	case command.StateInProgress:
		return nil
	case command.StateAccepted:
		if err := store.Transition(command.Entry{CommandID: commandID, ToState: command.StateQueued}, now); err != nil {
			return err
		}
		return store.Transition(command.Entry{CommandID: commandID, ToState: command.StateInProgress}, now)
	case command.StateQueued, command.StateDeferred:
		if state == command.StateDeferred {
			if err := store.Transition(command.Entry{CommandID: commandID, ToState: command.StateQueued}, now); err != nil {
				return err
			}
		}
		return store.Transition(command.Entry{CommandID: commandID, ToState: command.StateInProgress}, now)
	default:
		return fmt.Errorf("cannot recover command from state %s", state)
	}
}
