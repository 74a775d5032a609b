// Package domain wires the control plane's built-in command policy
// (pkg/config.GetBuiltinPolicy) to concrete readonly and mutating
// handlers. Business mutation semantics are a non-goal of the core (spec.md
// §1): the issue-tracking commands here are the worked example spec.md §8
// carries through its literal scenarios, not a real issue tracker.
package domain

import (
	"fmt"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/outbox"
	"github.com/codeready-toolchain/mucp/pkg/reload"
)

// StatusSnapshot is the payload "status" returns, assembled from several
// subsystems' live state the way the teacher's healthHandler assembles a
// response from whichever services were wired (pkg/api/server.go).
type StatusSnapshot struct {
	Generation     generation.Snapshot `json:"generation"`
	ReloadCounters reload.Counters     `json:"reload_counters"`
	OutboxPending  int                 `json:"outbox_pending"`
}

// StatusExecutor implements pipeline.ReadonlyExecutor for the built-in
// "status" command.
type StatusExecutor struct {
	Supervisor   *generation.Supervisor
	Orchestrator *reload.Orchestrator
	Outbox       *outbox.Store
}

// Execute runs key against this executor's known readonly commands.
func (s *StatusExecutor) Execute(key string, args []string, in *envelope.Inbound) (any, error) {
	switch key {
	case "status":
		return s.status(), nil
	default:
		return nil, fmt.Errorf("unknown readonly command %q", key)
	}
}

func (s *StatusExecutor) status() StatusSnapshot {
	snap := StatusSnapshot{
		Generation:     s.Supervisor.Snapshot(),
		ReloadCounters: s.Orchestrator.CountersSnapshot(),
	}
	if s.Outbox != nil {
		snap.OutboxPending = len(s.Outbox.Pending(time.Now()))
	}
	return snap
}
