package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/command"
)

// ConfirmationSweeper periodically expires awaiting_confirmation commands
// whose confirmation_expires_at_ms has elapsed (spec.md §4.5). Grounded on
// the same start/stop/ticker shape the control plane uses for every other
// background loop.
type ConfirmationSweeper struct {
	commands *command.Store
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConfirmationSweeper binds a sweeper to a command store.
func NewConfirmationSweeper(commands *command.Store, interval time.Duration) *ConfirmationSweeper {
	return &ConfirmationSweeper{commands: commands, interval: interval}
}

// Start launches the background sweep loop.
func (s *ConfirmationSweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("confirmation sweeper started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *ConfirmationSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("confirmation sweeper stopped")
}

func (s *ConfirmationSweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *ConfirmationSweeper) sweep() {
	now := time.Now()
	for _, r := range s.commands.All() {
		clone := r.Clone()
		if clone.State != command.StateAwaitingConfirmation {
			continue
		}
		if clone.ConfirmExpMs == 0 || now.UnixMilli() < clone.ConfirmExpMs {
			continue
		}
		if err := s.commands.Transition(command.Entry{CommandID: clone.CommandID, ToState: command.StateExpired}, now); err != nil {
			slog.Error("confirmation sweeper failed to expire command", "command_id", clone.CommandID, "error", err)
		}
	}
}
