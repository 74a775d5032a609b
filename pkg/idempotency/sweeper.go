package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// CompactionSweeper periodically compacts a Ledger, pruning expired
// entries from memory and rewriting idempotency.jsonl to a compacted
// snapshot (SPEC_FULL.md §5.4), using the same ticker-plus-graceful-stop
// shape as pipeline.ConfirmationSweeper.
type CompactionSweeper struct {
	ledger   *Ledger
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCompactionSweeper binds a sweeper to the ledger it compacts.
func NewCompactionSweeper(ledger *Ledger, interval time.Duration) *CompactionSweeper {
	return &CompactionSweeper{ledger: ledger, interval: interval}
}

// Start launches the background compaction loop.
func (s *CompactionSweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("idempotency compaction sweeper started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *CompactionSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("idempotency compaction sweeper stopped")
}

func (s *CompactionSweeper) run(ctx context.Context) {
	defer close(s.done)

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

func (s *CompactionSweeper) sweep() {
	removed, err := s.ledger.Compact(time.Now())
	if err != nil {
		slog.Error("idempotency compaction failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("idempotency compaction removed expired entries", "removed", removed)
	}
}
