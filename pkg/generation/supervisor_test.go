package generation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBeginReload_SecondCallWhilePendingCoalesces(t *testing.T) {
	s := NewSupervisor()
	first := s.BeginReload("manual")
	assert.False(t, first.Coalesced)

	second := s.BeginReload("manual-again")
	assert.True(t, second.Coalesced)
	assert.Equal(t, first.Attempt.AttemptID, second.Attempt.AttemptID)
}

func TestReloadLifecycle_CutoverThenFinishPromotesGeneration(t *testing.T) {
	s := NewSupervisor()
	begin := s.BeginReload("manual")
	assert.Equal(t, int64(0), s.ActiveGeneration())

	s.MarkSwapInstalled(begin.Attempt.AttemptID)
	assert.Equal(t, int64(1), s.ActiveGeneration())

	s.FinishReload(begin.Attempt.AttemptID, OutcomeCompleted)
	snap := s.Snapshot()
	assert.Nil(t, snap.Pending)
	assert.Equal(t, int64(1), snap.GenerationSeq)
	assert.Equal(t, OutcomeCompleted, snap.LastReload.Outcome)

	// A new reload can now begin.
	next := s.BeginReload("second")
	assert.False(t, next.Coalesced)
}

func TestRollbackSwapInstalled_RestoresFromGeneration(t *testing.T) {
	s := NewSupervisor()
	begin := s.BeginReload("manual")
	s.MarkSwapInstalled(begin.Attempt.AttemptID)
	assert.Equal(t, int64(1), s.ActiveGeneration())

	s.RollbackSwapInstalled(begin.Attempt.AttemptID)
	assert.Equal(t, int64(0), s.ActiveGeneration())

	s.FinishReload(begin.Attempt.AttemptID, OutcomeFailed)
	snap := s.Snapshot()
	assert.Equal(t, int64(0), snap.GenerationSeq)
	assert.Equal(t, OutcomeFailed, snap.LastReload.Outcome)
}

func TestCoalesceReload_ConcurrentCallsShareOneExecution(t *testing.T) {
	s := NewSupervisor()
	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, shared := s.CoalesceReload("reload", func() (any, error) {
			close(entered)
			<-release
			return "ok", nil
		})
		assert.False(t, shared)
	}()

	<-entered

	var secondShared bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, shared := s.CoalesceReload("reload", func() (any, error) {
			return "ok", nil
		})
		secondShared = shared
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.True(t, secondShared)
}
