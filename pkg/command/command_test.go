package command

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "commands.jsonl"))
	require.NoError(t, err)
	return s
}

func TestCanTransition_LegalEdges(t *testing.T) {
	assert.True(t, CanTransition(StateAccepted, StateQueued))
	assert.True(t, CanTransition(StateAwaitingConfirmation, StateQueued))
	assert.True(t, CanTransition(StateQueued, StateInProgress))
	assert.True(t, CanTransition(StateInProgress, StateCompleted))
	assert.True(t, CanTransition(StateDeferred, StateQueued))
}

func TestCanTransition_IllegalEdges(t *testing.T) {
	assert.False(t, CanTransition(StateCompleted, StateQueued))
	assert.False(t, CanTransition(StateAccepted, StateInProgress))
	assert.False(t, CanTransition(StateExpired, StateQueued))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StateCompleted))
	assert.True(t, IsTerminal(StateFailed))
	assert.True(t, IsTerminal(StateCancelled))
	assert.True(t, IsTerminal(StateExpired))
	assert.False(t, IsTerminal(StateQueued))
}

func TestStore_TransitionThenGet(t *testing.T) {
	s := openStore(t)
	id := NewID()
	now := time.Now()

	err := s.Transition(Entry{CommandID: id, ToState: StateAccepted, Correlation: envelope.Correlation{ActorID: "U1"}}, now)
	require.NoError(t, err)

	r := s.Get(id)
	require.NotNil(t, r)
	assert.Equal(t, StateAccepted, r.Clone().State)
}

func TestStore_RejectsIllegalTransition(t *testing.T) {
	s := openStore(t)
	id := NewID()
	now := time.Now()

	require.NoError(t, s.Transition(Entry{CommandID: id, ToState: StateCompleted}, now))
	err := s.Transition(Entry{CommandID: id, ToState: StateQueued}, now.Add(time.Second))
	assert.Error(t, err)
}

func TestStore_AppendMutatingMarksHasMutatingEntry(t *testing.T) {
	s := openStore(t)
	id := NewID()
	now := time.Now()

	require.NoError(t, s.Transition(Entry{CommandID: id, ToState: StateAccepted}, now))
	assert.False(t, s.Get(id).HasMutatingEntry())

	require.NoError(t, s.AppendMutating(id, envelope.Correlation{}, map[string]any{"did": "thing"}, now))
	assert.True(t, s.Get(id).HasMutatingEntry())
}

func TestOpen_ReplaysLifecycleAndMutatingEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	s1, err := Open(path)
	require.NoError(t, err)

	id := NewID()
	now := time.Now()
	require.NoError(t, s1.Transition(Entry{CommandID: id, ToState: StateAccepted}, now))
	require.NoError(t, s1.Transition(Entry{CommandID: id, ToState: StateQueued}, now))
	require.NoError(t, s1.Transition(Entry{CommandID: id, ToState: StateInProgress}, now))
	require.NoError(t, s1.AppendMutating(id, envelope.Correlation{}, nil, now))
	require.NoError(t, s1.Transition(Entry{CommandID: id, ToState: StateCompleted}, now))

	s2, err := Open(path)
	require.NoError(t, err)
	r := s2.Get(id)
	require.NotNil(t, r)
	clone := r.Clone()
	assert.Equal(t, StateCompleted, clone.State)
	assert.True(t, r.HasMutatingEntry())
}

func TestStore_All(t *testing.T) {
	s := openStore(t)
	now := time.Now()
	require.NoError(t, s.Transition(Entry{CommandID: NewID(), ToState: StateAccepted}, now))
	require.NoError(t, s.Transition(Entry{CommandID: NewID(), ToState: StateAccepted}, now))
	assert.Len(t, s.All(), 2)
}

func TestNextID_MonotonicWithPrefix(t *testing.T) {
	s := openStore(t)
	s.WithPrefix("acme-repo")
	assert.Equal(t, "acme-repo-cmd-1", s.NextID())
	assert.Equal(t, "acme-repo-cmd-2", s.NextID())
}

func TestNextID_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	s1, err := Open(path)
	require.NoError(t, err)
	s1.WithPrefix("acme-repo")
	now := time.Now()
	for i := 0; i < 3; i++ {
		id := s1.NextID()
		require.NoError(t, s1.Transition(Entry{CommandID: id, ToState: StateAccepted}, now))
	}

	s2, err := Open(path)
	require.NoError(t, err)
	s2.WithPrefix("acme-repo")
	assert.Equal(t, "acme-repo-cmd-4", s2.NextID(), "sequence must resume past every id already in the journal")
}
