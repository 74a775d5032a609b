package replay

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/command"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReconcilesCommandWithMutatingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	now := time.Now()

	store, err := command.Open(path)
	require.NoError(t, err)
	id := command.NewID()
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateQueued}, now))
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateInProgress}, now))
	require.NoError(t, store.AppendMutating(id, envelope.Correlation{}, map[string]any{"did": "it"}, now))
	// Crash before the terminal lifecycle entry was appended.

	reopened, err := command.Open(path)
	require.NoError(t, err)

	called := false
	stats := Run(reopened, func(r command.Record) (any, error) {
		called = true
		return nil, nil
	}, now)

	assert.False(t, called, "execute must not run when a mutating entry already proves the side effect happened")
	assert.Equal(t, 1, stats.Reconciled)
	clone := reopened.Get(id).Clone()
	assert.Equal(t, command.StateCompleted, clone.State)
}

func TestRun_ReexecutesNonTerminalWithoutMutatingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	now := time.Now()

	store, err := command.Open(path)
	require.NoError(t, err)
	id := command.NewID()
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateQueued}, now))

	called := false
	stats := Run(store, func(r command.Record) (any, error) {
		called = true
		return map[string]any{"ok": true}, nil
	}, now)

	assert.True(t, called)
	assert.Equal(t, 1, stats.Reexecuted)
	clone := store.Get(id).Clone()
	assert.Equal(t, command.StateCompleted, clone.State)
}

func TestRun_ExpiresStaleAwaitingConfirmation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	now := time.Now()

	store, err := command.Open(path)
	require.NoError(t, err)
	id := command.NewID()
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAwaitingConfirmation, ConfirmExpMs: now.Add(-time.Minute).UnixMilli()}, now))

	stats := Run(store, func(r command.Record) (any, error) { return nil, nil }, now)

	assert.Equal(t, 1, stats.Expired)
	clone := store.Get(id).Clone()
	assert.Equal(t, command.StateExpired, clone.State)
}

func TestRun_LeavesUnexpiredAwaitingConfirmationAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	now := time.Now()

	store, err := command.Open(path)
	require.NoError(t, err)
	id := command.NewID()
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAwaitingConfirmation, ConfirmExpMs: now.Add(time.Hour).UnixMilli()}, now))

	called := false
	stats := Run(store, func(r command.Record) (any, error) { called = true; return nil, nil }, now)

	assert.False(t, called)
	assert.Equal(t, 0, stats.Expired)
	clone := store.Get(id).Clone()
	assert.Equal(t, command.StateAwaitingConfirmation, clone.State)
}

func TestRun_FailedExecuteMarksFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	now := time.Now()

	store, err := command.Open(path)
	require.NoError(t, err)
	id := command.NewID()
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateQueued}, now))

	stats := Run(store, func(r command.Record) (any, error) { return nil, errors.New("boom") }, now)

	assert.Equal(t, 1, stats.ReexecuteFailed)
	clone := store.Get(id).Clone()
	assert.Equal(t, command.StateFailed, clone.State)
}

func TestRun_SecondRestartHasZeroSideEffects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	now := time.Now()

	store, err := command.Open(path)
	require.NoError(t, err)
	id := command.NewID()
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, store.Transition(command.Entry{CommandID: id, ToState: command.StateQueued}, now))

	calls := 0
	execute := func(r command.Record) (any, error) { calls++; return map[string]any{"ok": true}, nil }

	Run(store, execute, now)
	assert.Equal(t, 1, calls)

	reopened, err := command.Open(path)
	require.NoError(t, err)
	Run(reopened, execute, now)
	assert.Equal(t, 1, calls, "a second replay pass must not re-invoke execute for an already-terminal command")
}
