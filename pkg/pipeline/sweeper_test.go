package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmationSweeper_ExpiresPastDeadline(t *testing.T) {
	cmds, err := command.Open(filepath.Join(t.TempDir(), "commands.jsonl"))
	require.NoError(t, err)

	id := command.NewID()
	now := time.Now()
	require.NoError(t, cmds.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, cmds.Transition(command.Entry{CommandID: id, ToState: command.StateAwaitingConfirmation, ConfirmExpMs: now.Add(-time.Minute).UnixMilli()}, now))

	sweeper := NewConfirmationSweeper(cmds, time.Hour)
	sweeper.sweep()

	clone := cmds.Get(id).Clone()
	assert.Equal(t, command.StateExpired, clone.State)
}

func TestConfirmationSweeper_LeavesUnexpiredAlone(t *testing.T) {
	cmds, err := command.Open(filepath.Join(t.TempDir(), "commands.jsonl"))
	require.NoError(t, err)

	id := command.NewID()
	now := time.Now()
	require.NoError(t, cmds.Transition(command.Entry{CommandID: id, ToState: command.StateAccepted}, now))
	require.NoError(t, cmds.Transition(command.Entry{CommandID: id, ToState: command.StateAwaitingConfirmation, ConfirmExpMs: now.Add(time.Hour).UnixMilli()}, now))

	sweeper := NewConfirmationSweeper(cmds, time.Hour)
	sweeper.sweep()

	clone := cmds.Get(id).Clone()
	assert.Equal(t, command.StateAwaitingConfirmation, clone.State)
}

func TestConfirmationSweeper_StartStop(t *testing.T) {
	cmds, err := command.Open(filepath.Join(t.TempDir(), "commands.jsonl"))
	require.NoError(t, err)

	sweeper := NewConfirmationSweeper(cmds, 10*time.Millisecond)
	sweeper.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	sweeper.Stop()
}
