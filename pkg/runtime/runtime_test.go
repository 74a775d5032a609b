package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/adapter/terminal"
	"github.com/codeready-toolchain/mucp/pkg/config"
	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/reload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, repoRoot string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mucp.yaml"), []byte(`
repos:
  - root: `+repoRoot+`
channels:
  terminal:
    enabled: true
`), 0644))

	cfg, err := config.Initialize(context.Background(), dir)
	require.NoError(t, err)
	return cfg
}

func TestBuild_AssemblesJournalsAndPipeline(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)

	rt, err := Build(cfg, cfg.Repos[0], "startup")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	assert.Equal(t, repoRoot, rt.RepoRoot)
	assert.NotNil(t, rt.Commands)
	assert.NotNil(t, rt.Idempotency)
	assert.NotNil(t, rt.Identities)
	assert.NotNil(t, rt.Outbox)
	assert.NotNil(t, rt.Policy)
	assert.NotNil(t, rt.Pipeline)
	assert.NotNil(t, rt.OutboxDispatcher)
	assert.Nil(t, rt.Adapters.Slack, "slack channel not enabled in fixture config")
	assert.Nil(t, rt.Adapters.Telegram, "telegram channel not enabled in fixture config")
}

func TestBuild_ReopensSameJournalsAcrossGenerations(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)

	first, err := Build(cfg, cfg.Repos[0], "startup")
	require.NoError(t, err)
	require.NoError(t, first.Stop())

	second, err := Build(cfg, cfg.Repos[0], "reload")
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Stop() })

	assert.Equal(t, first.Layout.Commands, second.Layout.Commands)
	assert.Equal(t, first.Layout.Outbox, second.Layout.Outbox)
}

func TestReplay_OnFreshJournalsReturnsEmptyStats(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)

	rt, err := Build(cfg, cfg.Repos[0], "startup")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })

	stats := rt.Replay(time.Now())
	assert.Equal(t, 0, stats.TotalCommands)
	assert.Equal(t, 0, stats.Reconciled)
	assert.Equal(t, 0, stats.Reexecuted)
}

func TestStop_DrainsBackgroundWork(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)

	rt, err := Build(cfg, cfg.Repos[0], "startup")
	require.NoError(t, err)
	require.NoError(t, rt.Stop())
}

func TestTerminalRunner_ResolvesReservedBindingAndRunsCommand(t *testing.T) {
	repoRoot := t.TempDir()
	cfg := testConfig(t, repoRoot)

	rt, err := Build(cfg, cfg.Repos[0], "startup")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Stop() })
	sup := generation.NewSupervisor()
	rt.AttachSupervisor(sup, reload.NewOrchestrator(sup, nil, rt))

	in := terminal.BuildInbound("/status", time.Now())
	result := rt.TerminalRunner().Run(in, time.Now())

	assert.NotEqual(t, "denied", result.Kind, "terminal channel must resolve TERMINAL_BINDING rather than being denied identity_not_linked")
	assert.Equal(t, "completed", result.Kind)
}
