package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, yamlContent string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, "mucp.yaml"), []byte(yamlContent), 0644)
	require.NoError(t, err)
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	writeConfig(t, dir, `
repos:
  - root: /repo/a
    base_dir: /repo/a/.mucp
channels:
  slack:
    enabled: true
    token_env: SLACK_BOT_TOKEN
  terminal:
    enabled: true
`)

	ctx := context.Background()
	cfg, err := Initialize(ctx, dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Len(t, cfg.Repos, 1)

	stats := cfg.Stats()
	assert.Equal(t, 1, stats.Repos)
	assert.Equal(t, 2, stats.Channels)
	assert.Equal(t, 2, stats.EnabledChannels)
	assert.Greater(t, stats.PolicyCommands, 0)

	ch, ok := cfg.Channel("slack")
	require.True(t, ok)
	assert.True(t, ch.Enabled)
	assert.Equal(t, "SLACK_BOT_TOKEN", ch.TokenEnv)

	repo, ok := cfg.Repo("/repo/a")
	require.True(t, ok)
	assert.Equal(t, "/repo/a/.mucp", repo.BaseDir)
}

func TestInitializeConfigNotFound(t *testing.T) {
	ctx := context.Background()
	_, err := Initialize(ctx, "/nonexistent/directory")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{{{`)

	ctx := context.Background()
	_, err := Initialize(ctx, dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestInitializeValidationFailure(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
repos:
  - root: ""
channels:
  slack:
    enabled: true
`)

	ctx := context.Background()
	_, err := Initialize(ctx, dir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestLoadUsesBuiltinPolicyWhenUserOmitsPolicy(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
repos:
  - root: /repo/a
`)

	cfg, err := load(dir)
	require.NoError(t, err)

	_, ok := cfg.Policy.Commands["reload"]
	assert.True(t, ok, "builtin reload command should be present when user supplies no policy")
}

func TestLoadExpandsEnvBeforeUnmarshal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("REPO_ROOT", "/repo/from/env")
	writeConfig(t, dir, `
repos:
  - root: {{.REPO_ROOT}}
`)

	cfg, err := load(dir)
	require.NoError(t, err)
	require.Len(t, cfg.Repos, 1)
	assert.Equal(t, "/repo/from/env", cfg.Repos[0].Root)
}
