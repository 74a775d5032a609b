package identity

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "identities.jsonl"))
	require.NoError(t, err)
	return s
}

func TestLink_ThenResolveActive(t *testing.T) {
	s := openStore(t)
	now := time.Now()

	_, err := s.Link("b1", "op-1", "slack", "T1", "U1", TierA, []string{"cp.issue.write"}, now)
	require.NoError(t, err)

	got := s.ResolveActive("slack", "T1", "U1")
	require.NotNil(t, got)
	assert.Equal(t, "b1", got.BindingID)
	assert.Equal(t, StatusActive, got.Status)
}

func TestLink_SupersedesPriorActiveBinding(t *testing.T) {
	s := openStore(t)
	now := time.Now()

	_, err := s.Link("b1", "op-1", "slack", "T1", "U1", TierA, nil, now)
	require.NoError(t, err)
	_, err = s.Link("b2", "op-1", "slack", "T1", "U1", TierB, nil, now.Add(time.Second))
	require.NoError(t, err)

	active := s.ResolveActive("slack", "T1", "U1")
	require.NotNil(t, active)
	assert.Equal(t, "b2", active.BindingID)
}

func TestUnlink_RemovesFromActiveMap(t *testing.T) {
	s := openStore(t)
	now := time.Now()

	_, err := s.Link("b1", "op-1", "slack", "T1", "U1", TierA, nil, now)
	require.NoError(t, err)
	require.NoError(t, s.Unlink("b1", "user_requested", now.Add(time.Second)))

	assert.Nil(t, s.ResolveActive("slack", "T1", "U1"))
}

func TestRevoke_RemovesFromActiveMap(t *testing.T) {
	s := openStore(t)
	now := time.Now()

	_, err := s.Link("b1", "op-1", "slack", "T1", "U1", TierA, nil, now)
	require.NoError(t, err)
	require.NoError(t, s.Revoke("b1", "compromised", now.Add(time.Second)))

	assert.Nil(t, s.ResolveActive("slack", "T1", "U1"))
}

func TestOpen_ReplaysHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.jsonl")
	s1, err := Open(path)
	require.NoError(t, err)
	now := time.Now()
	_, err = s1.Link("b1", "op-1", "slack", "T1", "U1", TierA, []string{"scope.a"}, now)
	require.NoError(t, err)

	s2, err := Open(path)
	require.NoError(t, err)
	got := s2.ResolveActive("slack", "T1", "U1")
	require.NotNil(t, got)
	assert.Equal(t, []string{"scope.a"}, got.Scopes)
}

func TestResolveActive_UnknownTripleReturnsNil(t *testing.T) {
	s := openStore(t)
	assert.Nil(t, s.ResolveActive("slack", "T1", "U1"))
}
