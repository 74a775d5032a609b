package adapter

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLog_Record_AppendsEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log := OpenAuditLog(path)

	require.NoError(t, log.Record("slack", "ingress.accepted", "", nil, time.Now()))
}

func TestLastIngressAt_ReturnsMostRecentPerChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log := OpenAuditLog(path)

	base := time.Now()
	require.NoError(t, log.Record("slack", "ingress.accepted", "", nil, base))
	require.NoError(t, log.Record("slack", "ingress.rejected", "bad_signature", nil, base.Add(time.Second)))
	require.NoError(t, log.Record("slack", "ingress.accepted", "", nil, base.Add(2*time.Second)))
	require.NoError(t, log.Record("telegram", "ingress.accepted", "", nil, base.Add(3*time.Second)))

	last, err := LastIngressAt(path)
	require.NoError(t, err)

	assert.Equal(t, base.Add(2*time.Second).UnixMilli(), last["slack"])
	assert.Equal(t, base.Add(3*time.Second).UnixMilli(), last["telegram"])
}

func TestLastIngressAt_MissingFileReturnsEmptyMap(t *testing.T) {
	last, err := LastIngressAt(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, last)
}
