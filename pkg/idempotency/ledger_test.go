package idempotency

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idempotency.jsonl")
	l, err := Open(path)
	require.NoError(t, err)
	return l
}

func TestClaim_FreshThenDuplicate(t *testing.T) {
	l := openLedger(t)
	now := time.Now()

	res := l.Claim("k1", "f1", "cmd-1", DefaultTTL, now)
	assert.Equal(t, Fresh, res.Kind)

	res = l.Claim("k1", "f1", "cmd-2", DefaultTTL, now)
	assert.Equal(t, Duplicate, res.Kind)
	assert.Equal(t, "cmd-1", res.OriginalCommandID)
}

func TestClaim_FingerprintConflict(t *testing.T) {
	l := openLedger(t)
	now := time.Now()

	l.Claim("k1", "f1", "cmd-1", DefaultTTL, now)
	res := l.Claim("k1", "f2", "cmd-2", DefaultTTL, now)
	assert.Equal(t, Conflict, res.Kind)
}

func TestClaim_ExpiredEntryIsFresh(t *testing.T) {
	l := openLedger(t)
	now := time.Now()

	l.Claim("k1", "f1", "cmd-1", 1*time.Millisecond, now)
	later := now.Add(10 * time.Millisecond)

	res := l.Claim("k1", "f2", "cmd-2", DefaultTTL, later)
	assert.Equal(t, Fresh, res.Kind)
}

func TestLookup_ExpiredIsInvisible(t *testing.T) {
	l := openLedger(t)
	now := time.Now()
	l.Claim("k1", "f1", "cmd-1", 1*time.Millisecond, now)

	assert.Nil(t, l.Lookup("k1", now.Add(10*time.Millisecond)))
	assert.NotNil(t, l.Lookup("k1", now))
}

func TestOpen_ReplaysExistingJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idempotency.jsonl")
	l1, err := Open(path)
	require.NoError(t, err)
	l1.Claim("k1", "f1", "cmd-1", DefaultTTL, time.Now())

	l2, err := Open(path)
	require.NoError(t, err)
	res := l2.Claim("k1", "f1", "cmd-2", DefaultTTL, time.Now())
	assert.Equal(t, Duplicate, res.Kind)
	assert.Equal(t, "cmd-1", res.OriginalCommandID)
}

func TestCompact_PrunesExpiredEntries(t *testing.T) {
	l := openLedger(t)
	now := time.Now()

	l.Claim("expired", "f1", "cmd-1", 1*time.Millisecond, now)
	l.Claim("live", "f1", "cmd-2", DefaultTTL, now)

	removed, err := l.Compact(now.Add(10 * time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())
	assert.NotNil(t, l.Lookup("live", now))
}
