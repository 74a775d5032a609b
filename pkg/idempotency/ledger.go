// Package idempotency implements the key→(fingerprint, command_id) claim
// ledger (spec.md §4.2). A claim with the same key and fingerprint as an
// existing unexpired entry is a duplicate physical retry; a claim with the
// same key but a different fingerprint is a conflict.
package idempotency

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/journal"
)

// DefaultTTL is the default claim lifetime (spec.md §4.2).
const DefaultTTL = 24 * time.Hour

// Entry is a single idempotency claim as persisted to idempotency.jsonl.
type Entry struct {
	Key         string `json:"key"`
	Fingerprint string `json:"fingerprint"`
	CommandID   string `json:"command_id"`
	ExpiresAtMs int64  `json:"expires_at_ms"`
}

// ClaimKind classifies the outcome of Claim.
type ClaimKind string

const (
	Fresh     ClaimKind = "fresh"
	Duplicate ClaimKind = "duplicate"
	Conflict  ClaimKind = "conflict"
)

// ClaimResult is the tagged outcome of a Claim call.
type ClaimResult struct {
	Kind              ClaimKind
	OriginalCommandID string
}

// Ledger is the in-memory fold of idempotency.jsonl, guarded by a mutex so
// concurrent inbound ingestion can claim keys safely (spec.md §5: inbound
// ingestion is concurrent).
type Ledger struct {
	mu      sync.Mutex
	writer  *journal.Writer
	path    string
	entries map[string]Entry // key -> latest entry for that key
}

// Open loads a Ledger from its journal file, folding entries by key so the
// last write for a given key wins (a key is only ever claimed once per
// fingerprint, but compaction may rewrite the file with one line per key).
func Open(path string) (*Ledger, error) {
	records, err := journal.ReadAll[Entry](path)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]Entry, len(records))
	for _, e := range records {
		entries[e.Key] = e
	}

	return &Ledger{
		writer:  journal.NewWriter(path),
		path:    path,
		entries: entries,
	}, nil
}

// Claim attempts to claim key for commandID with the given fingerprint.
// - No entry, or an expired entry: claims fresh and persists the entry.
// - Live entry, same fingerprint: duplicate, returns the original command ID.
// - Live entry, different fingerprint: conflict.
func (l *Ledger) Claim(key, fingerprint, commandID string, ttl time.Duration, now time.Time) ClaimResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowMs := now.UnixMilli()
	if existing, ok := l.entries[key]; ok && existing.ExpiresAtMs > nowMs {
		if existing.Fingerprint == fingerprint {
			return ClaimResult{Kind: Duplicate, OriginalCommandID: existing.CommandID}
		}
		return ClaimResult{Kind: Conflict}
	}

	entry := Entry{
		Key:         key,
		Fingerprint: fingerprint,
		CommandID:   commandID,
		ExpiresAtMs: nowMs + ttl.Milliseconds(),
	}

	if err := l.writer.Append(entry); err != nil {
		slog.Error("Failed to append idempotency claim", "key", key, "error", err)
		return ClaimResult{Kind: Conflict}
	}

	l.entries[key] = entry
	return ClaimResult{Kind: Fresh}
}

// Lookup returns the live entry for key, or nil if absent or expired.
// Expired entries are lazily invisible (spec.md §4.2).
func (l *Ledger) Lookup(key string, now time.Time) *Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok || entry.ExpiresAtMs <= now.UnixMilli() {
		return nil
	}
	cp := entry
	return &cp
}

// Compact prunes expired entries and rewrites the journal as one line per
// surviving key (spec.md §4.2's "a compaction pass may prune"; SPEC_FULL.md
// §5.4). Returns the number of entries removed.
func (l *Ledger) Compact(now time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowMs := now.UnixMilli()
	kept := make(map[string]Entry, len(l.entries))
	survivors := make([]Entry, 0, len(l.entries))
	removed := 0

	for k, e := range l.entries {
		if e.ExpiresAtMs <= nowMs {
			removed++
			continue
		}
		kept[k] = e
		survivors = append(survivors, e)
	}

	if removed == 0 {
		return 0, nil
	}

	if err := journal.Rewrite(l.path, survivors); err != nil {
		return 0, err
	}
	l.entries = kept
	return removed, nil
}

// Len returns the number of live (not necessarily unexpired) entries
// tracked in memory, for diagnostics.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
