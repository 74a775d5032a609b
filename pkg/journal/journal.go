// Package journal provides the append-only JSONL primitive shared by every
// durable store in the control plane (commands, idempotency, outbox,
// identities, adapter audit, Telegram ingress — spec.md §6.3). Journal
// records are never mutated in place; live state is a pure fold of the
// replayed log (spec.md §3).
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/codeready-toolchain/mucp/pkg/mucperr"
)

// Writer appends JSON-encoded records, one per line, to a single file. It is
// not itself concurrency-safe across processes — callers serialize writes
// under the repository's WriterLock (spec.md §4.1, §5).
type Writer struct {
	path string
}

// NewWriter binds a Writer to a journal file path. The file is created on
// first Append if it does not already exist.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append encodes v as one JSON line and fsyncs it before returning, so that
// the journal entry is durable before the pipeline yields a terminal result
// to its caller (spec.md §5).
func (w *Writer) Append(v any) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return mucperr.FailedTo("open journal for append", err)
	}
	defer f.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return mucperr.FailedTo("marshal journal record", err)
	}
	data = append(data, '\n')

	if _, err := f.Write(data); err != nil {
		return mucperr.FailedTo("append journal record", err)
	}
	return f.Sync()
}

// ReadAll decodes every line in the journal file as a T, in file order. A
// missing file is treated as an empty journal, not an error.
func ReadAll[T any](path string) ([]T, error) {
	var out []T
	err := ForEach(path, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// ForEach streams the journal file in order, decoding each line as a T and
// invoking fn. This is the primitive startup replay folds over (spec.md
// §4.10) — it never loads the whole file into memory as decoded records,
// only one line at a time.
func ForEach[T any](path string, fn func(T) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return mucperr.FailedTo("open journal for read", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("%w: line %d of %s: %v", mucperr.ErrJournalCorrupt, line, path, err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return mucperr.FailedTo("scan journal", err)
	}
	return nil
}

// Rewrite atomically replaces the journal's contents with records, used by
// compaction passes (idempotency TTL pruning, spec.md §4.2's "a compaction
// pass may prune"). It writes to a sibling temp file, created with O_EXCL
// like the writer lock file, and renames it over the original, so a crash
// mid-compaction never leaves a partially-written journal live.
func Rewrite[T any](path string, records []T) error {
	tmp := path + ".compact.tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return mucperr.FailedTo("create compaction temp file", err)
	}

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			os.Remove(tmp)
			return mucperr.FailedTo("encode compacted record", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return mucperr.FailedTo("sync compaction temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return mucperr.FailedTo("close compaction temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return mucperr.FailedTo("rename compacted journal into place", err)
	}
	return nil
}
