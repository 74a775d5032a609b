package cpath

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/mucperr"
)

// LockMetadata is written atomically into the writer lock file so a second
// acquirer can report who is currently holding it.
type LockMetadata struct {
	OwnerID      string `json:"owner_id"`
	RepoRoot     string `json:"repo_root"`
	AcquiredAtMs int64  `json:"acquired_at_ms"`
}

// WriterLock is a single-writer advisory file lock (spec.md §4.1). Only one
// process per repository root may hold it at a time.
type WriterLock struct {
	path string
	held bool
}

// NewWriterLock returns a WriterLock bound to the layout's lock file path.
func NewWriterLock(l Layout) *WriterLock {
	return &WriterLock{path: l.WriterLock}
}

// Acquire atomically creates the lock file (O_EXCL create, then the metadata
// is flushed before the file is considered acquired — there is no separate
// rename step since O_CREATE|O_EXCL already guarantees atomicity of
// "did not exist, now does"). A second acquisition attempt fails with
// ErrWriterLockBusy carrying the existing metadata.
func (w *WriterLock) Acquire(ownerID, repoRoot string, now time.Time) (*LockMetadata, error) {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			existing, readErr := readLockMetadata(w.path)
			if readErr != nil {
				return nil, fmt.Errorf("%w: lock file present but unreadable: %v", mucperr.ErrWriterLockBusy, readErr)
			}
			return existing, mucperr.ErrWriterLockBusy
		}
		return nil, mucperr.FailedTo("create writer lock file", err)
	}
	defer f.Close()

	meta := &LockMetadata{
		OwnerID:      ownerID,
		RepoRoot:     repoRoot,
		AcquiredAtMs: now.UnixMilli(),
	}

	enc := json.NewEncoder(f)
	if err := enc.Encode(meta); err != nil {
		_ = os.Remove(w.path)
		return nil, mucperr.FailedTo("write writer lock metadata", err)
	}

	w.held = true
	return meta, nil
}

// Release deletes the lock file. It is a no-op if this instance never
// acquired the lock, so callers may defer Release unconditionally.
func (w *WriterLock) Release() error {
	if !w.held {
		return nil
	}
	w.held = false
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return mucperr.FailedTo("release writer lock", err)
	}
	return nil
}

// Metadata reads the current lock file's metadata without attempting
// acquisition, returning (nil, nil) if no lock is currently held.
func (w *WriterLock) Metadata() (*LockMetadata, error) {
	meta, err := readLockMetadata(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return meta, err
}

func readLockMetadata(path string) (*LockMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta LockMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", mucperr.ErrJournalCorrupt, err)
	}
	return &meta, nil
}
