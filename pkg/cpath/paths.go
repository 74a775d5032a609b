// Package cpath resolves the on-disk layout for a repository's control
// plane state and guards it with a single-writer advisory lock.
package cpath

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// Layout is the fixed set of journal files and the lock file for a single
// repository's control-plane directory (spec.md §4.1, §6.3).
type Layout struct {
	RepoRoot          string
	RepoShort         string
	ControlPlaneDir   string
	Commands          string
	Idempotency       string
	Outbox            string
	Identities        string
	AdapterAudit      string
	TelegramIngress   string
	WriterLock        string
}

// repoShort derives the short, stable prefix used by the monotonic
// command_id/outbox_id generators (SPEC_FULL.md §4: "<repo-short>-cmd-<seq>"),
// sanitized to lowercase letters, digits, hyphen and underscore so it is
// always safe to embed in an identifier.
func repoShort(abs string) string {
	base := strings.ToLower(filepath.Base(abs))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "repo"
	}
	return b.String()
}

// rootDirName names the directory under which every repo's control-plane
// state lives, keyed by a stable hash of its resolved repo root so that
// two repos can never collide even if their basenames match.
const rootDirName = ".mucp"

// Resolve derives the fixed file layout for a repository root. baseDir is
// the parent directory under which per-repo control-plane directories are
// created (typically the repo root itself, or a shared state directory in
// multi-tenant deployments).
func Resolve(repoRoot, baseDir string) (Layout, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return Layout{}, err
	}

	sum := sha256.Sum256([]byte(abs))
	key := hex.EncodeToString(sum[:])[:16]

	cpDir := filepath.Join(baseDir, rootDirName, key)

	return Layout{
		RepoRoot:        abs,
		RepoShort:       repoShort(abs),
		ControlPlaneDir: cpDir,
		Commands:        filepath.Join(cpDir, "commands.jsonl"),
		Idempotency:     filepath.Join(cpDir, "idempotency.jsonl"),
		Outbox:          filepath.Join(cpDir, "outbox.jsonl"),
		Identities:      filepath.Join(cpDir, "identities.jsonl"),
		AdapterAudit:    filepath.Join(cpDir, "adapter_audit.jsonl"),
		TelegramIngress: filepath.Join(cpDir, "telegram_ingress.jsonl"),
		WriterLock:      filepath.Join(cpDir, "writer.lock"),
	}, nil
}

// EnsureDir creates the control-plane directory if it does not exist.
func (l Layout) EnsureDir() error {
	return os.MkdirAll(l.ControlPlaneDir, 0o755)
}
