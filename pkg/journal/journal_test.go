package journal

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/codeready-toolchain/mucp/pkg/mucperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestWriter_AppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	w := NewWriter(path)

	require.NoError(t, w.Append(record{ID: "a", Value: 1}))
	require.NoError(t, w.Append(record{ID: "b", Value: 2}))

	got, err := ReadAll[record](path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestReadAll_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	got, err := ReadAll[record](path)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestForEach_PreservesFileOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	w := NewWriter(path)
	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(record{ID: "x", Value: i}))
	}

	var seen []int
	err := ForEach(path, func(r record) error {
		seen = append(seen, r.Value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
}

func TestForEach_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	w := NewWriter(path)
	require.NoError(t, w.Append(record{ID: "a", Value: 1}))

	// Append a corrupt line directly.
	require.NoError(t, appendRaw(path, "{not json"))

	err := ForEach(path, func(record) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, mucperr.ErrJournalCorrupt))
}

func TestRewrite_CompactsInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	w := NewWriter(path)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Append(record{ID: "a", Value: i}))
	}

	require.NoError(t, Rewrite(path, []record{{ID: "kept", Value: 99}}))

	got, err := ReadAll[record](path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].ID)
}

func appendRaw(path, line string) error {
	w := NewWriter(path)
	return w.Append(json.RawMessage(line))
}
