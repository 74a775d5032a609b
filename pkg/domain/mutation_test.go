package domain

import (
	"testing"

	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutationHandlerIssueClose(t *testing.T) {
	h := &MutationHandler{Issues: NewIssueStore()}

	result, errCode, err := h.Handle("cmd-1", "issue close", []string{"mu-1"}, &envelope.Inbound{})
	require.NoError(t, err)
	assert.Equal(t, "", errCode)
	assert.Equal(t, map[string]string{"issue_id": "mu-1", "status": "closed"}, result)
	assert.True(t, h.Issues.closed["mu-1"])
}

func TestMutationHandlerIssueDepAdd(t *testing.T) {
	h := &MutationHandler{Issues: NewIssueStore()}

	result, errCode, err := h.Handle("cmd-1", "issue dep add", []string{"mu-1", "mu-2"}, &envelope.Inbound{})
	require.NoError(t, err)
	assert.Equal(t, "", errCode)
	assert.Equal(t, map[string]string{"issue_id": "mu-1", "dependency": "mu-2"}, result)
	assert.Equal(t, []string{"mu-2"}, h.Issues.deps["mu-1"])
}

func TestMutationHandlerIssueCloseRequiresArg(t *testing.T) {
	h := &MutationHandler{Issues: NewIssueStore()}

	_, errCode, err := h.Handle("cmd-1", "issue close", nil, &envelope.Inbound{})
	assert.Error(t, err)
	assert.Equal(t, "mutation_failed", errCode)
}

func TestMutationHandlerUnknownCommand(t *testing.T) {
	h := &MutationHandler{Issues: NewIssueStore()}

	_, errCode, err := h.Handle("cmd-1", "unknown", nil, &envelope.Inbound{})
	assert.Error(t, err)
	assert.Equal(t, "unmapped_command", errCode)
}

func TestMutationHandlerReload(t *testing.T) {
	h := &MutationHandler{Orchestrator: newTestOrchestrator(t)}

	result, errCode, err := h.Handle("cmd-1", "reload", nil, &envelope.Inbound{})
	require.NoError(t, err)
	assert.Equal(t, "", errCode)
	assert.NotNil(t, result)
}
