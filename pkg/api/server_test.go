package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/codeready-toolchain/mucp/pkg/config"
	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/reload"
	"github.com/codeready-toolchain/mucp/pkg/runtime"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) (*Server, *runtime.Holder, *reload.Orchestrator) {
	t.Helper()

	repoRoot := t.TempDir()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mucp.yaml"), []byte(`
repos:
  - root: `+repoRoot+`
channels:
  terminal:
    enabled: true
`), 0644))
	cfg, err := config.Initialize(context.Background(), dir)
	require.NoError(t, err)

	holder := &runtime.Holder{}
	supervisor := generation.NewSupervisor()

	var orchestrator *reload.Orchestrator
	warmup := func(reason string) (reload.Runtime, error) {
		rt, err := runtime.Build(cfg, cfg.Repos[0], reason)
		if err != nil {
			return nil, err
		}
		rt.AttachSupervisor(supervisor, orchestrator)
		holder.Store(rt)
		return rt, nil
	}

	initial, err := runtime.Build(cfg, cfg.Repos[0], "startup")
	require.NoError(t, err)
	orchestrator = reload.NewOrchestrator(supervisor, warmup, initial)
	initial.AttachSupervisor(supervisor, orchestrator)
	holder.Store(initial)

	// Runtime.Stop is not idempotent (it closes a channel), and a
	// reload test may already have driven the orchestrator into
	// stopping this generation itself, so tests stop their own
	// runtimes explicitly where needed instead of a blanket cleanup.

	return NewServer(holder, supervisor, orchestrator), holder, orchestrator
}

func TestHandleHealth_ReportsActiveGeneration(t *testing.T) {
	s, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(0), body["active_generation"])
}

func TestHandleWebhook_UnknownChannelReturns404(t *testing.T) {
	s, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrier-pigeon", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleWebhook_DisabledChannelReturns404(t *testing.T) {
	s, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListChannels_OmitsDisabledChannels(t *testing.T) {
	s, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/control-plane/channels", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Channels []map[string]any `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Channels, "only terminal channel enabled in fixture, which is not an HTTP adapter")
}

func TestHandleReload_ReturnsOrchestratorResult(t *testing.T) {
	s, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/control-plane/reload?reason=test", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["outcome"])
	assert.Equal(t, float64(1), body["to_generation"])
}

func TestHandleRollback_NoReloadYetReportsFalse(t *testing.T) {
	s, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/control-plane/rollback", nil)
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["rolled_back"])
}
