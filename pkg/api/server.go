// Package api exposes the control plane's HTTP surface (spec.md §4.11,
// §6.1): channel webhooks, the editor WebSocket, the control-plane
// operations (reload, rollback, channel listing), and /metrics — built on
// gin, the framework the control plane's own entrypoint already wires.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/reload"
	"github.com/codeready-toolchain/mucp/pkg/runtime"
	"github.com/codeready-toolchain/mucp/pkg/telemetry"
	"github.com/codeready-toolchain/mucp/pkg/version"
	"github.com/gin-gonic/gin"
)

// RuntimeSource returns the currently active generation's Runtime. The
// caller holding the atomic swap (pkg/runtime.Holder) is the single
// producer; handlers only ever read through it.
type RuntimeSource interface {
	Load() *runtime.Runtime
}

// Server is the control plane's HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	runtimes     RuntimeSource
	supervisor   *generation.Supervisor
	orchestrator *reload.Orchestrator
}

// NewServer constructs a Server wired to the shared, long-lived generation
// supervisor/orchestrator and a RuntimeSource for the active generation's
// adapters and pipeline.
func NewServer(runtimes RuntimeSource, supervisor *generation.Supervisor, orchestrator *reload.Orchestrator) *Server {
	s := &Server{
		runtimes:     runtimes,
		supervisor:   supervisor,
		orchestrator: orchestrator,
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(telemetry.Handler()))

	s.engine.POST("/webhooks/:channel", s.handleWebhook)
	s.engine.GET("/ws/editor", s.handleEditorWebSocket)

	cp := s.engine.Group("/api/control-plane")
	cp.GET("/channels", s.handleListChannels)
	cp.POST("/reload", s.handleReload)
	cp.POST("/rollback", s.handleRollback)
}

// Engine exposes the underlying gin.Engine, primarily so tests can drive
// requests through httptest without a listening socket.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run starts the HTTP server listening on addr and blocks until the
// context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.supervisor.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"version":           version.Full(),
		"active_generation": snap.ActiveGeneration,
		"generation_seq":    snap.GenerationSeq,
	})
}

func (s *Server) active(c *gin.Context) *runtime.Runtime {
	rt := s.runtimes.Load()
	if rt == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "control plane not ready"})
		return nil
	}
	return rt
}
