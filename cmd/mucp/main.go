// mucp is the control-plane server: it mediates between external
// messaging channels and a pool of long-running agent sessions executing
// work against a repository.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/adapter/terminal"
	"github.com/codeready-toolchain/mucp/pkg/api"
	"github.com/codeready-toolchain/mucp/pkg/config"
	"github.com/codeready-toolchain/mucp/pkg/cpath"
	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/reload"
	"github.com/codeready-toolchain/mucp/pkg/runtime"
	"github.com/codeready-toolchain/mucp/pkg/version"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	terminalMode := flag.Bool("terminal", false, "run an interactive terminal session against the pipeline instead of serving HTTP")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", envPath, err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.Default().With("component", "main")

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	stats := cfg.Stats()
	log.Info("configuration loaded", "repos", stats.Repos, "channels", stats.Channels,
		"enabled_channels", stats.EnabledChannels, "policy_commands", stats.PolicyCommands)

	if len(cfg.Repos) == 0 {
		log.Error("configuration must name at least one repository")
		os.Exit(1)
	}
	repo := cfg.Repos[0]

	layout, err := cpath.Resolve(repo.Root, repoBaseDir(repo))
	if err != nil {
		log.Error("failed to resolve control-plane layout", "error", err)
		os.Exit(1)
	}
	if err := layout.EnsureDir(); err != nil {
		log.Error("failed to create control-plane directory", "error", err)
		os.Exit(1)
	}

	lock := cpath.NewWriterLock(layout)
	ownerID := "mucp-" + uuid.New().String()
	if _, err := lock.Acquire(ownerID, layout.RepoRoot, time.Now()); err != nil {
		log.Error("failed to acquire writer lock; another process may be running against this repository", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	holder := &runtime.Holder{}
	supervisor := generation.NewSupervisor()

	var orchestrator *reload.Orchestrator
	warmup := func(reason string) (reload.Runtime, error) {
		rt, err := runtime.Build(cfg, repo, reason)
		if err != nil {
			return nil, err
		}
		// orchestrator is non-nil by the time any reload actually runs:
		// it is assigned immediately after the very first Build below,
		// before main blocks serving HTTP traffic.
		rt.AttachSupervisor(supervisor, orchestrator)
		holder.Store(rt)
		return rt, nil
	}

	initial, err := runtime.Build(cfg, repo, "startup")
	if err != nil {
		log.Error("failed to build initial runtime", "error", err)
		os.Exit(1)
	}

	orchestrator = reload.NewOrchestrator(supervisor, warmup, initial)
	initial.AttachSupervisor(supervisor, orchestrator)
	holder.Store(initial)

	replayStats := initial.Replay(time.Now())
	log.Info("startup replay complete", "total", replayStats.TotalCommands,
		"reconciled", replayStats.Reconciled, "reexecuted", replayStats.Reexecuted,
		"expired", replayStats.Expired, "reexecute_failed", replayStats.ReexecuteFailed)

	if *terminalMode {
		log.Info("starting mucp terminal session", "version", version.Full(), "repo_root", layout.RepoRoot)
		session := terminal.NewSession(initial.TerminalRunner(), os.Stdout)
		if err := session.Run(os.Stdin, time.Now); err != nil {
			log.Error("terminal session exited with error", "error", err)
			os.Exit(1)
		}
		log.Info("shutdown complete")
		return
	}

	server := api.NewServer(holder, supervisor, orchestrator)

	log.Info("starting mucp control plane", "version", version.Full(), "http_port", httpPort, "repo_root", layout.RepoRoot)
	if err := server.Run(ctx, fmt.Sprintf(":%s", httpPort)); err != nil {
		log.Error("http server exited with error", "error", err)
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

func repoBaseDir(repo config.RepoConfig) string {
	if repo.BaseDir != "" {
		return repo.BaseDir
	}
	return repo.Root
}
