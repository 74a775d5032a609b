// Package runtime assembles one generation's worth of control-plane state
// for a single repository: journals, the policy engine, the pipeline, the
// outbox dispatcher, and every enabled channel adapter. A Runtime is built
// fresh by Build on startup and again on every reload.Orchestrator warmup
// (spec.md §4.9); it implements reload.Runtime so the orchestrator can
// drain it when the next generation cuts over.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/codeready-toolchain/mucp/pkg/adapter"
	"github.com/codeready-toolchain/mucp/pkg/adapter/editor"
	"github.com/codeready-toolchain/mucp/pkg/adapter/slack"
	"github.com/codeready-toolchain/mucp/pkg/adapter/telegram"
	"github.com/codeready-toolchain/mucp/pkg/command"
	"github.com/codeready-toolchain/mucp/pkg/config"
	"github.com/codeready-toolchain/mucp/pkg/cpath"
	"github.com/codeready-toolchain/mucp/pkg/domain"
	"github.com/codeready-toolchain/mucp/pkg/envelope"
	"github.com/codeready-toolchain/mucp/pkg/generation"
	"github.com/codeready-toolchain/mucp/pkg/identity"
	"github.com/codeready-toolchain/mucp/pkg/idempotency"
	"github.com/codeready-toolchain/mucp/pkg/mutate"
	"github.com/codeready-toolchain/mucp/pkg/outbox"
	"github.com/codeready-toolchain/mucp/pkg/pipeline"
	"github.com/codeready-toolchain/mucp/pkg/policy"
	"github.com/codeready-toolchain/mucp/pkg/reload"
	"github.com/codeready-toolchain/mucp/pkg/replay"
)

// Adapters holds the per-channel drivers a built Runtime wires up, present
// only for channels that are enabled in configuration.
type Adapters struct {
	Slack    *slack.Driver
	Telegram *telegram.Driver
	Editor   *editor.Hub

	SlackSigningSecret   string
	TelegramSharedSecret string

	TelegramIngressLog  *telegram.IngressLog
	TelegramIngressPath string
}

// multiDriver fans Deliver out to whichever channel-specific Driver
// recognizes the envelope's channel, matching outbox.Driver.
type multiDriver struct {
	drivers []outbox.Driver
}

func (m multiDriver) Deliver(channel string, out envelope.Outbound) outbox.DeliverResult {
	for _, d := range m.drivers {
		if d == nil {
			continue
		}
		result := d.Deliver(channel, out)
		if result.Kind != outbox.UnsupportedChannel {
			return result
		}
	}
	return outbox.DeliverResult{Kind: outbox.UnsupportedChannel}
}

// Runtime is one generation's fully wired control-plane instance for a
// single repository root.
type Runtime struct {
	RepoRoot string
	Layout   cpath.Layout

	Commands    *command.Store
	Idempotency *idempotency.Ledger
	Identities  *identity.Store
	Outbox      *outbox.Store
	AuditLog    *adapter.AuditLog

	Policy          *policy.Engine
	Pipeline        *pipeline.Pipeline
	MutationHandler *domain.MutationHandler
	StatusExecutor  *domain.StatusExecutor
	Mutation        *mutate.Executor

	OutboxDispatcher  *outbox.Dispatcher
	OutboxMaxAttempts int
	Adapters          Adapters

	confirmationSweeper *pipeline.ConfirmationSweeper
	idempotencySweeper  *idempotency.CompactionSweeper
	stopBackground      context.CancelFunc
	stopOutboxWakeup    chan struct{}

	log *slog.Logger
}

// pipelineShim adapts *pipeline.Pipeline to adapter.PipelineRunner so
// channel adapters, which must not import pkg/pipeline directly, can drive
// it through the narrow interface they declare themselves.
type pipelineShim struct {
	p *pipeline.Pipeline
}

func (s pipelineShim) Run(in *envelope.Inbound, now time.Time) adapter.PipelineResult {
	r := s.p.Run(in, now)
	return adapter.PipelineResult{
		Kind:      string(r.Kind),
		Reason:    r.Reason,
		Message:   r.Message,
		CommandID: r.CommandID,
		Result:    r.Result,
		RetryAtMs: r.RetryAtMs,
	}
}

// knownCommands adapts policy.Table to pipeline.KnownCommands.
type knownCommands struct {
	table policy.Table
}

func (k knownCommands) Keys() map[string]bool {
	out := make(map[string]bool, len(k.table))
	for key := range k.table {
		out[key] = true
	}
	return out
}

// Build constructs a fresh Runtime for repo, folding every journal under
// its control-plane directory and wiring adapters for every channel
// enabled in cfg. reason is carried through only for logging (it is the
// same reason string the triggering reload attempt was given).
func Build(cfg *config.Config, repo config.RepoConfig, reason string) (*Runtime, error) {
	log := slog.Default().With("component", "runtime", "repo_root", repo.Root, "reason", reason)

	layout, err := cpath.Resolve(repo.Root, baseDir(repo))
	if err != nil {
		return nil, fmt.Errorf("resolve control-plane layout: %w", err)
	}
	if err := layout.EnsureDir(); err != nil {
		return nil, fmt.Errorf("create control-plane directory: %w", err)
	}

	commands, err := command.Open(layout.Commands)
	if err != nil {
		return nil, fmt.Errorf("open command store: %w", err)
	}
	commands.WithPrefix(layout.RepoShort)
	idempLedger, err := idempotency.Open(layout.Idempotency)
	if err != nil {
		return nil, fmt.Errorf("open idempotency ledger: %w", err)
	}
	identities, err := identity.Open(layout.Identities)
	if err != nil {
		return nil, fmt.Errorf("open identity store: %w", err)
	}
	outboxStore, err := outbox.Open(layout.Outbox)
	if err != nil {
		return nil, fmt.Errorf("open outbox store: %w", err)
	}
	outboxStore.WithPrefix(layout.RepoShort)
	auditLog := adapter.OpenAuditLog(layout.AdapterAudit)

	table := cfg.Policy.Table()
	rateLimiter := policy.NewRateLimiter(cfg.Policy.RateLimit.RateLimiterConfig())
	policyEngine := policy.NewEngine(table, cfg.Policy.KillSwitch.KillSwitches(), rateLimiter)

	issues := domain.NewIssueStore()
	mutationHandler := &domain.MutationHandler{Commands: commands, Issues: issues}
	mutationExecutor := mutate.NewExecutor(mutationHandler.Handle)

	statusExecutor := &domain.StatusExecutor{Outbox: outboxStore}

	pipe := &pipeline.Pipeline{
		Known:       knownCommands{table: table},
		Identity:    identityResolver{store: identities},
		Ingress:     channelIngressPolicy{conversational: conversationalChannels(cfg)},
		Idempotency: idempLedger,
		Policy:      policyEngine,
		Commands:    commands,
		Readonly:    statusExecutor,
		Mutation:    mutationExecutor,
		ConfirmTTL:  cfg.TTL.Confirmation(),
	}

	adapters, drivers, err := buildAdapters(cfg, layout, pipe, auditLog)
	if err != nil {
		return nil, err
	}

	dispatcher := outbox.NewDispatcher(outboxStore, multiDriver{drivers: drivers})
	stopWakeup := make(chan struct{})
	dispatcher.StartPeriodicWakeup(cfg.Outbox.DrainIntervalOrDefault(), stopWakeup)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	confirmSweeper := pipeline.NewConfirmationSweeper(commands, 30*time.Second)
	confirmSweeper.Start(bgCtx)
	idempSweeper := idempotency.NewCompactionSweeper(idempLedger, time.Hour)
	idempSweeper.Start(bgCtx)

	rt := &Runtime{
		RepoRoot:            layout.RepoRoot,
		Layout:              layout,
		Commands:            commands,
		Idempotency:         idempLedger,
		Identities:          identities,
		Outbox:              outboxStore,
		AuditLog:            auditLog,
		Policy:              policyEngine,
		Pipeline:            pipe,
		MutationHandler:     mutationHandler,
		StatusExecutor:      statusExecutor,
		Mutation:            mutationExecutor,
		OutboxDispatcher:    dispatcher,
		OutboxMaxAttempts:   cfg.Outbox.MaxAttemptsOrDefault(),
		Adapters:            adapters,
		confirmationSweeper: confirmSweeper,
		idempotencySweeper:  idempSweeper,
		stopBackground:      cancelBg,
		stopOutboxWakeup:    stopWakeup,
		log:                 log,
	}

	log.Info("runtime built", "active_generation_commands", len(commands.All()))
	return rt, nil
}

// TerminalRunner exposes this generation's pipeline to an in-process
// adapter.PipelineRunner caller (pkg/adapter/terminal), the same shim every
// networked adapter is driven through.
func (r *Runtime) TerminalRunner() adapter.PipelineRunner {
	return pipelineShim{p: r.Pipeline}
}

// AttachSupervisor wires the Runtime's StatusExecutor to the process-wide
// generation.Supervisor and reload.Orchestrator, which (unlike every other
// field on Runtime) are long-lived singletons shared across generations
// rather than rebuilt by Build.
func (r *Runtime) AttachSupervisor(sup *generation.Supervisor, orch *reload.Orchestrator) {
	r.StatusExecutor.Supervisor = sup
	r.StatusExecutor.Orchestrator = orch
	r.MutationHandler.Orchestrator = orch
}

// Replay folds this generation's command journal and reconciles every
// non-terminal command (spec.md §4.10): a domain.mutating entry already on
// the log is trusted over re-running the handler, so a crash between
// effect and terminal transition is never double-executed.
func (r *Runtime) Replay(now time.Time) replay.Stats {
	return replay.Run(r.Commands, r.MutationHandler.Replay, now)
}

// Stop drains this generation: background sweepers and the outbox
// dispatcher's periodic wakeup stop, but the journals themselves are left
// open since the next generation's Build reopens (re-folds) them fresh.
// Implements reload.Runtime.
func (r *Runtime) Stop() error {
	close(r.stopOutboxWakeup)
	r.stopBackground()
	r.confirmationSweeper.Stop()
	r.idempotencySweeper.Stop()
	return nil
}

func baseDir(repo config.RepoConfig) string {
	if repo.BaseDir != "" {
		return repo.BaseDir
	}
	return repo.Root
}

// identityResolver adapts identity.Store to pipeline.IdentityResolver.
type identityResolver struct {
	store *identity.Store
}

func (r identityResolver) Resolve(channel, tenant, actor string) (policy.Binding, bool) {
	b := r.store.ResolveActive(channel, tenant, actor)
	if b == nil {
		return policy.Binding{}, false
	}
	return policy.Binding{BindingID: b.BindingID, Scopes: b.Scopes, AssuranceTier: envelope.AssuranceTier(b.AssuranceTier)}, true
}

// channelIngressPolicy adapts per-channel configuration to
// pipeline.IngressPolicy (spec.md §4.5 step 4): only channels configured
// conversational allow raw text to reach the operator backend, unless the
// envelope itself carries the explicit metadata override the spec names.
type channelIngressPolicy struct {
	conversational map[string]bool
}

const conversationalOverrideKey = "conversational_override"

func (c channelIngressPolicy) AllowsConversational(channel string, metadata map[string]string) bool {
	if c.conversational[channel] {
		return true
	}
	return metadata[conversationalOverrideKey] == "true"
}

// conversationalChannels builds the set of channels configured
// conversational, plus "terminal" unconditionally (SPEC_FULL.md §5.2:
// terminal is always conversational).
func conversationalChannels(cfg *config.Config) map[string]bool {
	out := map[string]bool{"terminal": true}
	for name, ch := range cfg.Channels {
		if ch.Conversational {
			out[name] = true
		}
	}
	return out
}

func buildAdapters(cfg *config.Config, layout cpath.Layout, pipe *pipeline.Pipeline, audit *adapter.AuditLog) (Adapters, []outbox.Driver, error) {
	var out Adapters
	var drivers []outbox.Driver

	if ch, ok := cfg.Channel("slack"); ok && ch.Enabled {
		token := envOrEmpty(ch.TokenEnv)
		out.Slack = slack.NewDriver(token, ch.DefaultTarget)
		out.SlackSigningSecret = envOrEmpty(ch.SigningSecretEnv)
		drivers = append(drivers, out.Slack)
	}

	if ch, ok := cfg.Channel("telegram"); ok && ch.Enabled {
		token := envOrEmpty(ch.TokenEnv)
		out.Telegram = telegram.NewDriver(token)
		out.TelegramSharedSecret = envOrEmpty(ch.SigningSecretEnv)
		out.TelegramIngressPath = layout.TelegramIngress
		out.TelegramIngressLog = telegram.OpenIngressLog(layout.TelegramIngress)
		drivers = append(drivers, out.Telegram)
	}

	if ch, ok := cfg.Channel("editor"); ok && ch.Enabled {
		secret := envOrEmpty(ch.SigningSecretEnv)
		out.Editor = editor.NewHub(pipelineShim{p: pipe}, secret)
		drivers = append(drivers, out.Editor)
	}

	_ = audit
	return out, drivers, nil
}

func envOrEmpty(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
