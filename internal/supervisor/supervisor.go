// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package supervisor implements the Supervisor (C7): it owns agent worker
// lifecycles, dials each one into the broker as an ordinary participant,
// restarts workers whose manifest asks for it on crash, and unloads workers
// whose Agent Runtime reports an idle-unload per spec.md §4.7. It is
// grounded on pkg/scheduler.Scheduler's cron-driven job lifecycle
// (NewScheduler/Start/Stop, a mutex-guarded registry of running work,
// restart-on-failure bookkeeping), generalized from "scheduled workflow
// executions" to "long-lived agent workers."
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kestrel-systems/parley/internal/agentrt"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/tools"
	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/pkg/vendorsdk"
)

// AgentManifest is the static descriptor a Supervisor spawns from, per
// SPEC_FULL.md §3's (NEW) AgentManifest entity — needed because spec.md
// §4.7 references "the agent's manifest is restart_on_crash" without ever
// defining the manifest's shape.
type AgentManifest struct {
	AgentType      string
	RestartOnCrash bool
	IdleGrace      time.Duration
	ActivityGrace  time.Duration
	Command        []string
	Env            map[string]string
}

// StateArgs is the startup-args bundle spec.md §4.7 requires configuration
// to travel through ("never via globals"): channel, handle, context id, and
// agent-type-specific config.
type StateArgs struct {
	Channel      identity.ChannelID
	ContextID    identity.ContextID
	IdentityKey  identity.IdentityKey
	Handle       identity.Handle
	PanelID      identity.ClientID
	Model        string
	SystemPrompt string
	Autonomy     tools.AutonomyLevel
	WorkingDir   string
}

// Dial opens a fresh transport connection into the broker for one worker;
// the returned Transport is the worker's own half (mirroring how any
// client, human or agent, is admitted). Satisfied in production by a
// function that spins up a transport.NewPipe() pair and hands the server
// half to broker.Serve in a goroutine.
type Dial func(ctx context.Context) (transport.Transport, error)

// ToolsFactory builds the per-worker Tool Registry and approval Gate for a
// spawn. It runs inside agentrt.Agent.connect, after the broker has assigned
// the worker's own ClientID (admit.go mints a fresh random one per
// connection, so it is never known at Spawn time) — self is that assigned
// id. Returning nil, nil is valid for agent types that call no tools.
type ToolsFactory func(args StateArgs, self identity.ClientID) (*tools.Registry, *tools.Gate)

// ProviderFactory resolves the vendor SDK binding for an agent type.
type ProviderFactory func(agentType string) (vendorsdk.Provider, error)

// Config wires a Supervisor to its collaborators.
type Config struct {
	Dial         Dial
	Providers    ProviderFactory
	Tools        ToolsFactory
	Store        agentrt.Checkpointer
	Logger       *zap.Logger
	MaxWorkers   int           // 0 means unbounded
	ReaperPeriod time.Duration // defaults to 1s, matches §4.9's second-resolution ticker
}

type worker struct {
	id         string
	agentType  string
	manifest   AgentManifest
	args       StateArgs
	agent      *agentrt.Agent
	cancel     context.CancelFunc
	done       chan struct{}
	restarts   int
	lastCrash  time.Time
	terminated bool
}

// Supervisor owns the set of live agent workers for one parleyd process.
type Supervisor struct {
	cfg       Config
	logger    *zap.Logger
	cronEngine *cron.Cron
	spawnOnce singleflight.Group

	mu        sync.Mutex
	manifests map[string]AgentManifest
	workers   map[string]*worker
	stopCh    chan struct{}
	wg        conc.WaitGroup // structured worker goroutine lifecycle, per §4.6's pool use for fan-out
}

// New constructs a Supervisor. Call Start before Spawn so the reaper sweep
// is running.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ReaperPeriod <= 0 {
		cfg.ReaperPeriod = time.Second
	}
	return &Supervisor{
		cfg:        cfg,
		logger:     cfg.Logger,
		cronEngine: cron.New(cron.WithSeconds()),
		manifests:  make(map[string]AgentManifest),
		workers:    make(map[string]*worker),
		stopCh:     make(chan struct{}),
	}
}

// RegisterManifest makes an agent type spawnable.
func (s *Supervisor) RegisterManifest(m AgentManifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifests[m.AgentType] = m
}

// Start begins the cron-driven reaper sweep that prunes terminated workers
// from the registry, per §4.9's "second-resolution ticker rather than ad
// hoc time.Sleep loops."
func (s *Supervisor) Start() error {
	spec := fmt.Sprintf("@every %s", s.cfg.ReaperPeriod)
	if _, err := s.cronEngine.AddFunc(spec, s.reap); err != nil {
		return fmt.Errorf("supervisor: schedule reaper: %w", err)
	}
	s.cronEngine.Start()
	s.logger.Info("supervisor started", zap.Duration("reaper_period", s.cfg.ReaperPeriod))
	return nil
}

// Stop halts the cron engine and waits for in-flight worker goroutines to
// observe cancellation.
func (s *Supervisor) Stop(ctx context.Context) error {
	close(s.stopCh)

	s.mu.Lock()
	for _, w := range s.workers {
		w.cancel()
	}
	s.mu.Unlock()

	cronCtx := s.cronEngine.Stop()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("supervisor stop timed out waiting for workers")
	}
	<-cronCtx.Done()
	return nil
}

// Spawn implements §4.7's `spawn(agent_type, state_args) -> worker_id`.
// Concurrent spawns for the same (channel, identity_key) are coalesced via
// singleflight so a racing pair of reconnect attempts launches one worker,
// not two.
func (s *Supervisor) Spawn(ctx context.Context, agentType string, args StateArgs) (string, error) {
	s.mu.Lock()
	manifest, ok := s.manifests[agentType]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("supervisor: unknown agent type %q", agentType)
	}
	if s.cfg.MaxWorkers > 0 && len(s.workers) >= s.cfg.MaxWorkers {
		s.mu.Unlock()
		return "", fmt.Errorf("supervisor: at capacity (%d workers)", s.cfg.MaxWorkers)
	}
	s.mu.Unlock()

	key := string(args.Channel) + "/" + string(args.IdentityKey)
	idAny, err, _ := s.spawnOnce.Do(key, func() (any, error) {
		return s.spawnWorker(ctx, agentType, manifest, args, 0)
	})
	if err != nil {
		return "", err
	}
	return idAny.(string), nil
}

func (s *Supervisor) spawnWorker(ctx context.Context, agentType string, manifest AgentManifest, args StateArgs, priorRestarts int) (string, error) {
	if s.cfg.Dial == nil {
		return "", fmt.Errorf("supervisor: no Dial configured")
	}
	t, err := s.cfg.Dial(ctx)
	if err != nil {
		return "", fmt.Errorf("supervisor: dial: %w", err)
	}
	provider, err := s.providerFor(agentType)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	workerCtx, cancel := context.WithCancel(context.Background())

	w := &worker{
		id:        id,
		agentType: agentType,
		manifest:  manifest,
		args:      args,
		cancel:    cancel,
		done:      make(chan struct{}),
		restarts:  priorRestarts,
	}

	acfg := agentrt.Config{
		Channel:       args.Channel,
		ContextID:     args.ContextID,
		IdentityKey:   args.IdentityKey,
		Handle:        args.Handle,
		PanelID:       args.PanelID,
		Autonomy:      args.Autonomy,
		Model:         args.Model,
		SystemPrompt:  args.SystemPrompt,
		IdleGrace:     manifest.IdleGrace,
		ActivityGrace: manifest.ActivityGrace,
	}
	acfg.OnIdleUnload = func() { s.Unload(id) }
	if s.cfg.Tools != nil {
		acfg.ToolsFactory = func(self identity.ClientID) (*tools.Registry, *tools.Gate) {
			return s.cfg.Tools(args, self)
		}
	}

	w.agent = agentrt.New(acfg, t, provider, nil, nil, s.cfg.Store, s.logger)

	s.mu.Lock()
	s.workers[id] = w
	s.mu.Unlock()

	s.wg.Go(func() { s.run(workerCtx, w) })

	return id, nil
}

func (s *Supervisor) providerFor(agentType string) (vendorsdk.Provider, error) {
	if s.cfg.Providers == nil {
		return nil, fmt.Errorf("supervisor: no ProviderFactory configured")
	}
	return s.cfg.Providers(agentType)
}

// run drives one worker's Agent.Run to completion and, per §4.7's "on
// crash, emits a diagnostic event and, if the agent's manifest is
// restart_on_crash, relaunches with the same state args," either retires the
// worker or respawns it.
func (s *Supervisor) run(ctx context.Context, w *worker) {
	defer close(w.done)

	err := w.agent.Run(ctx)

	s.mu.Lock()
	delete(s.workers, w.id)
	s.mu.Unlock()

	if ctx.Err() != nil || err == nil {
		return // graceful stop (Unload/Stop) or clean exit, not a crash
	}

	s.logger.Error("agent worker crashed",
		zap.String("worker_id", w.id),
		zap.String("agent_type", w.agentType),
		zap.Error(err))

	if !w.manifest.RestartOnCrash {
		return
	}

	select {
	case <-s.stopCh:
		return
	default:
	}

	backoff := time.Duration(w.restarts+1) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	time.Sleep(backoff)

	if _, err := s.spawnWorker(context.Background(), w.agentType, w.manifest, w.args, w.restarts+1); err != nil {
		s.logger.Error("failed to restart crashed worker",
			zap.String("worker_id", w.id), zap.Error(err))
	}
}

// Unload implements the agent-initiated half of §4.7's idle-unload
// contract: the Agent Runtime fires Config.OnIdleUnload, which calls back
// here to cancel the worker's context, ending the connection gracefully.
func (s *Supervisor) Unload(workerID string) {
	s.mu.Lock()
	w, ok := s.workers[workerID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.logger.Info("unloading idle agent worker", zap.String("worker_id", workerID))
	w.cancel()
}

// reap is the cron job: it is a no-op over the registry today (workers
// remove themselves from the map in run on exit) but gives the scheduled
// sweep a home for future liveness checks (e.g. stuck-worker detection)
// without changing Spawn/Unload's synchronous contract.
func (s *Supervisor) reap() {
	s.mu.Lock()
	n := len(s.workers)
	s.mu.Unlock()
	s.logger.Debug("supervisor reaper sweep", zap.Int("active_workers", n))
}

// Workers lists the currently tracked worker ids. The admin surface serves
// only the gRPC health service, so nothing in cmd/parleyd calls this.
func (s *Supervisor) Workers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for id := range s.workers {
		out = append(out, id)
	}
	return out
}
