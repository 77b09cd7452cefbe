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
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/kestrel-systems/parley/internal/broker"
	"github.com/kestrel-systems/parley/internal/config"
	"github.com/kestrel-systems/parley/internal/identity"
	"github.com/kestrel-systems/parley/internal/rpc"
	"github.com/kestrel-systems/parley/internal/session"
	"github.com/kestrel-systems/parley/internal/supervisor"
	"github.com/kestrel-systems/parley/internal/tools"
	"github.com/kestrel-systems/parley/internal/transport"
	"github.com/kestrel-systems/parley/pkg/observability"
	"github.com/kestrel-systems/parley/pkg/vendorsdk"
	"github.com/kestrel-systems/parley/pkg/vendorsdk/bedrock"
	"github.com/kestrel-systems/parley/pkg/vendorsdk/claude"
	"github.com/kestrel-systems/parley/pkg/vendorsdk/mock"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker, session store, RPC layer, and agent supervisor",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("parleyd: load config: %w", err)
	}

	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("parleyd: build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting parleyd", zap.String("version", rootCmd.Version), zap.String("data_dir", cfg.DataDir))

	tracer, err := buildTracer(cfg.Observability, logger)
	if err != nil {
		return fmt.Errorf("parleyd: build tracer: %w", err)
	}
	defer func() { _ = tracer.Flush(context.Background()) }()

	store, err := session.NewSQLiteStore(cfg.Broker.SessionDBPath)
	if err != nil {
		return fmt.Errorf("parleyd: open session store: %w", err)
	}

	brk := broker.New(broker.Config{
		ReplayWindow:         cfg.Broker.ReplayWindow,
		RosterCoalesceWindow: cfg.Broker.RosterCoalesceWindow,
		MaxFrameBytes:        cfg.Server.MaxFrameBytes,
	}, logger, tracer, store)

	router := rpc.New(brk, logger)
	brk.WithFrameHandler(router.Handle)
	rpc.WatchDisconnects(router, brk.OnLeave())

	providers := newProviderFactory(cfg.Vendor)

	sv := supervisor.New(supervisor.Config{
		Dial:         inProcessDialer(brk),
		Providers:    providers,
		Tools:        newToolsFactory(brk, router, store),
		Store:        store,
		Logger:       logger,
		MaxWorkers:   cfg.Supervisor.MaxWorkers,
		ReaperPeriod: time.Second,
	})
	sv.RegisterManifest(supervisor.AgentManifest{
		AgentType:      cfg.Vendor.Provider,
		RestartOnCrash: true,
		IdleGrace:      cfg.Supervisor.IdleUnloadGrace,
		ActivityGrace:  cfg.Supervisor.ActivityGrace,
	})
	if err := sv.Start(); err != nil {
		return fmt.Errorf("parleyd: start supervisor: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		t, err := transport.Accept(w, r, cfg.Server.MaxFrameBytes)
		if err != nil {
			logger.Warn("websocket accept failed", zap.Error(err))
			return
		}
		if err := brk.Serve(r.Context(), t); err != nil {
			logger.Debug("connection ended", zap.Error(err))
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	if cfg.Server.EnableReflection {
		reflection.Register(grpcServer)
	}
	adminAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.AdminPort)
	adminLis, err := net.Listen("tcp", adminAddr)
	if err != nil {
		return fmt.Errorf("parleyd: listen admin %s: %w", adminAddr, err)
	}

	go func() {
		logger.Info("websocket listener starting", zap.String("address", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket listener failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("admin gRPC listener starting", zap.String("address", adminAddr))
		if err := grpcServer.Serve(adminLis); err != nil {
			logger.Error("admin gRPC server failed", zap.Error(err))
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	logger.Info("shutting down gracefully (press Ctrl+C again to force)")

	go func() {
		<-sigch
		logger.Warn("force shutdown requested")
		os.Exit(1)
	}()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sv.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping supervisor", zap.Error(err))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping websocket listener", zap.Error(err))
	}
	if err := brk.Close(); err != nil {
		logger.Warn("error closing broker", zap.Error(err))
	}

	done := make(chan struct{})
	go func() { grpcServer.GracefulStop(); close(done) }()
	select {
	case <-done:
		logger.Info("admin gRPC server stopped gracefully")
	case <-time.After(10 * time.Second):
		logger.Warn("admin gRPC graceful stop timed out, forcing shutdown")
		grpcServer.Stop()
	}

	logger.Info("shutdown complete")
	return nil
}

func buildLogger() (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return zapCfg.Build(zap.AddStacktrace(zap.ErrorLevel))
}

func buildTracer(cfg config.ObservabilityConfig, logger *zap.Logger) (observability.Tracer, error) {
	if cfg.TracerMode == "noop" {
		return observability.NewNoOpTracer(), nil
	}
	embCfg := observability.DefaultEmbeddedConfig()
	if cfg.MaxSpans > 0 {
		embCfg.MaxSpans = cfg.MaxSpans
	}
	embCfg.Logger = logger
	tracer, err := observability.NewEmbeddedTracer(embCfg)
	if err != nil {
		logger.Warn("falling back to noop tracer", zap.Error(err))
		return observability.NewNoOpTracer(), nil
	}
	return tracer, nil
}

// inProcessDialer gives every spawned worker a transport.NewPipe() pair: the
// server half is handed to broker.Serve in its own goroutine exactly the way
// a real websocket connection is, and the client half goes to the agent —
// grounded on the "agent connects as an ordinary participant" design note,
// avoiding a real network hop for in-process workers.
func inProcessDialer(brk *broker.Broker) supervisor.Dial {
	return func(ctx context.Context) (transport.Transport, error) {
		client, server := transport.NewPipe()
		go func() {
			if err := brk.Serve(context.Background(), server); err != nil {
				_ = err // the worker's run loop observes the same failure via its own transport
			}
		}()
		return client, nil
	}
}

// newToolsFactory builds the Tool Registry and approval Gate for a spawned
// worker once its ClientID is known (internal/agentrt.Agent.connect invokes
// this after admission), using the broker directly as roster source and the
// RPC router as caller.
func newToolsFactory(brk *broker.Broker, router *rpc.Router, store *session.SQLiteStore) supervisor.ToolsFactory {
	return func(args supervisor.StateArgs, self identity.ClientID) (*tools.Registry, *tools.Gate) {
		reg := tools.New(brk, router, self)
		gate := tools.NewGate(router, store, self, args.PanelID, identity.SessionKey{
			ChannelID:   args.Channel,
			IdentityKey: args.IdentityKey,
		}, args.Autonomy)
		return reg, gate
	}
}

// newProviderFactory selects a vendorsdk.Provider per agent type from the
// configured vendor binding. Agent types are currently 1:1 with the
// configured provider name; a richer mapping is future work once manifests
// carry their own per-type vendor overrides.
func newProviderFactory(cfg config.VendorConfig) supervisor.ProviderFactory {
	return func(agentType string) (vendorsdk.Provider, error) {
		switch cfg.Provider {
		case "claude":
			return claude.NewProvider(claude.Config{
				APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
				Model:       cfg.AnthropicModel,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
				Timeout:     cfg.TurnWatchdog,
			}), nil
		case "bedrock":
			return bedrock.NewProvider(context.Background(), bedrock.Config{
				Region:      cfg.BedrockRegion,
				ModelID:     cfg.BedrockModelID,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			})
		case "mock":
			return &mock.Provider{Script: []mock.Turn{{Text: "mock provider: no script configured"}}}, nil
		default:
			return nil, fmt.Errorf("parleyd: unknown vendor provider %q", cfg.Provider)
		}
	}
}
