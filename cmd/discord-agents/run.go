package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wayne930242/discord-agents/internal/agentengine"
	"github.com/wayne930242/discord-agents/internal/agentrunner"
	"github.com/wayne930242/discord-agents/internal/botworker"
	"github.com/wayne930242/discord-agents/internal/chatservice"
	"github.com/wayne930242/discord-agents/internal/config"
	"github.com/wayne930242/discord-agents/internal/configstore"
	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/modelcatalog"
	"github.com/wayne930242/discord-agents/internal/observability"
	"github.com/wayne930242/discord-agents/internal/reconciler"
	"github.com/wayne930242/discord-agents/internal/router"
	"github.com/wayne930242/discord-agents/internal/statestore"
	"github.com/wayne930242/discord-agents/internal/supervisor"
	"github.com/wayne930242/discord-agents/internal/usage"
)

const processVersion = "0.1.0"

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the reconciler, supervisor, and control-plane server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd.Context())
		},
	}
}

// routerRegistry tracks the live per-bot Router so the control-plane
// snapshot endpoint can resolve bot_id -> queue state without coupling
// observability to botworker/router directly.
type routerRegistry struct {
	mu      sync.Mutex
	routers map[string]*router.Router
}

func newRouterRegistry() *routerRegistry {
	return &routerRegistry{routers: make(map[string]*router.Router)}
}

func (r *routerRegistry) set(botID string, rt *router.Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routers[botID] = rt
}

func (r *routerRegistry) delete(botID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.routers, botID)
}

func (r *routerRegistry) lookup(botID string) (observability.RouterSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routers[botID]
	if !ok {
		return nil, false
	}
	return routerAdapter{rt}, true
}

type routerAdapter struct{ r *router.Router }

func (a routerAdapter) Snapshot() ([]observability.SnapshotEntry, int) {
	return a.r.ObservabilitySnapshot()
}

func runProcess(ctx context.Context) error {
	logger := log.New(os.Stdout, "discord-agents ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.ValidateOpenAIBaseURL(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}

	configStore := configstore.NewGormStore(db)
	if err := configStore.Migrate(); err != nil {
		return fmt.Errorf("migrate config store: %w", err)
	}
	usageSink := usage.NewGormSink(db)
	if err := usageSink.Migrate(); err != nil {
		return fmt.Errorf("migrate usage sink: %w", err)
	}

	store, err := statestore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL, logger)
	if err != nil {
		return fmt.Errorf("connect state store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("state store close error: %v", err)
		}
	}()

	if err := store.ResetAll(ctx); err != nil {
		logger.Printf("reset all bots: %v", err)
	}

	catalog := modelcatalog.Default()
	engine := agentengine.NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	runner := agentrunner.New(engine, store, usageSink, catalog, logger)

	registry := newRouterRegistry()

	rootCtx, cancelRoot := context.WithCancel(ctx)
	defer cancelRoot()

	newWorker := func(botID string, init domain.InitConfig, agent domain.AgentConfig) (supervisor.WorkerTask, error) {
		chat := chatservice.NewDiscordService()
		r := router.New(rootCtx, router.Config{
			MaxChannels:      cfg.MaxChannels,
			QueueCapacity:    cfg.QueueCapacity,
			BackpressureWait: cfg.BackpressureWait,
			Label:            botID,
		}, logger)
		registry.set(botID, r)

		opts := botworker.Options{
			GlobalDMAllowlist:     cfg.GlobalDMAllowlist,
			GlobalServerAllowlist: cfg.GlobalServerAllowlist,
		}
		return botworker.New(botID, init, agent, opts, chat, engine, store, runner, r, logger), nil
	}

	sup := supervisor.New(logger, func(botID string, err error) {
		registry.delete(botID)
		if err != nil {
			logger.Printf("worker %s exited: %v", botID, err)
		}
	})

	rec := reconciler.New(store, sup, configStore, newWorker, logger, reconciler.Options{
		Interval:     cfg.ReconcileInterval,
		ReadyTimeout: cfg.AgentTimeout,
		StopTimeout:  cfg.ChatSendTimeout,
	})
	if err := rec.Start(rootCtx); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}

	reg := prometheus.DefaultRegisterer
	observability.Register(reg)
	if _, err := observability.NewTracerProvider(ctx, "discord-agents", processVersion); err != nil {
		logger.Printf("tracer provider setup failed: %v", err)
	}

	checkers := []observability.Checker{
		{
			Name:     "state_store",
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := store.ListAllBots(ctx)
				return err
			},
		},
		{
			Name:     "config_store",
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := configStore.ListBotIDs(ctx)
				return err
			},
		},
	}

	srv := observability.NewServer(cfg.HTTPAddr, checkers, registry.lookup)
	go func() {
		logger.Printf("control-plane server listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control-plane server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Printf("shutting down")
	rec.Stop()
	cancelRoot()

	for _, botID := range sup.ListAll() {
		if err := sup.Remove(context.Background(), botID, cfg.ChatSendTimeout); err != nil {
			logger.Printf("stop worker %s: %v", botID, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("control-plane server shutdown error: %v", err)
	}

	return nil
}
