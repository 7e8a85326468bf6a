// Package reconciler implements a single stateless ticker loop that drives
// each bot from its current state toward its desired state. Each tick
// snapshots bot state under lock, releases the lock, then performs any
// start/stop I/O the snapshot calls for.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/observability"
	"github.com/wayne930242/discord-agents/internal/statestore"
	"github.com/wayne930242/discord-agents/internal/supervisor"
)

// ErrAlreadyStarted is returned by Start when the reconciler is already
// running.
var ErrAlreadyStarted = errors.New("reconciler already started")

// ConfigLoader is the subset of the external config store the reconciler
// needs to reload InitConfig/AgentConfig on a restart dispatch. Satisfied
// structurally by internal/configstore.Store.
type ConfigLoader interface {
	LoadInitConfig(ctx context.Context, botID string) (domain.InitConfig, error)
	LoadAgentConfig(ctx context.Context, botID string) (domain.AgentConfig, error)
	RecordFailure(ctx context.Context, botID string, message string) error
}

// WorkerFactory builds the WorkerTask for a bot from its freshly loaded
// configuration.
type WorkerFactory func(botID string, init domain.InitConfig, agent domain.AgentConfig) (supervisor.WorkerTask, error)

type ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func newRealTicker(d time.Duration) *realTicker { return &realTicker{t: time.NewTicker(d)} }
func (r *realTicker) Chan() <-chan time.Time     { return r.t.C }
func (r *realTicker) Stop()                      { r.t.Stop() }

// Reconciler drives bot state convergence on a fixed tick.
type Reconciler struct {
	store       statestore.Store
	supervisor  *supervisor.Supervisor
	configStore ConfigLoader
	newWorker   WorkerFactory
	logger      *log.Logger

	interval     time.Duration
	readyTimeout time.Duration
	stopTimeout  time.Duration

	tickerFactory func(time.Duration) ticker

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Options configures a Reconciler. Zero values fall back to the documented
// defaults (3s tick, 10s ready timeout, 10s stop timeout).
type Options struct {
	Interval     time.Duration
	ReadyTimeout time.Duration
	StopTimeout  time.Duration
}

// New constructs a Reconciler.
func New(store statestore.Store, sup *supervisor.Supervisor, configStore ConfigLoader, newWorker WorkerFactory, logger *log.Logger, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "reconciler ", log.LstdFlags)
	}
	return &Reconciler{
		store:        store,
		supervisor:   sup,
		configStore:  configStore,
		newWorker:    newWorker,
		logger:       logger,
		interval:     opts.Interval,
		readyTimeout: opts.ReadyTimeout,
		stopTimeout:  opts.StopTimeout,
		tickerFactory: func(d time.Duration) ticker {
			return newRealTicker(d)
		},
	}
}

// SetTickerFactory overrides the ticker construction, used by tests to
// drive ticks deterministically without real sleeps.
func (r *Reconciler) SetTickerFactory(factory func(time.Duration) ticker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickerFactory = factory
}

// Start runs the tick loop in a new goroutine.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	tk := r.tickerFactory(r.interval)
	r.running = true
	r.stopCh = stopCh
	r.doneCh = doneCh
	r.mu.Unlock()

	go r.run(ctx, tk, stopCh, doneCh)
	return nil
}

// Stop signals the tick loop to exit and waits for it to finish.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.running = false
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (r *Reconciler) run(ctx context.Context, tk ticker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-tk.Chan():
			r.Tick(ctx)
		}
	}
}

// Tick runs one reconciliation pass over every known bot id: stop step
// first (so should_restart demotes to starting before the start step
// below picks it back up), then start step.
func (r *Reconciler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { observability.ObserveReconcilerTick(time.Since(start)) }()

	ids, err := r.store.ListAllBots(ctx)
	if err != nil {
		r.logger.Printf("[reconciler] list bots: %v", err)
		return
	}

	for _, id := range ids {
		r.stopStep(ctx, id)
		r.startStep(ctx, id)
	}
}

func (r *Reconciler) stopStep(ctx context.Context, id string) {
	res, err := r.store.TryStop(ctx, id)
	if err != nil {
		r.logger.Printf("[reconciler] tryStop %s: %v", id, err)
		return
	}

	switch res {
	case statestore.TryStopNone:
		return
	case statestore.TryStopToIdle:
		r.removeAndSettle(ctx, id, domain.StateIdle)
	case statestore.TryStopToRestart:
		r.removeWorker(ctx, id)
		init, agent, err := r.reloadConfig(ctx, id)
		if err != nil {
			r.logger.Printf("[reconciler] reload config for restart %s: %v", id, err)
			_ = r.store.SetState(ctx, id, domain.StateIdle)
			return
		}
		if err := r.store.MarkShouldStart(ctx, id, init, agent); err != nil {
			r.logger.Printf("[reconciler] mark should_start for restart %s: %v", id, err)
		}
	}
}

func (r *Reconciler) startStep(ctx context.Context, id string) {
	ok, err := r.store.TryStart(ctx, id)
	if err != nil {
		r.logger.Printf("[reconciler] tryStart %s: %v", id, err)
		return
	}
	if !ok {
		return
	}

	init, initOK, err := r.store.LoadInitConfig(ctx, id)
	if err != nil {
		r.logger.Printf("[reconciler] load init config %s: %v", id, err)
		_ = r.store.SetState(ctx, id, domain.StateIdle)
		return
	}
	agent, agentOK, err := r.store.LoadAgentConfig(ctx, id)
	if err != nil {
		r.logger.Printf("[reconciler] load agent config %s: %v", id, err)
		_ = r.store.SetState(ctx, id, domain.StateIdle)
		return
	}
	if !initOK || !agentOK {
		r.logger.Printf("[reconciler] %s: configs absent after tryStart, reverting to idle", id)
		_ = r.store.SetState(ctx, id, domain.StateIdle)
		return
	}

	task, err := r.newWorker(id, init, agent)
	if err != nil {
		r.logger.Printf("[reconciler] build worker %s: %v", id, err)
		_ = r.store.SetState(ctx, id, domain.StateIdle)
		if r.configStore != nil {
			_ = r.configStore.RecordFailure(ctx, id, err.Error())
		}
		return
	}

	ready, err := r.supervisor.Add(id, task)
	if err != nil {
		r.logger.Printf("[reconciler] add worker %s: %v", id, err)
		return
	}

	go r.awaitReady(id, ready)
}

func (r *Reconciler) awaitReady(id string, ready <-chan error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.readyTimeout)
	defer cancel()

	select {
	case err := <-ready:
		if err != nil {
			r.logger.Printf("[reconciler] worker %s failed to start: %v", id, err)
			_ = r.store.SetState(ctx, id, domain.StateIdle)
			if r.configStore != nil {
				_ = r.configStore.RecordFailure(ctx, id, err.Error())
			}
			return
		}
		if err := r.store.SetState(ctx, id, domain.StateRunning); err != nil {
			r.logger.Printf("[reconciler] set running %s: %v", id, err)
		} else {
			observability.RecordStateTransition(id, string(domain.StateRunning))
		}
	case <-ctx.Done():
		r.logger.Printf("[reconciler] worker %s did not report ready within %s", id, r.readyTimeout)
		_ = r.store.SetState(ctx, id, domain.StateIdle)
	}
}

func (r *Reconciler) removeAndSettle(ctx context.Context, id string, finalState domain.BotState) {
	r.removeWorker(ctx, id)
	if err := r.store.SetState(ctx, id, finalState); err != nil {
		r.logger.Printf("[reconciler] set state %s -> %s: %v", id, finalState, err)
	} else {
		observability.RecordStateTransition(id, string(finalState))
	}
}

func (r *Reconciler) removeWorker(ctx context.Context, id string) {
	if _, ok := r.supervisor.Get(id); !ok {
		return
	}
	if err := r.supervisor.Remove(ctx, id, r.stopTimeout); err != nil {
		r.logger.Printf("[reconciler] remove worker %s: %v", id, err)
	}
}

func (r *Reconciler) reloadConfig(ctx context.Context, id string) (domain.InitConfig, domain.AgentConfig, error) {
	if r.configStore == nil {
		return domain.InitConfig{}, domain.AgentConfig{}, fmt.Errorf("no config store configured")
	}
	init, err := r.configStore.LoadInitConfig(ctx, id)
	if err != nil {
		return domain.InitConfig{}, domain.AgentConfig{}, fmt.Errorf("load init config: %w", err)
	}
	agent, err := r.configStore.LoadAgentConfig(ctx, id)
	if err != nil {
		return domain.InitConfig{}, domain.AgentConfig{}, fmt.Errorf("load agent config: %w", err)
	}
	return init, agent, nil
}
