package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/statestore"
	"github.com/wayne930242/discord-agents/internal/supervisor"
)

type fakeTask struct {
	runBlock chan struct{}
}

func newFakeTask() *fakeTask { return &fakeTask{runBlock: make(chan struct{})} }

func (f *fakeTask) Run(ctx context.Context, ready chan<- error) error {
	ready <- nil
	select {
	case <-f.runBlock:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTask) Stop(ctx context.Context) error {
	close(f.runBlock)
	return nil
}

type fakeConfigLoader struct {
	inits  map[string]domain.InitConfig
	agents map[string]domain.AgentConfig
}

func (f *fakeConfigLoader) LoadInitConfig(ctx context.Context, botID string) (domain.InitConfig, error) {
	cfg, ok := f.inits[botID]
	if !ok {
		return domain.InitConfig{}, fmt.Errorf("not found")
	}
	return cfg, nil
}

func (f *fakeConfigLoader) LoadAgentConfig(ctx context.Context, botID string) (domain.AgentConfig, error) {
	cfg, ok := f.agents[botID]
	if !ok {
		return domain.AgentConfig{}, fmt.Errorf("not found")
	}
	return cfg, nil
}

func (f *fakeConfigLoader) RecordFailure(ctx context.Context, botID string, message string) error {
	return nil
}

func TestColdStart(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	sup := supervisor.New(nil, nil)

	var lastTask *fakeTask
	newWorker := func(botID string, init domain.InitConfig, agent domain.AgentConfig) (supervisor.WorkerTask, error) {
		lastTask = newFakeTask()
		return lastTask, nil
	}

	r := New(store, sup, nil, newWorker, nil, Options{})

	require.NoError(t, store.MarkShouldStart(ctx, "bot_1", domain.InitConfig{BotID: "bot_1"}, domain.AgentConfig{}))

	r.Tick(ctx)
	time.Sleep(20 * time.Millisecond) // allow awaitReady goroutine to settle

	state := store.GetState(ctx, "bot_1")
	assert.Contains(t, []domain.BotState{domain.StateStarting, domain.StateRunning}, state)
	_, present := sup.Get("bot_1")
	assert.True(t, present)
}

func TestRestartReusesStartStep(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	sup := supervisor.New(nil, nil)

	tasks := map[string]*fakeTask{}
	newWorker := func(botID string, init domain.InitConfig, agent domain.AgentConfig) (supervisor.WorkerTask, error) {
		task := newFakeTask()
		tasks[botID] = task
		return task, nil
	}
	loader := &fakeConfigLoader{
		inits:  map[string]domain.InitConfig{"bot_1": {BotID: "bot_1", CommandPrefix: "!"}},
		agents: map[string]domain.AgentConfig{"bot_1": {ModelName: "gpt-4o-mini"}},
	}

	r := New(store, sup, loader, newWorker, nil, Options{})

	require.NoError(t, store.MarkShouldStart(ctx, "bot_1", domain.InitConfig{BotID: "bot_1"}, domain.AgentConfig{}))
	r.Tick(ctx)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.SetState(ctx, "bot_1", domain.StateRunning))

	oldTask := tasks["bot_1"]
	require.NoError(t, store.MarkShouldRestart(ctx, "bot_1"))

	r.Tick(ctx)
	time.Sleep(20 * time.Millisecond)

	state := store.GetState(ctx, "bot_1")
	assert.Contains(t, []domain.BotState{domain.StateStarting, domain.StateRunning}, state)
	assert.NotSame(t, oldTask, tasks["bot_1"], "restart must produce a new runtime")
}

func TestStopToIdle(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	sup := supervisor.New(nil, nil)

	newWorker := func(botID string, init domain.InitConfig, agent domain.AgentConfig) (supervisor.WorkerTask, error) {
		return newFakeTask(), nil
	}
	r := New(store, sup, nil, newWorker, nil, Options{})

	require.NoError(t, store.MarkShouldStart(ctx, "bot_1", domain.InitConfig{BotID: "bot_1"}, domain.AgentConfig{}))
	r.Tick(ctx)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, store.SetState(ctx, "bot_1", domain.StateRunning))

	require.NoError(t, store.MarkShouldStop(ctx, "bot_1"))
	r.Tick(ctx)

	assert.Equal(t, domain.StateIdle, store.GetState(ctx, "bot_1"))
	_, present := sup.Get("bot_1")
	assert.False(t, present)
}

func TestAbsentConfigRevertsToIdle(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	sup := supervisor.New(nil, nil)

	newWorker := func(botID string, init domain.InitConfig, agent domain.AgentConfig) (supervisor.WorkerTask, error) {
		t.Fatal("newWorker should not be called without configs")
		return nil, nil
	}
	r := New(store, sup, nil, newWorker, nil, Options{})

	// Directly set should_start without writing config blobs.
	require.NoError(t, store.SetState(ctx, "bot_1", domain.StateShouldStart))

	r.Tick(ctx)

	assert.Equal(t, domain.StateIdle, store.GetState(ctx, "bot_1"))
}
