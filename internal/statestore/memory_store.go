package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/wayne930242/discord-agents/internal/domain"
)

// MemoryStore is an in-process Store implementation used by tests that do
// not need a real Redis instance.
type MemoryStore struct {
	mu sync.Mutex

	states  map[string]domain.BotState
	inits   map[string]domain.InitConfig
	agents  map[string]domain.AgentConfig
	history map[string][]HistoryEntry
	session map[string]map[string]string

	startingLocked map[string]bool
	stoppingLocked map[string]bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:         make(map[string]domain.BotState),
		inits:          make(map[string]domain.InitConfig),
		agents:         make(map[string]domain.AgentConfig),
		history:        make(map[string][]HistoryEntry),
		session:        make(map[string]map[string]string),
		startingLocked: make(map[string]bool),
		stoppingLocked: make(map[string]bool),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetState(_ context.Context, botID string) domain.BotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[botID]
	if !ok || !st.IsValid() {
		return domain.StateIdle
	}
	return st
}

func (s *MemoryStore) SetState(_ context.Context, botID string, state domain.BotState) error {
	if !state.IsValid() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[botID] = state
	return nil
}

func (s *MemoryStore) MarkShouldStart(_ context.Context, botID string, init domain.InitConfig, agent domain.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits[botID] = init
	s.agents[botID] = agent
	s.states[botID] = domain.StateShouldStart
	return nil
}

func (s *MemoryStore) MarkShouldStop(_ context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[botID] = domain.StateShouldStop
	return nil
}

func (s *MemoryStore) MarkShouldRestart(_ context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[botID] = domain.StateShouldRestart
	return nil
}

func (s *MemoryStore) ClearConfig(_ context.Context, botID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inits, botID)
	delete(s.agents, botID)
	delete(s.startingLocked, botID)
	delete(s.stoppingLocked, botID)
	return nil
}

func (s *MemoryStore) TryStart(_ context.Context, botID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startingLocked[botID] {
		return false, nil
	}
	s.startingLocked[botID] = true
	defer func() { s.startingLocked[botID] = false }()

	if s.states[botID] != domain.StateShouldStart {
		return false, nil
	}
	s.states[botID] = domain.StateStarting
	return true, nil
}

func (s *MemoryStore) TryStop(_ context.Context, botID string) (TryStopResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stoppingLocked[botID] {
		return TryStopNone, nil
	}
	s.stoppingLocked[botID] = true
	defer func() { s.stoppingLocked[botID] = false }()

	switch s.states[botID] {
	case domain.StateShouldStop:
		s.states[botID] = domain.StateStopping
		return TryStopToIdle, nil
	case domain.StateShouldRestart:
		s.states[botID] = domain.StateStarting
		return TryStopToRestart, nil
	default:
		return TryStopNone, nil
	}
}

func (s *MemoryStore) LoadInitConfig(_ context.Context, botID string) (domain.InitConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.inits[botID]
	return cfg, ok, nil
}

func (s *MemoryStore) LoadAgentConfig(_ context.Context, botID string) (domain.AgentConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.agents[botID]
	return cfg, ok, nil
}

func (s *MemoryStore) ListAllBots(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	for id := range s.states {
		seen[id] = struct{}{}
	}
	for id := range s.inits {
		seen[id] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *MemoryStore) ResetAll(ctx context.Context) error {
	ids, _ := s.ListAllBots(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.states[id] = domain.StateIdle
		delete(s.inits, id)
		delete(s.agents, id)
		delete(s.startingLocked, id)
		delete(s.stoppingLocked, id)
	}
	return nil
}

func (s *MemoryStore) RecordHistory(_ context.Context, model string, tokens int, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[model] = append(s.history[model], HistoryEntry{Tokens: tokens, RecordedAt: time.Now().UTC()})
	s.pruneLocked(model, interval)
	return nil
}

func (s *MemoryStore) WindowTokens(_ context.Context, model string, interval time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(model, interval)
	total := 0
	for _, e := range s.history[model] {
		total += e.Tokens
	}
	return total, nil
}

func (s *MemoryStore) pruneLocked(model string, interval time.Duration) {
	cutoff := time.Now().UTC().Add(-interval)
	kept := s.history[model][:0]
	for _, e := range s.history[model] {
		if e.RecordedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.history[model] = kept
}

func (s *MemoryStore) SetSessionData(_ context.Context, sessionID string, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	s.session[sessionID] = copied
	return nil
}

func (s *MemoryStore) GetSessionData(_ context.Context, sessionID string) (map[string]string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.session[sessionID]
	return data, ok, nil
}

func (s *MemoryStore) ClearSessionData(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.session, sessionID)
	return nil
}

var _ Store = (*MemoryStore)(nil)
