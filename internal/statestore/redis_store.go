package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/wayne930242/discord-agents/internal/domain"
)

// RedisStore is the Redis-backed Store implementation. Reads and writes are
// pipelined where possible, and a missing key (redis.Nil) is treated as the
// store's own "unknown" sentinel rather than propagated as an error.
type RedisStore struct {
	client  *redis.Client
	rs      *redsync.Redsync
	lockTTL time.Duration
	logger  *log.Logger
}

// NewRedisStore dials addr and verifies connectivity with a Ping.
func NewRedisStore(addr, password string, db int, lockTTL time.Duration, logger *log.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "statestore ", log.LstdFlags)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	pool := redsyncredis.NewPool(client)
	return &RedisStore{
		client:  client,
		rs:      redsync.New(pool),
		lockTTL: lockTTL,
		logger:  logger,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetState(ctx context.Context, botID string) domain.BotState {
	val, err := s.client.Get(ctx, stateKey(botID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Printf("[state store] get state %s: %v", botID, err)
		}
		return domain.StateIdle
	}
	st := domain.BotState(val)
	if !st.IsValid() {
		return domain.StateIdle
	}
	return st
}

func (s *RedisStore) SetState(ctx context.Context, botID string, state domain.BotState) error {
	if !state.IsValid() {
		s.logger.Printf("[state store] set state %s: unrecognized state %q, ignoring", botID, state)
		return nil
	}
	if err := s.client.Set(ctx, stateKey(botID), string(state), 0).Err(); err != nil {
		s.logger.Printf("[state store] set state %s: %v", botID, err)
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkShouldStart(ctx context.Context, botID string, init domain.InitConfig, agent domain.AgentConfig) error {
	initJSON, err := json.Marshal(init)
	if err != nil {
		return fmt.Errorf("marshal init config: %w", err)
	}
	agentJSON, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, initConfigKey(botID), initJSON, 0)
	pipe.Set(ctx, agentConfigKey(botID), agentJSON, 0)
	pipe.Set(ctx, stateKey(botID), string(domain.StateShouldStart), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark should_start: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkShouldStop(ctx context.Context, botID string) error {
	return s.SetState(ctx, botID, domain.StateShouldStop)
}

func (s *RedisStore) MarkShouldRestart(ctx context.Context, botID string) error {
	return s.SetState(ctx, botID, domain.StateShouldRestart)
}

func (s *RedisStore) ClearConfig(ctx context.Context, botID string) error {
	if err := s.client.Del(ctx, initConfigKey(botID), agentConfigKey(botID), lockStartingKey(botID), lockStoppingKey(botID)).Err(); err != nil {
		return fmt.Errorf("clear config: %w", err)
	}
	return nil
}

func (s *RedisStore) TryStart(ctx context.Context, botID string) (bool, error) {
	mu := s.rs.NewMutex(lockStartingKey(botID), redsync.WithExpiry(s.lockTTL))
	if err := mu.LockContext(ctx); err != nil {
		return false, nil // lock contention is not an error condition to the caller
	}
	defer func() { _, _ = mu.UnlockContext(ctx) }()

	current := s.GetState(ctx, botID)
	if current != domain.StateShouldStart {
		return false, nil
	}
	if err := s.SetState(ctx, botID, domain.StateStarting); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) TryStop(ctx context.Context, botID string) (TryStopResult, error) {
	mu := s.rs.NewMutex(lockStoppingKey(botID), redsync.WithExpiry(s.lockTTL))
	if err := mu.LockContext(ctx); err != nil {
		return TryStopNone, nil
	}
	defer func() { _, _ = mu.UnlockContext(ctx) }()

	current := s.GetState(ctx, botID)
	switch current {
	case domain.StateShouldStop:
		if err := s.SetState(ctx, botID, domain.StateStopping); err != nil {
			return TryStopNone, err
		}
		return TryStopToIdle, nil
	case domain.StateShouldRestart:
		if err := s.SetState(ctx, botID, domain.StateStarting); err != nil {
			return TryStopNone, err
		}
		return TryStopToRestart, nil
	default:
		return TryStopNone, nil
	}
}

func (s *RedisStore) LoadInitConfig(ctx context.Context, botID string) (domain.InitConfig, bool, error) {
	var cfg domain.InitConfig
	raw, err := s.client.Get(ctx, initConfigKey(botID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("load init config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, false, fmt.Errorf("unmarshal init config: %w", err)
	}
	return cfg, true, nil
}

func (s *RedisStore) LoadAgentConfig(ctx context.Context, botID string) (domain.AgentConfig, bool, error) {
	var cfg domain.AgentConfig
	raw, err := s.client.Get(ctx, agentConfigKey(botID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("load agent config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, false, fmt.Errorf("unmarshal agent config: %w", err)
	}
	return cfg, true, nil
}

func (s *RedisStore) ListAllBots(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, botPrefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan bots: %w", err)
		}
		for _, k := range keys {
			parts := strings.Split(k, ":")
			if len(parts) < 2 {
				continue
			}
			seen[parts[1]] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) ResetAll(ctx context.Context) error {
	ids, err := s.ListAllBots(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.SetState(ctx, id, domain.StateIdle); err != nil {
			s.logger.Printf("[state store] reset %s: %v", id, err)
		}
		if err := s.ClearConfig(ctx, id); err != nil {
			s.logger.Printf("[state store] reset clear config %s: %v", id, err)
		}
	}
	return nil
}

func (s *RedisStore) RecordHistory(ctx context.Context, model string, tokens int, interval time.Duration) error {
	entry := fmt.Sprintf("%d:%d", tokens, time.Now().UTC().UnixNano())
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, historyKey(model), entry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	return s.pruneHistory(ctx, model, interval)
}

func (s *RedisStore) WindowTokens(ctx context.Context, model string, interval time.Duration) (int, error) {
	if err := s.pruneHistory(ctx, model, interval); err != nil {
		return 0, err
	}
	entries, err := s.client.LRange(ctx, historyKey(model), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("window tokens: %w", err)
	}
	total := 0
	for _, e := range entries {
		tokens, _, ok := parseHistoryEntry(e)
		if !ok {
			continue
		}
		total += tokens
	}
	return total, nil
}

func (s *RedisStore) pruneHistory(ctx context.Context, model string, interval time.Duration) error {
	entries, err := s.client.LRange(ctx, historyKey(model), 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("prune history read: %w", err)
	}
	cutoff := time.Now().UTC().Add(-interval)
	kept := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		_, recordedAt, ok := parseHistoryEntry(e)
		if !ok {
			continue
		}
		if recordedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, historyKey(model))
	if len(kept) > 0 {
		pipe.RPush(ctx, historyKey(model), kept...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("prune history write: %w", err)
	}
	return nil
}

func parseHistoryEntry(raw string) (tokens int, recordedAt time.Time, ok bool) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return 0, time.Time{}, false
	}
	tokens, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return tokens, time.Unix(0, nanos).UTC(), true
}

func (s *RedisStore) SetSessionData(ctx context.Context, sessionID string, data map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}
	if err := s.client.Set(ctx, sessionDataKey(sessionID), raw, 0).Err(); err != nil {
		return fmt.Errorf("set session data: %w", err)
	}
	return nil
}

func (s *RedisStore) GetSessionData(ctx context.Context, sessionID string) (map[string]string, bool, error) {
	raw, err := s.client.Get(ctx, sessionDataKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get session data: %w", err)
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("unmarshal session data: %w", err)
	}
	return data, true, nil
}

func (s *RedisStore) ClearSessionData(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionDataKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear session data: %w", err)
	}
	return nil
}
