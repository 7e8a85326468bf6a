// Package statestore implements the authoritative bot state registry, its
// config blobs, its distributed locks, and the rate-limit history ledger.
package statestore

import (
	"context"
	"time"

	"github.com/wayne930242/discord-agents/internal/domain"
)

// TryStopResult is the outcome of tryStop.
type TryStopResult string

const (
	TryStopNone     TryStopResult = "none"
	TryStopToIdle   TryStopResult = "to_idle"
	TryStopToRestart TryStopResult = "to_restart"
)

// HistoryEntry is one recorded query-token observation used for the
// per-model rate-limit window.
type HistoryEntry struct {
	Tokens     int
	RecordedAt time.Time
}

// Store is the State Store contract consumed by the reconciler, the bot
// worker, and the agent runner adaptor.
type Store interface {
	// GetState returns the bot's current state, or StateIdle if absent or
	// on a store error (fail-closed).
	GetState(ctx context.Context, botID string) domain.BotState

	// SetState validates s and writes it. An unrecognized state is not
	// written and yields a nil error (RedisStore logs it); a failed write
	// is returned as an error so the caller can decide whether to log.
	SetState(ctx context.Context, botID string, s domain.BotState) error

	// MarkShouldStart atomically writes both config blobs and sets state
	// to should_start.
	MarkShouldStart(ctx context.Context, botID string, init domain.InitConfig, agent domain.AgentConfig) error
	MarkShouldStop(ctx context.Context, botID string) error
	MarkShouldRestart(ctx context.Context, botID string) error
	ClearConfig(ctx context.Context, botID string) error

	// TryStart acquires the starting lock; if the state is should_start it
	// transitions to starting and returns true.
	TryStart(ctx context.Context, botID string) (bool, error)

	// TryStop acquires the stopping lock and applies the stop/restart
	// transition table: should_stop -> stopping (to_idle), should_restart
	// -> starting (to_restart), anything else is a no-op.
	TryStop(ctx context.Context, botID string) (TryStopResult, error)

	// LoadInitConfig / LoadAgentConfig read the config blobs written by
	// MarkShouldStart. ok is false if the blob is absent.
	LoadInitConfig(ctx context.Context, botID string) (domain.InitConfig, bool, error)
	LoadAgentConfig(ctx context.Context, botID string) (domain.AgentConfig, bool, error)

	// ListAllBots scans by the bot: prefix and deduplicates ids.
	ListAllBots(ctx context.Context) ([]string, error)

	// ResetAll sets every known bot to idle and deletes all config and
	// lock keys. Invoked once at process start.
	ResetAll(ctx context.Context) error

	// RecordHistory appends a token observation for model and prunes
	// entries older than interval.
	RecordHistory(ctx context.Context, model string, tokens int, interval time.Duration) error

	// WindowTokens sums token observations for model within interval of
	// now, pruning stale entries as a side effect.
	WindowTokens(ctx context.Context, model string, interval time.Duration) (int, error)

	// SetSessionData / GetSessionData / ClearSessionData manage the
	// generic per-session cache used by clear_sessions.
	SetSessionData(ctx context.Context, sessionID string, data map[string]string) error
	GetSessionData(ctx context.Context, sessionID string) (map[string]string, bool, error)
	ClearSessionData(ctx context.Context, sessionID string) error

	// Close releases underlying resources.
	Close() error
}
