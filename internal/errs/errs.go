// Package errs defines the error kinds surfaced across the core, grounded
// on the propagation policy in the lifecycle/router/adaptor design.
package errs

import "errors"

var (
	// ErrConfigError covers invalid tokens, unknown tool/model names, and
	// malformed config blobs. Fatal to the affected bot.
	ErrConfigError = errors.New("config error")

	// ErrStateStoreError is transient; callers log and continue.
	ErrStateStoreError = errors.New("state store error")

	// ErrLockContention is the kind for a tryStart/tryStop call that cannot
	// acquire its lock. The state stores do not return it: on contention
	// TryStart reports false and TryStop reports TryStopNone, with a nil
	// error.
	ErrLockContention = errors.New("lock contention")

	// ErrChatServiceError indicates the chat-service connection was lost.
	ErrChatServiceError = errors.New("chat service error")

	// ErrRouterSaturated is returned when a new key cannot be admitted and
	// no idle queue was evictable.
	ErrRouterSaturated = errors.New("router saturated")

	// ErrChannelBacklogged is returned when a key's queue stayed full for
	// the full bounded wait.
	ErrChannelBacklogged = errors.New("channel backlogged")

	// ErrAgentRunError covers generic engine-side run failures.
	ErrAgentRunError = errors.New("agent run error")

	// ErrEngineTimeout covers a bounded-timeout expiry while waiting on the
	// agent engine.
	ErrEngineTimeout = errors.New("agent engine timeout")

	// ErrRateLimited is returned when a request would exceed a model's
	// token budget and the model's policy is "reject" rather than "defer".
	ErrRateLimited = errors.New("rate limited")

	// ErrRouterClosed is returned by enqueue after shutdown has started.
	ErrRouterClosed = errors.New("router closed")

	// ErrPermissionDenied is the kind for a command that requires an
	// administrative role the caller does not hold. The clear_sessions
	// handler reports this case as a chat reply and does not return it.
	ErrPermissionDenied = errors.New("permission denied")
)
