// Package agentengine defines the agent engine interface consumed by the
// agent runner, plus a default OpenAI-chat-completions backed
// implementation. The OpenAI adapter synthesizes partial, function-call,
// and final events (plus an error event on a failed request) from the
// SDK's native request/response streaming shape; it emits no
// function-response or escalation events.
package agentengine

import (
	"context"

	"github.com/wayne930242/discord-agents/internal/domain"
)

// EventKind classifies one emitted event from Run's stream.
type EventKind string

const (
	EventPartial         EventKind = "partial"
	EventFunctionCall     EventKind = "function_call"
	EventFunctionResponse EventKind = "function_response"
	EventFinal            EventKind = "final"
	EventEscalation       EventKind = "escalation"
)

// Event is one unit on the stream Run returns.
type Event struct {
	Kind EventKind

	// Text carries the partial or final text payload.
	Text string

	// FunctionName carries the called function's name for
	// EventFunctionCall/EventFunctionResponse.
	FunctionName string

	// EscalationMessage carries the engine-provided message for
	// EventEscalation.
	EscalationMessage string

	// Err carries a non-nil error if the engine run failed outright rather
	// than completing normally or escalating.
	Err error
}

// Engine is the agent engine interface consumed by the core.
type Engine interface {
	CreateSession(ctx context.Context, appName, userKey string) (domain.SessionId, error)
	ListSessions(ctx context.Context, appName, userKey string) ([]domain.SessionId, error)
	DeleteSession(ctx context.Context, appName string, id domain.SessionId) error

	// Run attaches message to the session and streams classified events
	// from modelName. The returned channel is closed once a terminal event
	// (final, error, or escalation) has been sent.
	Run(ctx context.Context, appName string, id domain.SessionId, userKey, message, modelName string) (<-chan Event, error)
}
