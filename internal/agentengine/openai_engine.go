package agentengine

import (
	"context"
	"fmt"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/ids"
)

// OpenAIEngine implements Engine against an OpenAI-chat-completions
// compatible backend. Session state (message history) is held in-process,
// so this adapter is a reference implementation suitable for a
// single-process deployment rather than a durable session service.
type OpenAIEngine struct {
	client *openai.Client

	mu       sync.Mutex
	sessions map[domain.SessionId]*sessionRecord
	byKey    map[string][]domain.SessionId // "appName:userKey" -> session ids
}

type sessionRecord struct {
	appName string
	userKey string
	history []openai.ChatCompletionMessage
}

// NewOpenAIEngine builds an OpenAIEngine. baseURL may be empty to use the
// SDK's default (api.openai.com).
func NewOpenAIEngine(apiKey, baseURL string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEngine{
		client:   openai.NewClientWithConfig(cfg),
		sessions: make(map[domain.SessionId]*sessionRecord),
		byKey:    make(map[string][]domain.SessionId),
	}
}

func compositeKey(appName, userKey string) string {
	return appName + ":" + userKey
}

func (e *OpenAIEngine) CreateSession(_ context.Context, appName, userKey string) (domain.SessionId, error) {
	id := domain.SessionId(ids.New())

	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[id] = &sessionRecord{appName: appName, userKey: userKey}
	key := compositeKey(appName, userKey)
	e.byKey[key] = append(e.byKey[key], id)
	return id, nil
}

func (e *OpenAIEngine) ListSessions(_ context.Context, appName, userKey string) ([]domain.SessionId, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.byKey[compositeKey(appName, userKey)]
	out := make([]domain.SessionId, len(ids))
	copy(out, ids)
	return out, nil
}

func (e *OpenAIEngine) DeleteSession(_ context.Context, appName string, id domain.SessionId) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.sessions[id]
	if !ok {
		return nil
	}
	delete(e.sessions, id)
	key := compositeKey(rec.appName, rec.userKey)
	remaining := e.byKey[key][:0]
	for _, sid := range e.byKey[key] {
		if sid != id {
			remaining = append(remaining, sid)
		}
	}
	e.byKey[key] = remaining
	return nil
}

// Run streams a single-turn completion against modelName, synthesizing the
// partial/final event contract from the OpenAI SDK's chat-completion stream.
func (e *OpenAIEngine) Run(ctx context.Context, appName string, id domain.SessionId, userKey, message, modelName string) (<-chan Event, error) {
	e.mu.Lock()
	rec, ok := e.sessions[id]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %q", id)
	}

	rec.history = append(rec.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	events := make(chan Event, 8)
	go e.runStream(ctx, rec, modelName, events)
	return events, nil
}

func (e *OpenAIEngine) runStream(ctx context.Context, rec *sessionRecord, modelName string, events chan Event) {
	defer close(events)

	stream, err := e.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: rec.history,
		Stream:   true,
	})
	if err != nil {
		events <- Event{Err: fmt.Errorf("create chat completion stream: %w", err)}
		return
	}
	defer stream.Close()

	var full string
	for {
		resp, err := stream.Recv()
		if err != nil {
			break
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if len(choice.Delta.ToolCalls) > 0 {
			for _, call := range choice.Delta.ToolCalls {
				if call.Function.Name == "" {
					continue
				}
				events <- Event{Kind: EventFunctionCall, FunctionName: call.Function.Name}
			}
			continue
		}
		if choice.Delta.Content == "" {
			continue
		}
		full += choice.Delta.Content
		events <- Event{Kind: EventPartial, Text: choice.Delta.Content}
	}

	e.mu.Lock()
	rec.history = append(rec.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: full})
	e.mu.Unlock()

	events <- Event{Kind: EventFinal, Text: full}
}
