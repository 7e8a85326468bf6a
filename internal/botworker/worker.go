// Package botworker implements connection lifecycle, admission control,
// command handling, session caching, and dispatch into the Channel Router
// for one bot.
package botworker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/wayne930242/discord-agents/internal/agentengine"
	"github.com/wayne930242/discord-agents/internal/agentrunner"
	"github.com/wayne930242/discord-agents/internal/chatservice"
	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/router"
	"github.com/wayne930242/discord-agents/internal/statestore"
)

const defaultCommandPrefix = "="

// Worker is one running bot's connection, admission control, and dispatch
// logic. It implements supervisor.WorkerTask.
type Worker struct {
	botID  string
	init   domain.InitConfig
	agent  domain.AgentConfig
	prefix string

	dmAllowlist  map[string]struct{}
	srvAllowlist map[string]struct{}

	chat    chatservice.Service
	engine  agentengine.Engine
	store   statestore.Store
	runner  *agentrunner.Adaptor
	router  *router.Router
	logger  *log.Logger

	mu       sync.Mutex
	sessions map[domain.ConversationKey]domain.SessionId
}

// Options carries the global allowlist seeds merged into every bot's own
// allowlists.
type Options struct {
	GlobalDMAllowlist     []string
	GlobalServerAllowlist []string
}

// New builds a Worker for one bot. chat must be unconnected; Run connects it.
func New(
	botID string,
	init domain.InitConfig,
	agent domain.AgentConfig,
	opts Options,
	chat chatservice.Service,
	engine agentengine.Engine,
	store statestore.Store,
	runner *agentrunner.Adaptor,
	r *router.Router,
	logger *log.Logger,
) *Worker {
	if logger == nil {
		logger = log.New(log.Writer(), "botworker["+botID+"] ", log.LstdFlags)
	}
	prefix := init.CommandPrefix
	if prefix == "" {
		prefix = defaultCommandPrefix
	}

	return &Worker{
		botID:        botID,
		init:         init,
		agent:        agent,
		prefix:       prefix,
		dmAllowlist:  toSet(init.DirectMessageAllowlist, opts.GlobalDMAllowlist),
		srvAllowlist: toSet(init.ServerAllowlist, opts.GlobalServerAllowlist),
		chat:         chat,
		engine:       engine,
		store:        store,
		runner:       runner,
		router:       r,
		logger:       logger,
		sessions:     make(map[domain.ConversationKey]domain.SessionId),
	}
}

func toSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, id := range list {
			id = strings.TrimSpace(id)
			if id != "" {
				set[id] = struct{}{}
			}
		}
	}
	return set
}

// Run connects the chat service and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, ready chan<- error) error {
	err := w.chat.Connect(ctx, w.init.CredentialToken, w.handleInbound)
	ready <- err
	if err != nil {
		return fmt.Errorf("connect chat service: %w", err)
	}

	<-ctx.Done()
	return nil
}

// Stop disconnects the chat service.
func (w *Worker) Stop(ctx context.Context) error {
	return w.chat.Disconnect(ctx)
}

func (w *Worker) handleInbound(ctx context.Context, msg chatservice.InboundMessage) {
	if msg.Author.IsBot {
		return
	}

	if msg.IsDirect {
		if !w.allowed(w.dmAllowlist, msg.Author.UserID) {
			return
		}
		query := strings.TrimSpace(msg.Content)
		w.dispatch(ctx, msg, domain.DMKey(msg.Author.UserID), query)
		return
	}

	if !w.allowed(w.srvAllowlist, msg.GuildID) {
		return
	}

	key := domain.ChannelKey(msg.ChannelID)

	// Prefix-commands are handled regardless of mention, matching the
	// command extension's independent dispatch from the AI reply path.
	trimmed := strings.TrimSpace(msg.Content)
	if strings.HasPrefix(trimmed, w.prefix) {
		w.dispatch(ctx, msg, key, trimmed)
		return
	}

	if !msg.MentionedBot {
		return
	}
	query, _ := chatservice.StripMention(msg.Content, w.chat.BotUserID())
	if query == "" {
		return
	}
	w.dispatch(ctx, msg, key, query)
}

func (w *Worker) allowed(allowlist map[string]struct{}, id string) bool {
	if len(allowlist) == 0 {
		return true
	}
	_, ok := allowlist[id]
	return ok
}

func (w *Worker) dispatch(ctx context.Context, msg chatservice.InboundMessage, key domain.ConversationKey, query string) {
	if handled := w.tryHandleCommand(ctx, msg, key, query); handled {
		return
	}

	payload := turnPayload{msg: msg, key: key, query: query}
	if err := w.router.Enqueue(ctx, key, payload, w.handleTurn); err != nil {
		w.logger.Printf("enqueue failed for %s: %v", key, err)
	}
}

type turnPayload struct {
	msg   chatservice.InboundMessage
	key   domain.ConversationKey
	query string
}

func (w *Worker) handleTurn(ctx context.Context, payload any) error {
	p, ok := payload.(turnPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}

	sessionID, err := w.ensureSession(ctx, p.key)
	if err != nil {
		w.logger.Printf("ensure session for %s: %v", p.key, err)
		return w.chat.SendMessage(ctx, p.msg.ChannelID, w.agent.FallbackErrorMessage)
	}

	out, err := w.runner.Run(ctx, w.botID, sessionID, string(p.key), p.query, w.agent, false)
	if err != nil {
		w.logger.Printf("agent run failed for %s: %v", p.key, err)
		return w.chat.SendMessage(ctx, p.msg.ChannelID, w.agent.FallbackErrorMessage)
	}

	for chunk := range out {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := w.chat.SendMessage(ctx, p.msg.ChannelID, chunk); err != nil {
			w.logger.Printf("send message failed for %s: %v", p.key, err)
			return err
		}
	}
	return nil
}

func (w *Worker) ensureSession(ctx context.Context, key domain.ConversationKey) (domain.SessionId, error) {
	w.mu.Lock()
	id, ok := w.sessions[key]
	w.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := w.engine.CreateSession(ctx, w.agent.AppName, string(key))
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	w.mu.Lock()
	w.sessions[key] = id
	w.mu.Unlock()
	return id, nil
}
