package botworker

import (
	"context"
	"fmt"
	"strings"

	"github.com/wayne930242/discord-agents/internal/chatservice"
	"github.com/wayne930242/discord-agents/internal/domain"
)

const helpText = "Commands:\n" +
	"  <prefix>help - show this message\n" +
	"  <prefix>clear_sessions [channel_<id>|dm_<id>] - clear cached conversation " +
	"sessions for this conversation, or (administrators only) for another one"

const (
	msgNoPermission   = "you do not have permission to clear sessions for another conversation."
	msgClearError     = "error while clearing sessions, please try again later."
	msgNoSessionsZero = "no sessions found for this conversation."
)

// tryHandleCommand intercepts prefix-commands before they reach the
// agent-dispatch path. It returns true if msg was a recognized command
// (handled or rejected), false if it should fall through to the agent.
func (w *Worker) tryHandleCommand(ctx context.Context, msg chatservice.InboundMessage, key domain.ConversationKey, query string) bool {
	if !strings.HasPrefix(query, w.prefix) {
		return false
	}
	body := strings.TrimSpace(strings.TrimPrefix(query, w.prefix))
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "help":
		w.reply(ctx, msg.ChannelID, strings.ReplaceAll(helpText, "<prefix>", w.prefix))
		return true
	case "clear_sessions":
		var target string
		if len(fields) > 1 {
			target = fields[1]
		}
		w.handleClearSessions(ctx, msg, key, target)
		return true
	default:
		return false
	}
}

func (w *Worker) handleClearSessions(ctx context.Context, msg chatservice.InboundMessage, callerKey domain.ConversationKey, target string) {
	targetKey := callerKey
	crossConversation := false

	if target != "" {
		parsed, err := parseTargetKey(target)
		if err != nil {
			w.reply(ctx, msg.ChannelID, msgClearError)
			return
		}
		targetKey = parsed
		// The admin check guards access to another conversation's sessions,
		// not the literal presence of a target argument: a caller naming
		// their own conversation by its explicit channel_/dm_ form still
		// resolves to callerKey and needs no elevated permission.
		crossConversation = targetKey != callerKey
	}

	if crossConversation {
		if msg.GuildID == "" {
			w.reply(ctx, msg.ChannelID, msgNoPermission)
			return
		}
		isAdmin, err := w.chat.IsGuildAdmin(ctx, msg.GuildID, msg.Author.UserID)
		if err != nil || !isAdmin {
			w.reply(ctx, msg.ChannelID, msgNoPermission)
			return
		}
	}

	n, err := w.clearSessionsFor(ctx, targetKey)
	if err != nil {
		w.reply(ctx, msg.ChannelID, msgClearError)
		return
	}
	if n == 0 {
		w.reply(ctx, msg.ChannelID, msgNoSessionsZero)
		return
	}
	w.reply(ctx, msg.ChannelID, fmt.Sprintf("cleared %d session(s) for this conversation.", n))
}

// clearSessionsFor deletes every agent-engine session tied to key's user,
// clears the worker's local session cache entry, and clears the state
// store's session-data cache.
func (w *Worker) clearSessionsFor(ctx context.Context, key domain.ConversationKey) (int, error) {
	sessionIDs, err := w.engine.ListSessions(ctx, w.agent.AppName, string(key))
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	count := 0
	for _, id := range sessionIDs {
		if err := w.engine.DeleteSession(ctx, w.agent.AppName, id); err != nil {
			return count, fmt.Errorf("delete session %s: %w", id, err)
		}
		if err := w.store.ClearSessionData(ctx, string(id)); err != nil {
			return count, fmt.Errorf("clear session data %s: %w", id, err)
		}
		count++
	}

	w.mu.Lock()
	delete(w.sessions, key)
	w.mu.Unlock()

	return count, nil
}

func (w *Worker) reply(ctx context.Context, channelID, content string) {
	if err := w.chat.SendMessage(ctx, channelID, content); err != nil {
		w.logger.Printf("reply failed on channel %s: %v", channelID, err)
	}
}

// parseTargetKey turns "channel_<id>" / "dm_<id>" into a ConversationKey.
func parseTargetKey(target string) (domain.ConversationKey, error) {
	switch {
	case strings.HasPrefix(target, "channel_"):
		return domain.ChannelKey(strings.TrimPrefix(target, "channel_")), nil
	case strings.HasPrefix(target, "dm_"):
		return domain.DMKey(strings.TrimPrefix(target, "dm_")), nil
	default:
		return "", fmt.Errorf("unrecognized clear_sessions target %q", target)
	}
}
