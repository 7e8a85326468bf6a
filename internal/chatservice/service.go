// Package chatservice defines the chat-service interface consumed by the
// Bot Worker and a discordgo-backed implementation.
package chatservice

import (
	"context"
	"strings"
)

// Author describes the sender of an inbound message.
type Author struct {
	UserID  string
	IsBot   bool
	IsAdmin bool
}

// InboundMessage is one chat-service event delivered to the Bot Worker.
type InboundMessage struct {
	ChannelID     string
	GuildID       string // empty for direct messages
	IsDirect      bool
	Content       string
	MentionedBot  bool
	Author        Author
}

// InboundHandler is invoked once per inbound message.
type InboundHandler func(ctx context.Context, msg InboundMessage)

// Service is the chat-service contract consumed by the Bot Worker:
// connect/disconnect the underlying transport, register the single
// inbound handler, and send text back to a channel.
type Service interface {
	Connect(ctx context.Context, credentialToken string, handler InboundHandler) error
	Disconnect(ctx context.Context) error
	SendMessage(ctx context.Context, channelID, content string) error
	// BotUserID returns the connected session's own user id, used to
	// recognize self-mentions without a round trip.
	BotUserID() string
	// IsGuildAdmin reports whether userID holds an administrative role in
	// guildID, used to gate the clear_sessions command's cross-conversation
	// target form.
	IsGuildAdmin(ctx context.Context, guildID, userID string) (bool, error)
}

// StripMention removes a single leading mention of botUserID (either the
// plain <@id> or nickname <@!id> form) and any surrounding whitespace.
func StripMention(content, botUserID string) (stripped string, mentioned bool) {
	content = strings.TrimSpace(content)
	for _, form := range []string{"<@" + botUserID + ">", "<@!" + botUserID + ">"} {
		if strings.HasPrefix(content, form) {
			return strings.TrimSpace(strings.TrimPrefix(content, form)), true
		}
	}
	return content, false
}
