package chatservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// DiscordService implements Service against a single discordgo Session.
// One instance is owned by exactly one Bot Worker; it is not shared
// across bots.
type DiscordService struct {
	mu      sync.Mutex
	session *discordgo.Session
}

// NewDiscordService returns an unconnected DiscordService.
func NewDiscordService() *DiscordService {
	return &DiscordService{}
}

func (d *DiscordService) Connect(ctx context.Context, credentialToken string, handler InboundHandler) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		return fmt.Errorf("discord service already connected")
	}

	session, err := discordgo.New(normalizeToken(credentialToken))
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m == nil || m.Message == nil || m.Author == nil {
			return
		}
		var selfID string
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		handler(context.Background(), toInboundMessage(m, selfID))
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	d.session = session
	return nil
}

func (d *DiscordService) Disconnect(_ context.Context) error {
	d.mu.Lock()
	session := d.session
	d.session = nil
	d.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

func (d *DiscordService) SendMessage(_ context.Context, channelID, content string) error {
	channelID = strings.TrimSpace(channelID)
	content = strings.TrimSpace(content)
	if channelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if content == "" {
		return nil
	}

	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return fmt.Errorf("discord service not connected")
	}

	_, err := session.ChannelMessageSend(channelID, content)
	if err != nil {
		return fmt.Errorf("send channel message: %w", err)
	}
	return nil
}

func (d *DiscordService) IsGuildAdmin(_ context.Context, guildID, userID string) (bool, error) {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return false, fmt.Errorf("discord service not connected")
	}

	member, err := session.GuildMember(guildID, userID)
	if err != nil {
		return false, fmt.Errorf("fetch guild member: %w", err)
	}
	for _, roleID := range member.Roles {
		role, err := session.State.Role(guildID, roleID)
		if err != nil {
			continue
		}
		if role.Permissions&discordgo.PermissionAdministrator != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (d *DiscordService) BotUserID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil || d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

func toInboundMessage(m *discordgo.MessageCreate, selfID string) InboundMessage {
	msg := InboundMessage{
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		IsDirect:  m.GuildID == "",
		Content:   m.Content,
		Author: Author{
			UserID: m.Author.ID,
			IsBot:  m.Author.Bot,
		},
	}
	if selfID != "" {
		for _, mention := range m.Mentions {
			if mention != nil && mention.ID == selfID {
				msg.MentionedBot = true
				break
			}
		}
	}
	return msg
}

func normalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(strings.ToLower(token), "bot ") {
		return token
	}
	return "Bot " + token
}
