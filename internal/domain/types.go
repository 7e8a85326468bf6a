// Package domain holds the data-model types shared across the state
// store, the reconciler, the supervisor, the bot worker, and the agent
// runner adaptor: BotState, InitConfig, AgentConfig, ConversationKey,
// SessionId, and UsageRecord. Bot ids are plain strings.
package domain

import (
	"strings"
	"time"
)

// BotState is one of the recognized lifecycle states. The zero value is
// not a valid state; absent state reads resolve to StateIdle.
type BotState string

const (
	StateIdle          BotState = "idle"
	StateShouldStart   BotState = "should_start"
	StateStarting      BotState = "starting"
	StateRunning       BotState = "running"
	StateShouldStop    BotState = "should_stop"
	StateStopping      BotState = "stopping"
	StateShouldRestart BotState = "should_restart"
)

// ValidStates is the recognized set, used by SetState to validate writes.
var ValidStates = map[BotState]struct{}{
	StateIdle:          {},
	StateShouldStart:   {},
	StateStarting:      {},
	StateRunning:       {},
	StateShouldStop:    {},
	StateStopping:      {},
	StateShouldRestart: {},
}

// IsValid reports whether s is one of the recognized BotStates.
func (s BotState) IsValid() bool {
	_, ok := ValidStates[s]
	return ok
}

// InitConfig carries per-bot immutable-per-run parameters. Credentials are
// opaque to the core.
type InitConfig struct {
	BotID                  string   `json:"bot_id"`
	CredentialToken        string   `json:"credential_token"`
	CommandPrefix          string   `json:"command_prefix"`
	DirectMessageAllowlist []string `json:"direct_message_allowlist"`
	ServerAllowlist        []string `json:"server_allowlist"`
}

// AgentConfig carries per-bot agent parameters.
type AgentConfig struct {
	AppName                string            `json:"app_name"`
	Description            string            `json:"description"`
	RoleInstructions       string            `json:"role_instructions"`
	ToolInstructions       string            `json:"tool_instructions"`
	ModelName              string            `json:"model_name"`
	ToolNames              []string          `json:"tool_names"`
	UserFunctionDisplayMap map[string]string `json:"user_function_display_map"`
	FallbackErrorMessage   string            `json:"fallback_error_message"`
	UseFunctionMap         bool              `json:"use_function_map"`
}

// ConversationKey is the routing identity used to serialize messages:
// dm:<user_id> for direct messages, ch:<channel_id> for server channels.
type ConversationKey string

// DMKey builds the ConversationKey for a direct message from userID.
func DMKey(userID string) ConversationKey {
	return ConversationKey("dm:" + userID)
}

// ChannelKey builds the ConversationKey for a server channel message.
func ChannelKey(channelID string) ConversationKey {
	return ConversationKey("ch:" + channelID)
}

// IsDirectMessage reports whether the key was derived from a direct
// message conversation.
func (k ConversationKey) IsDirectMessage() bool {
	return strings.HasPrefix(string(k), "dm:")
}

// SessionId is an opaque identifier issued by the agent engine's session
// service.
type SessionId string

// UsageRecord is written once per completed agent run. Approximate
// reflects whether the token counts came from a known tokenizer or the
// documented word-count fallback.
type UsageRecord struct {
	AgentID      string
	AgentName    string
	ModelName    string
	Year         int
	Month        int
	InputTokens  int
	OutputTokens int
	Approximate  bool
	RecordedAt   time.Time
}
