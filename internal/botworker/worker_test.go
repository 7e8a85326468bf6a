package botworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wayne930242/discord-agents/internal/agentengine"
	"github.com/wayne930242/discord-agents/internal/agentrunner"
	"github.com/wayne930242/discord-agents/internal/chatservice"
	"github.com/wayne930242/discord-agents/internal/domain"
	"github.com/wayne930242/discord-agents/internal/modelcatalog"
	"github.com/wayne930242/discord-agents/internal/router"
	"github.com/wayne930242/discord-agents/internal/statestore"
)

type fakeChat struct {
	mu       sync.Mutex
	sent     []sentMessage
	botID    string
	admins   map[string]bool
}

type sentMessage struct {
	channelID string
	content   string
}

func (f *fakeChat) Connect(context.Context, string, chatservice.InboundHandler) error { return nil }
func (f *fakeChat) Disconnect(context.Context) error                                  { return nil }
func (f *fakeChat) BotUserID() string                                                  { return f.botID }

func (f *fakeChat) SendMessage(_ context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{channelID, content})
	return nil
}

func (f *fakeChat) IsGuildAdmin(_ context.Context, _, userID string) (bool, error) {
	return f.admins[userID], nil
}

func (f *fakeChat) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].content
}

func (f *fakeChat) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeEngine struct {
	mu       sync.Mutex
	sessions map[domain.SessionId]struct{ appName, userKey string }
	byKey    map[string][]domain.SessionId
	nextID   int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		sessions: make(map[domain.SessionId]struct{ appName, userKey string }),
		byKey:    make(map[string][]domain.SessionId),
	}
}

func (f *fakeEngine) CreateSession(_ context.Context, appName, userKey string) (domain.SessionId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := domain.SessionId("sess-" + string(rune('0'+f.nextID)))
	f.sessions[id] = struct{ appName, userKey string }{appName, userKey}
	key := appName + ":" + userKey
	f.byKey[key] = append(f.byKey[key], id)
	return id, nil
}

func (f *fakeEngine) ListSessions(_ context.Context, appName, userKey string) ([]domain.SessionId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := appName + ":" + userKey
	out := make([]domain.SessionId, len(f.byKey[key]))
	copy(out, f.byKey[key])
	return out, nil
}

func (f *fakeEngine) DeleteSession(_ context.Context, appName string, id domain.SessionId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.sessions[id]
	if !ok {
		return nil
	}
	delete(f.sessions, id)
	key := appName + ":" + rec.userKey
	remaining := f.byKey[key][:0]
	for _, sid := range f.byKey[key] {
		if sid != id {
			remaining = append(remaining, sid)
		}
	}
	f.byKey[key] = remaining
	return nil
}

func (f *fakeEngine) Run(_ context.Context, _ string, _ domain.SessionId, _, message, _ string) (<-chan agentengine.Event, error) {
	ch := make(chan agentengine.Event, 1)
	ch <- agentengine.Event{Kind: agentengine.EventFinal, Text: "echo: " + message}
	close(ch)
	return ch, nil
}

func testWorker(t *testing.T, init domain.InitConfig, opts Options) (*Worker, *fakeChat, *fakeEngine, *router.Router) {
	t.Helper()
	chat := &fakeChat{botID: "self-bot", admins: map[string]bool{}}
	engine := newFakeEngine()
	store := statestore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	catalog := modelcatalog.New([]modelcatalog.Spec{{Name: "gpt-4o-mini", Provider: "openai", Policy: modelcatalog.PolicyDefer}})
	runner := agentrunner.New(engine, store, nil, catalog, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := router.New(ctx, router.Config{}, nil)
	t.Cleanup(func() { r.Shutdown(time.Second) })

	agentCfg := domain.AgentConfig{AppName: "app", ModelName: "gpt-4o-mini", FallbackErrorMessage: "fallback"}
	w := New("bot-1", init, agentCfg, opts, chat, engine, store, runner, r, nil)
	return w, chat, engine, r
}

func TestBotAuthorMessagesAreIgnored(t *testing.T) {
	w, chat, _, _ := testWorker(t, domain.InitConfig{}, Options{})
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		IsDirect: true,
		Author:   chatservice.Author{UserID: "u1", IsBot: true},
		Content:  "hello",
	})
	if chat.sentCount() != 0 {
		t.Fatalf("expected no replies to a bot author, got %d", chat.sentCount())
	}
}

func TestDMAllowlistRejectsUnlistedUser(t *testing.T) {
	w, chat, _, r := testWorker(t, domain.InitConfig{DirectMessageAllowlist: []string{"allowed-user"}}, Options{})
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		IsDirect:  true,
		ChannelID: "dm-channel",
		Author:    chatservice.Author{UserID: "other-user"},
		Content:   "hello",
	})
	r.WaitAllIdle(context.Background())
	if chat.sentCount() != 0 {
		t.Fatalf("expected no replies for a non-allowlisted DM user, got %d", chat.sentCount())
	}
}

func TestDMAllowedUserGetsEchoedReply(t *testing.T) {
	w, chat, _, r := testWorker(t, domain.InitConfig{DirectMessageAllowlist: []string{"allowed-user"}}, Options{})
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		IsDirect:  true,
		ChannelID: "dm-channel",
		Author:    chatservice.Author{UserID: "allowed-user"},
		Content:   "hello",
	})
	if err := r.WaitAllIdle(context.Background()); err != nil {
		t.Fatalf("wait idle: %v", err)
	}
	if chat.lastSent() != "echo: hello" {
		t.Fatalf("expected echoed reply, got %q", chat.lastSent())
	}
}

func TestChannelMessageRequiresMention(t *testing.T) {
	w, chat, _, r := testWorker(t, domain.InitConfig{}, Options{})
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		GuildID:      "guild-1",
		ChannelID:    "chan-1",
		MentionedBot: false,
		Author:       chatservice.Author{UserID: "u1"},
		Content:      "hello",
	})
	r.WaitAllIdle(context.Background())
	if chat.sentCount() != 0 {
		t.Fatalf("expected no reply without a mention, got %d", chat.sentCount())
	}
}

func TestGlobalAllowlistMergesWithPerBotAllowlist(t *testing.T) {
	w, chat, _, r := testWorker(t, domain.InitConfig{DirectMessageAllowlist: []string{"local-user"}}, Options{GlobalDMAllowlist: []string{"global-user"}})
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		IsDirect:  true,
		ChannelID: "dm-channel",
		Author:    chatservice.Author{UserID: "global-user"},
		Content:   "hello",
	})
	r.WaitAllIdle(context.Background())
	if chat.lastSent() != "echo: hello" {
		t.Fatalf("expected globally-allowlisted user to be served, got %q", chat.lastSent())
	}
}

func TestHelpCommandRepliesWithoutDispatch(t *testing.T) {
	w, chat, _, _ := testWorker(t, domain.InitConfig{DirectMessageAllowlist: []string{"u1"}}, Options{})
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		IsDirect:  true,
		ChannelID: "dm-1",
		Author:    chatservice.Author{UserID: "u1"},
		Content:   "=help",
	})
	if chat.sentCount() != 1 {
		t.Fatalf("expected exactly one help reply, got %d", chat.sentCount())
	}
}

func TestClearSessionsOwnConversationReportsZeroThenCount(t *testing.T) {
	w, chat, _, r := testWorker(t, domain.InitConfig{DirectMessageAllowlist: []string{"u1"}}, Options{})
	ctx := context.Background()

	w.handleInbound(ctx, chatservice.InboundMessage{IsDirect: true, ChannelID: "dm-1", Author: chatservice.Author{UserID: "u1"}, Content: "=clear_sessions"})
	if chat.lastSent() != msgNoSessionsZero {
		t.Fatalf("expected zero-count message, got %q", chat.lastSent())
	}

	w.handleInbound(ctx, chatservice.InboundMessage{IsDirect: true, ChannelID: "dm-1", Author: chatservice.Author{UserID: "u1"}, Content: "hello"})
	r.WaitAllIdle(ctx)

	w.handleInbound(ctx, chatservice.InboundMessage{IsDirect: true, ChannelID: "dm-1", Author: chatservice.Author{UserID: "u1"}, Content: "=clear_sessions"})
	if chat.lastSent() != "cleared 1 session(s) for this conversation." {
		t.Fatalf("expected cleared-1 message, got %q", chat.lastSent())
	}
}

func TestClearSessionsCrossConversationRequiresAdmin(t *testing.T) {
	w, chat, _, _ := testWorker(t, domain.InitConfig{ServerAllowlist: []string{"guild-1"}}, Options{})
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		GuildID:   "guild-1",
		ChannelID: "chan-1",
		Author:    chatservice.Author{UserID: "regular-user"},
		Content:   "=clear_sessions channel_other",
	})
	if chat.lastSent() != msgNoPermission {
		t.Fatalf("expected permission-denied message, got %q", chat.lastSent())
	}
}

func TestClearSessionsCrossConversationAllowedForAdmin(t *testing.T) {
	w, chat, _, _ := testWorker(t, domain.InitConfig{ServerAllowlist: []string{"guild-1"}}, Options{})
	chat.admins["admin-user"] = true
	w.handleInbound(context.Background(), chatservice.InboundMessage{
		GuildID:   "guild-1",
		ChannelID: "chan-1",
		Author:    chatservice.Author{UserID: "admin-user"},
		Content:   "=clear_sessions channel_other",
	})
	if chat.lastSent() != msgNoSessionsZero {
		t.Fatalf("expected admin to pass the permission check and see zero-count, got %q", chat.lastSent())
	}
}
