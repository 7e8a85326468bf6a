package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wayne930242/discord-agents/internal/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	store := NewGormStore(db)
	require.NoError(t, store.Migrate())
	return store
}

func TestLoadInitAndAgentConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	row := BotRow{
		BotID:                  "bot_1",
		CredentialToken:        "tok",
		CommandPrefix:          "!",
		DMAllowlist:            `["u1","u2"]`,
		ServerAllowlist:        `["g1"]`,
		AppName:                "app1",
		Description:            "desc",
		ModelName:              "gpt-4o-mini",
		ToolNames:              `["search"]`,
		UserFunctionDisplayMap: `{"search":"Searching..."}`,
		FallbackErrorMessage:   "oops",
		UseFunctionMap:         true,
	}
	require.NoError(t, store.db.Create(&row).Error)

	init, err := store.LoadInitConfig(ctx, "bot_1")
	require.NoError(t, err)
	require.Equal(t, domain.InitConfig{
		BotID:                  "bot_1",
		CredentialToken:        "tok",
		CommandPrefix:          "!",
		DirectMessageAllowlist: []string{"u1", "u2"},
		ServerAllowlist:        []string{"g1"},
	}, init)

	agent, err := store.LoadAgentConfig(ctx, "bot_1")
	require.NoError(t, err)
	require.Equal(t, "app1", agent.AppName)
	require.Equal(t, []string{"search"}, agent.ToolNames)
	require.Equal(t, "Searching...", agent.UserFunctionDisplayMap["search"])
	require.True(t, agent.UseFunctionMap)
}

func TestLoadConfigWithEmptyJSONColumnsDefaultsToEmptyCollections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.db.Create(&BotRow{BotID: "bot_2", AppName: "app2"}).Error)

	init, err := store.LoadInitConfig(ctx, "bot_2")
	require.NoError(t, err)
	require.Empty(t, init.DirectMessageAllowlist)
	require.Empty(t, init.ServerAllowlist)

	agent, err := store.LoadAgentConfig(ctx, "bot_2")
	require.NoError(t, err)
	require.Empty(t, agent.ToolNames)
	require.Empty(t, agent.UserFunctionDisplayMap)
}

func TestListBotIDsReturnsAllRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.db.Create(&BotRow{BotID: "bot_a"}).Error)
	require.NoError(t, store.db.Create(&BotRow{BotID: "bot_b"}).Error)

	ids, err := store.ListBotIDs(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"bot_a", "bot_b"}, ids)
}

func TestRecordFailureUpdatesLastFailureColumn(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.db.Create(&BotRow{BotID: "bot_c"}).Error)

	require.NoError(t, store.RecordFailure(ctx, "bot_c", "boom"))

	var row BotRow
	require.NoError(t, store.db.First(&row, "bot_id = ?", "bot_c").Error)
	require.Equal(t, "boom", row.LastFailure)
}

func TestLoadInitConfigForUnknownBotErrors(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadInitConfig(context.Background(), "missing")
	require.Error(t, err)
}
