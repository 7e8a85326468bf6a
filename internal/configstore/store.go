// Package configstore implements a relational store holding bot/agent
// configuration rows.
package configstore

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/wayne930242/discord-agents/internal/domain"
)

// Store is the configuration store interface consumed by the reconciler.
type Store interface {
	LoadInitConfig(ctx context.Context, botID string) (domain.InitConfig, error)
	LoadAgentConfig(ctx context.Context, botID string) (domain.AgentConfig, error)
	ListBotIDs(ctx context.Context) ([]string, error)
	RecordFailure(ctx context.Context, botID string, message string) error
}

// BotRow is the gorm model backing one bot's durable configuration.
type BotRow struct {
	BotID           string `gorm:"primaryKey"`
	CredentialToken string
	CommandPrefix   string
	DMAllowlist     string // JSON-encoded []string
	ServerAllowlist string // JSON-encoded []string

	AppName                string
	Description             string
	RoleInstructions        string
	ToolInstructions        string
	ModelName               string
	ToolNames               string // JSON-encoded []string
	UserFunctionDisplayMap  string // JSON-encoded map[string]string
	FallbackErrorMessage    string
	UseFunctionMap          bool

	LastFailure string
}

func (BotRow) TableName() string { return "bots" }

// GormStore is the gorm-backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. Call Migrate to create the bots table if it does
// not exist yet.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates/updates the bots table's schema.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&BotRow{})
}

func (s *GormStore) loadRow(ctx context.Context, botID string) (BotRow, error) {
	var row BotRow
	if err := s.db.WithContext(ctx).First(&row, "bot_id = ?", botID).Error; err != nil {
		return BotRow{}, fmt.Errorf("load bot row %q: %w", botID, err)
	}
	return row, nil
}

func (s *GormStore) LoadInitConfig(ctx context.Context, botID string) (domain.InitConfig, error) {
	row, err := s.loadRow(ctx, botID)
	if err != nil {
		return domain.InitConfig{}, err
	}
	var dm, srv []string
	if err := json.Unmarshal([]byte(orEmptyArray(row.DMAllowlist)), &dm); err != nil {
		return domain.InitConfig{}, fmt.Errorf("unmarshal dm allowlist: %w", err)
	}
	if err := json.Unmarshal([]byte(orEmptyArray(row.ServerAllowlist)), &srv); err != nil {
		return domain.InitConfig{}, fmt.Errorf("unmarshal server allowlist: %w", err)
	}
	return domain.InitConfig{
		BotID:                  row.BotID,
		CredentialToken:        row.CredentialToken,
		CommandPrefix:          row.CommandPrefix,
		DirectMessageAllowlist: dm,
		ServerAllowlist:        srv,
	}, nil
}

func (s *GormStore) LoadAgentConfig(ctx context.Context, botID string) (domain.AgentConfig, error) {
	row, err := s.loadRow(ctx, botID)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	var tools []string
	if err := json.Unmarshal([]byte(orEmptyArray(row.ToolNames)), &tools); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("unmarshal tool names: %w", err)
	}
	var display map[string]string
	if err := json.Unmarshal([]byte(orEmptyObject(row.UserFunctionDisplayMap)), &display); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("unmarshal display map: %w", err)
	}
	return domain.AgentConfig{
		AppName:                row.AppName,
		Description:            row.Description,
		RoleInstructions:       row.RoleInstructions,
		ToolInstructions:       row.ToolInstructions,
		ModelName:              row.ModelName,
		ToolNames:              tools,
		UserFunctionDisplayMap: display,
		FallbackErrorMessage:   row.FallbackErrorMessage,
		UseFunctionMap:         row.UseFunctionMap,
	}, nil
}

func (s *GormStore) ListBotIDs(ctx context.Context) ([]string, error) {
	var rows []BotRow
	if err := s.db.WithContext(ctx).Select("bot_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list bot ids: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.BotID)
	}
	return ids, nil
}

func (s *GormStore) RecordFailure(ctx context.Context, botID string, message string) error {
	if err := s.db.WithContext(ctx).Model(&BotRow{}).Where("bot_id = ?", botID).Update("last_failure", message).Error; err != nil {
		return fmt.Errorf("record failure %q: %w", botID, err)
	}
	return nil
}

func orEmptyArray(raw string) string {
	if raw == "" {
		return "[]"
	}
	return raw
}

func orEmptyObject(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}

var _ Store = (*GormStore)(nil)
