package usage

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wayne930242/discord-agents/internal/domain"
)

// Row is the gorm model backing the usage table, aggregated by
// (agent_id, model_name, year, month) at write time.
type Row struct {
	ID           uint   `gorm:"primaryKey"`
	AgentID      string `gorm:"index:idx_usage_key,priority:1"`
	AgentName    string
	ModelName    string `gorm:"index:idx_usage_key,priority:2"`
	Year         int    `gorm:"index:idx_usage_key,priority:3"`
	Month        int    `gorm:"index:idx_usage_key,priority:4"`
	InputTokens  int
	OutputTokens int
	Approximate  bool
}

func (Row) TableName() string { return "token_usage" }

// GormSink is the gorm-backed Sink implementation.
type GormSink struct {
	db *gorm.DB
}

// NewGormSink wraps db. Call Migrate (as both the run and migrate
// commands do) to create the usage table if it does not exist yet.
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Migrate creates/updates the usage table's schema.
func (s *GormSink) Migrate() error {
	return s.db.AutoMigrate(&Row{})
}

// RecordUsage increments an existing (agent_id, model_name, year, month)
// row or creates one.
func (s *GormSink) RecordUsage(ctx context.Context, rec domain.UsageRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Row
		err := tx.Where("agent_id = ? AND model_name = ? AND year = ? AND month = ?",
			rec.AgentID, rec.ModelName, rec.Year, rec.Month).First(&row).Error

		if err == gorm.ErrRecordNotFound {
			row = Row{
				AgentID:      rec.AgentID,
				AgentName:    rec.AgentName,
				ModelName:    rec.ModelName,
				Year:         rec.Year,
				Month:        rec.Month,
				InputTokens:  rec.InputTokens,
				OutputTokens: rec.OutputTokens,
				Approximate:  rec.Approximate,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return fmt.Errorf("load usage row: %w", err)
		}

		row.InputTokens += rec.InputTokens
		row.OutputTokens += rec.OutputTokens
		row.Approximate = row.Approximate || rec.Approximate
		return tx.Save(&row).Error
	})
}

var _ Sink = (*GormSink)(nil)
