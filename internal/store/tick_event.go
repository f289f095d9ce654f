package store

import (
	"context"

	"gorm.io/gorm"

	"ralph/internal/models"
	"ralph/pkg/utils"
)

type TickEventStore struct {
	db *gorm.DB
}

func NewTickEventStore(db *gorm.DB) *TickEventStore {
	return &TickEventStore{db: db}
}

func (s *TickEventStore) Insert(ctx context.Context, ev *models.BotTickEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

// ListByBot returns the bot's newest events first.
func (s *TickEventStore) ListByBot(ctx context.Context, botID string, limit int) ([]models.BotTickEvent, error) {
	var events []models.BotTickEvent
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("id desc").
		Limit(utils.ClampInt(limit, 1, 200)).
		Find(&events).Error
	return events, err
}
