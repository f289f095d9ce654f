package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ralph/internal/models"
)

// AlarmStore persists each actor's wake-up time so alarms survive restarts.
type AlarmStore struct {
	db *gorm.DB
}

func NewAlarmStore(db *gorm.DB) *AlarmStore {
	return &AlarmStore{db: db}
}

// Get returns the armed alarm for botID, or nil.
func (s *AlarmStore) Get(ctx context.Context, botID string) (*time.Time, error) {
	var st models.BotActorState
	err := s.db.WithContext(ctx).First(&st, "bot_id = ?", botID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if st.AlarmAt == nil {
		return nil, nil
	}
	at := st.AlarmAt.UTC()
	return &at, nil
}

func (s *AlarmStore) Set(ctx context.Context, botID string, at time.Time) error {
	ts := at.UTC()
	return s.upsert(ctx, &models.BotActorState{BotID: botID, AlarmAt: &ts})
}

func (s *AlarmStore) Delete(ctx context.Context, botID string) error {
	return s.upsert(ctx, &models.BotActorState{BotID: botID})
}

// ListArmed returns every actor state with an alarm set.
func (s *AlarmStore) ListArmed(ctx context.Context) ([]models.BotActorState, error) {
	var states []models.BotActorState
	err := s.db.WithContext(ctx).Where("alarm_at IS NOT NULL").Order("alarm_at asc").Find(&states).Error
	return states, err
}

func (s *AlarmStore) upsert(ctx context.Context, st *models.BotActorState) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bot_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"alarm_at", "updated_at"}),
	}).Create(st).Error
}
