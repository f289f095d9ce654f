package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ralph/internal/loopconfig"
	"ralph/internal/models"
	"ralph/internal/policy"
	"ralph/internal/strategy"
)

type LoopConfigStore struct {
	db             *gorm.DB
	enabledDefault bool
}

// NewLoopConfigStore returns a store whose missing configs report
// enabledDefault.
func NewLoopConfigStore(db *gorm.DB, enabledDefault bool) *LoopConfigStore {
	return &LoopConfigStore{db: db, enabledDefault: enabledDefault}
}

func (s *LoopConfigStore) Get(ctx context.Context, botID string) (loopconfig.LoopConfig, error) {
	return s.get(s.db.WithContext(ctx), botID)
}

// Update merges patch into the stored config and writes it back.
func (s *LoopConfigStore) Update(ctx context.Context, botID string, patch loopconfig.Patch, now time.Time) (loopconfig.LoopConfig, error) {
	var out loopconfig.LoopConfig
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.get(tx, botID)
		if err != nil {
			return err
		}
		out = loopconfig.Apply(current, patch, now)

		rec, err := toRecord(botID, out)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"enabled", "policy", "strategy", "updated_at"}),
		}).Create(rec).Error
	})
	return out, err
}

func (s *LoopConfigStore) get(db *gorm.DB, botID string) (loopconfig.LoopConfig, error) {
	var rec models.LoopConfigRecord
	err := db.First(&rec, "bot_id = ?", botID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return loopconfig.LoopConfig{Enabled: s.enabledDefault}, nil
	}
	if err != nil {
		return loopconfig.LoopConfig{}, err
	}
	return fromRecord(rec)
}

func toRecord(botID string, c loopconfig.LoopConfig) (*models.LoopConfigRecord, error) {
	rec := &models.LoopConfigRecord{BotID: botID, Enabled: c.Enabled}
	if c.UpdatedAt != nil {
		rec.UpdatedAt = *c.UpdatedAt
	}
	if c.Policy != nil {
		b, err := json.Marshal(c.Policy)
		if err != nil {
			return nil, fmt.Errorf("encode policy: %w", err)
		}
		rec.Policy = datatypes.JSON(b)
	}
	if c.Strategy != nil {
		b, err := json.Marshal(c.Strategy)
		if err != nil {
			return nil, fmt.Errorf("encode strategy: %w", err)
		}
		rec.Strategy = datatypes.JSON(b)
	}
	return rec, nil
}

func fromRecord(rec models.LoopConfigRecord) (loopconfig.LoopConfig, error) {
	c := loopconfig.LoopConfig{Enabled: rec.Enabled}
	if !rec.UpdatedAt.IsZero() {
		ts := rec.UpdatedAt.UTC()
		c.UpdatedAt = &ts
	}
	if len(rec.Policy) > 0 && string(rec.Policy) != "null" {
		var p policy.Policy
		if err := json.Unmarshal(rec.Policy, &p); err != nil {
			return c, fmt.Errorf("decode policy: %w", err)
		}
		c.Policy = &p
	}
	if len(rec.Strategy) > 0 && string(rec.Strategy) != "null" {
		var st strategy.Strategy
		if err := json.Unmarshal(rec.Strategy, &st); err != nil {
			return c, fmt.Errorf("decode strategy: %w", err)
		}
		c.Strategy = &st
	}
	return c, nil
}
