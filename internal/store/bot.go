// Package store is the relational persistence for bots, loop configuration,
// actor alarms and tick events.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"ralph/internal/models"
	"ralph/pkg/utils"
)

var ErrBotNotFound = errors.New("bot-not-found")

const maxLastErrorLen = 500

// BotMeta is what a tick needs to know about its bot.
type BotMeta struct {
	Enabled       bool
	WalletAddress string
	SignerRef     string
}

type BotStore struct {
	db *gorm.DB
}

func NewBotStore(db *gorm.DB) *BotStore {
	return &BotStore{db: db}
}

func (s *BotStore) Create(ctx context.Context, bot *models.Bot) error {
	return s.db.WithContext(ctx).Create(bot).Error
}

func (s *BotStore) Get(ctx context.Context, id string) (*models.Bot, error) {
	var bot models.Bot
	err := s.db.WithContext(ctx).First(&bot, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bot, nil
}

func (s *BotStore) List(ctx context.Context) ([]models.Bot, error) {
	var bots []models.Bot
	err := s.db.WithContext(ctx).Order("created_at desc").Find(&bots).Error
	return bots, err
}

// ListEnabled returns enabled bots, most recently updated first.
func (s *BotStore) ListEnabled(ctx context.Context, limit int) ([]models.Bot, error) {
	var bots []models.Bot
	q := s.db.WithContext(ctx).Where("enabled = ?", true).Order("updated_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&bots).Error
	return bots, err
}

func (s *BotStore) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Bot, error) {
	res := s.db.WithContext(ctx).Model(&models.Bot{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrBotNotFound
	}
	return s.Get(ctx, id)
}

// Meta returns the bot's loop metadata, or nil when the bot is missing or has
// no wallet or signer configured.
func (s *BotStore) Meta(ctx context.Context, id string) (*BotMeta, error) {
	bot, err := s.Get(ctx, id)
	if errors.Is(err, ErrBotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wallet := strings.TrimSpace(bot.WalletAddress)
	signer := strings.TrimSpace(bot.SignerRef)
	if wallet == "" || signer == "" {
		return nil, nil
	}
	return &BotMeta{Enabled: bot.Enabled, WalletAddress: wallet, SignerRef: signer}, nil
}

// RecordTickResult stamps last_tick_at and sets last_error, cleared on success.
func (s *BotStore) RecordTickResult(ctx context.Context, id string, ok bool, tickErr string, now time.Time) error {
	var lastError *string
	if !ok {
		msg := utils.Truncate(tickErr, maxLastErrorLen)
		if msg == "" {
			msg = "tick-failed"
		}
		lastError = &msg
	}
	return s.db.WithContext(ctx).Model(&models.Bot{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_tick_at": now.UTC(),
		"last_error":   lastError,
	}).Error
}

func (s *BotStore) StampAgentTick(ctx context.Context, id string, now time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Bot{}).Where("id = ?", id).
		Update("last_agent_tick_at", now.UTC()).Error
}
