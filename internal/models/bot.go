package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SignerTypePrivy    = "privy"
	SignerTypeKeystore = "keystore"
)

// Bot is the account-level metadata of one trading bot. The loop only reads
// Enabled, WalletAddress and SignerRef and writes the tick bookkeeping fields.
type Bot struct {
	ID              string     `gorm:"primarykey;type:varchar(64)" json:"id"`
	Name            string     `gorm:"type:varchar(100);not null" json:"name"`
	Enabled         bool       `gorm:"not null" json:"enabled"`
	SignerType      string     `gorm:"type:varchar(20);not null" json:"signer_type"`
	SignerRef       string     `gorm:"type:varchar(128);not null" json:"signer_ref"`
	WalletAddress   string     `gorm:"type:varchar(64);not null" json:"wallet_address"`
	LastTickAt      *time.Time `json:"last_tick_at"`
	LastError       *string    `gorm:"type:text" json:"last_error"`
	LastAgentTickAt *time.Time `json:"last_agent_tick_at"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Bot) TableName() string {
	return "bots"
}

// LoopConfigRecord stores one bot's loop configuration. Policy and strategy
// are kept as JSON documents.
type LoopConfigRecord struct {
	BotID     string         `gorm:"primarykey;type:varchar(64)" json:"bot_id"`
	Enabled   bool           `gorm:"not null" json:"enabled"`
	Policy    datatypes.JSON `json:"policy"`
	Strategy  datatypes.JSON `json:"strategy"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (LoopConfigRecord) TableName() string {
	return "loop_config"
}

// BotActorState is the scheduling actor's private durable storage.
type BotActorState struct {
	BotID     string     `gorm:"primarykey;type:varchar(64)" json:"bot_id"`
	AlarmAt   *time.Time `gorm:"index" json:"alarm_at"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (BotActorState) TableName() string {
	return "bot_actor_state"
}
