package models

import (
	"time"
)

// TradeIndex is one append-only ledger row describing a trade attempt.
type TradeIndex struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	TenantID  string    `gorm:"type:varchar(64);not null;index:idx_trade_index_tenant" json:"tenant_id"`
	RunID     string    `gorm:"type:varchar(64)" json:"run_id"`
	Venue     string    `gorm:"type:varchar(32)" json:"venue"`
	Market    string    `gorm:"type:varchar(200)" json:"market"`
	Side      string    `gorm:"type:varchar(32)" json:"side"`
	Size      string    `gorm:"type:varchar(64)" json:"size"`
	Price     string    `gorm:"type:varchar(64)" json:"price"`
	Status    string    `gorm:"type:varchar(32);not null" json:"status"`
	LogKey    string    `gorm:"type:varchar(255)" json:"log_key"`
	Signature *string   `gorm:"type:varchar(128)" json:"signature"`
	Reasoning string    `gorm:"type:text" json:"reasoning,omitempty"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (TradeIndex) TableName() string {
	return "trade_index"
}

// BotTickEvent is the worker's durable copy of a tick outcome event.
type BotTickEvent struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	BotID         string    `gorm:"type:varchar(64);not null;index" json:"bot_id"`
	RunID         string    `gorm:"type:varchar(64);not null" json:"run_id"`
	Reason        string    `gorm:"type:varchar(20);not null" json:"reason"`
	OK            bool      `gorm:"column:ok;not null" json:"ok"`
	Error         string    `gorm:"type:text" json:"error"`
	Steps         int       `json:"steps"`
	TradeExecuted bool      `json:"trade_executed"`
	TradeStatus   string    `gorm:"type:varchar(32)" json:"trade_status"`
	Signature     string    `gorm:"type:varchar(128)" json:"signature"`
	Superseded    bool      `json:"superseded"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (BotTickEvent) TableName() string {
	return "bot_tick_event"
}

// AllModels lists every table for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&Bot{},
		&LoopConfigRecord{},
		&BotActorState{},
		&TradeIndex{},
		&BotTickEvent{},
	}
}
