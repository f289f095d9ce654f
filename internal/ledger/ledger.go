// Package ledger is the append-only trade ledger.
package ledger

import (
	"context"

	"gorm.io/gorm"

	"ralph/internal/models"
	"ralph/pkg/utils"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

const (
	StatusDryRun        = "dry_run"
	StatusSimulated     = "simulated"
	StatusSimulateError = "simulate_error"
	StatusConfirmed     = "confirmed"
	StatusError         = "error"
)

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Insert appends a row. Rows are never updated.
func (l *Ledger) Insert(ctx context.Context, row *models.TradeIndex) error {
	return l.db.WithContext(ctx).Create(row).Error
}

// List returns the tenant's rows newest first. limit is clamped to [1,200].
func (l *Ledger) List(ctx context.Context, tenantID string, limit int) ([]models.TradeIndex, error) {
	rows := []models.TradeIndex{}
	err := l.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id desc").
		Limit(utils.ClampInt(limit, 1, MaxListLimit)).
		Find(&rows).Error
	return rows, err
}
