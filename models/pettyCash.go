package models

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PettyCash rows are summed by the monthly rollup but never removed by it.
type PettyCash struct {
	ID              int             `gorm:"primary_key" json:"id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Purpose         string          `gorm:"size:255;not null" json:"purpose"`
	Category        string          `gorm:"size:100;not null;index:idx_petty_cash_category_date" json:"category"`
	Date            time.Time       `gorm:"not null;index:idx_petty_cash_category_date" json:"date"`
	Description     string          `gorm:"type:text" json:"description"`
	IsSuspicious    bool            `gorm:"not null;default:false" json:"is_suspicious"`
	SuspicionReason string          `gorm:"type:text" json:"suspicion_reason"`
	CreatedAt       time.Time       `json:"created_at"`
}

type NewPettyCash struct {
	Amount      decimal.Decimal `json:"amount"`
	Purpose     string          `json:"purpose" validate:"required"`
	Category    string          `json:"category" validate:"required"`
	Date        *time.Time      `json:"date"`
	Description string          `json:"description"`
}

func (input *NewPettyCash) Validate() error {
	if input == nil {
		return NewValidationError("petty_cash", "is required")
	}
	if err := validateInput(input); err != nil {
		return err
	}
	if !input.Amount.IsPositive() {
		return NewValidationError("amount", "must be greater than 0")
	}
	if strings.TrimSpace(input.Category) == "" {
		return NewValidationError("category", "is required")
	}
	return nil
}

func (p *PettyCash) Entry() LedgerEntry {
	return LedgerEntry{Amount: p.Amount, Category: p.Category, Date: p.Date}
}

func RecentPettyCash(ctx context.Context, db *gorm.DB, category string, since time.Time) ([]LedgerEntry, error) {
	var rows []PettyCash
	err := db.WithContext(ctx).
		Where("category = ? AND date >= ?", category, since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]LedgerEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Entry())
	}
	return out, nil
}

// PettyCashTotal sums the entries dated in [from, to).
func PettyCashTotal(ctx context.Context, db *gorm.DB, from, to time.Time) (decimal.Decimal, int64, error) {
	var rows []PettyCash
	err := db.WithContext(ctx).
		Select("id", "amount").
		Where("date >= ? AND date < ?", from, to).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total, int64(len(rows)), nil
}

func ListPettyCash(ctx context.Context, db *gorm.DB, from, to *time.Time, limit int) ([]PettyCash, error) {
	q := db.WithContext(ctx).Model(&PettyCash{})
	if from != nil {
		q = q.Where("date >= ?", *from)
	}
	if to != nil {
		q = q.Where("date < ?", *to)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []PettyCash
	err := q.Order("date DESC").Order("id DESC").Find(&rows).Error
	return rows, err
}
