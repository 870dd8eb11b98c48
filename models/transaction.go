package models

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction is a ledger entry. SuccessOrderId is only set for sales
// postings and PeriodKey only for monthly rollups; both are unique so a
// replay cannot post twice.
type Transaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Type            TransactionType `gorm:"size:20;not null" json:"type"`
	Category        string          `gorm:"size:100;not null;index:idx_transaction_category_date" json:"category"`
	Date            time.Time       `gorm:"not null;index:idx_transaction_category_date" json:"date"`
	Description     string          `gorm:"type:text" json:"description"`
	IsSuspicious    bool            `gorm:"not null;default:false" json:"is_suspicious"`
	SuspicionReason string          `gorm:"type:text" json:"suspicion_reason"`
	SuccessOrderId  *int            `gorm:"uniqueIndex" json:"success_order_id"`
	PeriodKey       *string         `gorm:"size:32;uniqueIndex" json:"period_key"`
	CreatedAt       time.Time       `json:"created_at"`
}

type NewTransaction struct {
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type" validate:"required,oneof=Income Expense"`
	Category    string          `json:"category" validate:"required"`
	Date        *time.Time      `json:"date"`
	Description string          `json:"description"`

	// Set by the pipeline, never by API callers.
	SuccessOrderId *int    `json:"-"`
	PeriodKey      *string `json:"-"`
}

func (input *NewTransaction) Validate() error {
	if input == nil {
		return NewValidationError("transaction", "is required")
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

// LedgerEntry is the view of a Transaction or PettyCash row the entry level
// fraud heuristics work on.
type LedgerEntry struct {
	Amount   decimal.Decimal
	Category string
	Date     time.Time
}

func (t *Transaction) Entry() LedgerEntry {
	return LedgerEntry{Amount: t.Amount, Category: t.Category, Date: t.Date}
}

// RecentTransactions returns same-category entries dated at or after since.
func RecentTransactions(ctx context.Context, db *gorm.DB, category string, since time.Time) ([]LedgerEntry, error) {
	var rows []Transaction
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

type TransactionFilter struct {
	Type     *TransactionType
	Category string
	From     *time.Time
	To       *time.Time
	Limit    int
}

func ListTransactions(ctx context.Context, db *gorm.DB, f TransactionFilter) ([]Transaction, error) {
	q := db.WithContext(ctx).Model(&Transaction{})
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.From != nil {
		q = q.Where("date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("date < ?", *f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []Transaction
	err := q.Order("date DESC").Order("id DESC").Find(&rows).Error
	return rows, err
}
