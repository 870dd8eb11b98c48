package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice mirrors a handed-over SuccessOrder. TotalAmount always equals the
// order total, even when some lines could not be resolved.
type Invoice struct {
	ID             int             `gorm:"primary_key" json:"id"`
	SuccessOrderId int             `gorm:"uniqueIndex;not null" json:"success_order_id"`
	CustomerName   string          `gorm:"size:255" json:"customer_name"`
	CustomerEmail  string          `gorm:"size:255" json:"customer_email"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Status         InvoiceStatus   `gorm:"size:20;not null" json:"status"`
	Date           time.Time       `gorm:"not null" json:"date"`
	DocumentPath   string          `gorm:"size:512" json:"document_path"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []InvoiceItem   `gorm:"foreignKey:InvoiceId" json:"items"`
}

type InvoiceItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	InvoiceId int             `gorm:"index;not null" json:"invoice_id"`
	Name      string          `gorm:"size:512;not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	Quantity  int             `gorm:"not null" json:"quantity"`
}

func GetInvoice(ctx context.Context, db *gorm.DB, id int) (*Invoice, error) {
	var inv Invoice
	err := db.WithContext(ctx).Preload("Items").First(&inv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "invoice", Id: id}
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// FindInvoiceBySuccessOrder returns (nil, nil) when no invoice exists yet.
func FindInvoiceBySuccessOrder(ctx context.Context, db *gorm.DB, successOrderId int) (*Invoice, error) {
	var inv Invoice
	err := db.WithContext(ctx).Preload("Items").Where("success_order_id = ?", successOrderId).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// FindSalesTransaction returns (nil, nil) when the order has not been posted.
func FindSalesTransaction(ctx context.Context, db *gorm.DB, successOrderId int) (*Transaction, error) {
	var t Transaction
	err := db.WithContext(ctx).Where("success_order_id = ?", successOrderId).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
