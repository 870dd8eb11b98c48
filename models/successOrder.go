package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PreBuildSpecLabels must all be present (and non-blank) on a PreBuild item.
var PreBuildSpecLabels = []string{"Processor", "GPU", "RAM", "Storage", "Power Supply", "Casing"}

// SuccessOrder is a confirmed order. Items and TotalAmount never change after
// creation; Status only moves through the order state machine.
type SuccessOrder struct {
	ID            int                `gorm:"primary_key" json:"id"`
	CustomerId    int                `gorm:"index;not null" json:"customer_id"`
	CustomerName  string             `gorm:"size:255" json:"customer_name"`
	CustomerEmail string             `gorm:"size:255" json:"customer_email"`
	OrderId       *int               `gorm:"index" json:"order_id"`
	TotalAmount   decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Status        SuccessOrderStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Items         []SuccessOrderItem `gorm:"foreignKey:SuccessOrderId" json:"items"`
}

type SuccessOrderItem struct {
	ID             int               `gorm:"primary_key" json:"id"`
	SuccessOrderId int               `gorm:"index;not null" json:"success_order_id"`
	ItemId         int               `gorm:"not null" json:"item_id"`
	ItemType       ItemType          `gorm:"size:20;not null" json:"item_type"`
	Quantity       int               `gorm:"not null" json:"quantity"`
	UnitPrice      decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Specs          datatypes.JSONMap `json:"specs"`
}

// LineTotal is the captured unit price times quantity.
func (i SuccessOrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type NewSuccessOrder struct {
	CustomerId    int                   `json:"customer_id" validate:"required,gt=0"`
	CustomerName  string                `json:"customer_name"`
	CustomerEmail string                `json:"customer_email" validate:"omitempty,email"`
	OrderId       *int                  `json:"order_id"`
	TotalAmount   decimal.Decimal       `json:"total_amount"`
	Items         []NewSuccessOrderItem `json:"items" validate:"required,min=1,dive"`
}

type NewSuccessOrderItem struct {
	ItemId   int               `json:"item_id" validate:"required,gt=0"`
	ItemType ItemType          `json:"item_type" validate:"required,oneof=Product PreBuild"`
	Quantity int               `json:"quantity" validate:"required,gte=1"`
	Specs    map[string]string `json:"specs"`
}

func (input *NewSuccessOrder) Validate() error {
	if input == nil {
		return NewValidationError("success_order", "is required")
	}
	if err := validateInput(input); err != nil {
		return err
	}
	if input.TotalAmount.IsNegative() {
		return NewValidationError("total_amount", "must not be negative")
	}
	for i, item := range input.Items {
		if item.ItemType != ItemTypePreBuild {
			continue
		}
		if missing := MissingPreBuildSpecs(item.Specs); len(missing) > 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("items[%d].specs", i),
				Message: "incomplete PreBuild specification",
				Missing: missing,
			}
		}
	}
	return nil
}

// MissingPreBuildSpecs lists the required component labels absent from specs,
// in canonical order.
func MissingPreBuildSpecs(specs map[string]string) []string {
	var missing []string
	for _, label := range PreBuildSpecLabels {
		if strings.TrimSpace(specs[label]) == "" {
			missing = append(missing, label)
		}
	}
	return missing
}

// SpecsJSON converts a spec map into its column form; nil stays nil.
func SpecsJSON(specs map[string]string) datatypes.JSONMap {
	if len(specs) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(specs))
	for k, v := range specs {
		out[k] = v
	}
	return out
}

func GetSuccessOrder(ctx context.Context, db *gorm.DB, id int) (*SuccessOrder, error) {
	var so SuccessOrder
	err := db.WithContext(ctx).Preload("Items").First(&so, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "success order", Id: id}
	}
	if err != nil {
		return nil, err
	}
	return &so, nil
}

// IsOrderLinked reports whether a SuccessOrder references the intake order.
func IsOrderLinked(ctx context.Context, db *gorm.DB, orderId int) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&SuccessOrder{}).Where("order_id = ?", orderId).Count(&count).Error
	return count > 0, err
}
