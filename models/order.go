package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is the pre-confirmation intake record. Fraud fields are only written
// by the fraud engine.
type Order struct {
	ID            int             `gorm:"primary_key" json:"id"`
	CustomerId    int             `gorm:"index;not null" json:"customer_id"`
	Name          string          `gorm:"size:255;not null" json:"name"`
	PhoneNo       string          `gorm:"size:50;not null" json:"phone_no"`
	Email         string          `gorm:"size:255;not null" json:"email"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	Address       string          `gorm:"type:text" json:"address"`
	DeliveryDate  *time.Time      `json:"delivery_date"`
	DeliveryTime  string          `gorm:"size:50" json:"delivery_time"`
	PickupDate    *time.Time      `json:"pickup_date"`
	PickupTime    string          `gorm:"size:50" json:"pickup_time"`
	SaveAddress   bool            `gorm:"not null;default:false" json:"save_address"`
	IsFraudulent  bool            `gorm:"not null;default:false" json:"is_fraudulent"`
	FraudReason   string          `gorm:"type:text" json:"fraud_reason"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type NewOrder struct {
	CustomerId    int             `json:"customer_id" validate:"required,gt=0"`
	Name          string          `json:"name" validate:"required"`
	PhoneNo       string          `json:"phone_no" validate:"required"`
	Email         string          `json:"email" validate:"required"`
	PaymentMethod PaymentMethod   `json:"payment_method" validate:"required,oneof=COD Pickup"`
	Amount        decimal.Decimal `json:"amount"`
	Address       string          `json:"address"`
	DeliveryDate  *time.Time      `json:"delivery_date"`
	DeliveryTime  string          `json:"delivery_time"`
	PickupDate    *time.Time      `json:"pickup_date"`
	PickupTime    string          `json:"pickup_time"`
	SaveAddress   bool            `json:"save_address"`
}

// OrderContactUpdate corrects contact details; nil fields are left alone.
type OrderContactUpdate struct {
	Name    *string `json:"name"`
	PhoneNo *string `json:"phone_no"`
	Email   *string `json:"email"`
}

// Validate checks tags plus the per-payment-method detail rules. Email and
// phone shape are judged by the fraud heuristics, not here.
func (input *NewOrder) Validate() error {
	if input == nil {
		return NewValidationError("order", "is required")
	}
	if err := validateInput(input); err != nil {
		return err
	}
	if input.Amount.IsNegative() {
		return NewValidationError("amount", "must not be negative")
	}
	switch input.PaymentMethod {
	case PaymentMethodCOD:
		if strings.TrimSpace(input.Address) == "" {
			return NewValidationError("address", "is required for COD orders")
		}
		if input.DeliveryDate == nil {
			return NewValidationError("delivery_date", "is required for COD orders")
		}
		if strings.TrimSpace(input.DeliveryTime) == "" {
			return NewValidationError("delivery_time", "is required for COD orders")
		}
	case PaymentMethodPickup:
		if input.PickupDate == nil {
			return NewValidationError("pickup_date", "is required for pickup orders")
		}
		if strings.TrimSpace(input.PickupTime) == "" {
			return NewValidationError("pickup_time", "is required for pickup orders")
		}
	default:
		return NewValidationError("payment_method", "unsupported payment method %q", input.PaymentMethod)
	}
	return nil
}

// ToOrder builds the row to insert. Details not relevant to the payment
// method are dropped.
func (input *NewOrder) ToOrder(createdAt time.Time) *Order {
	o := &Order{
		CustomerId:    input.CustomerId,
		Name:          strings.TrimSpace(input.Name),
		PhoneNo:       strings.TrimSpace(input.PhoneNo),
		Email:         strings.TrimSpace(input.Email),
		PaymentMethod: input.PaymentMethod,
		Amount:        input.Amount,
		SaveAddress:   input.SaveAddress,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	if input.PaymentMethod == PaymentMethodCOD {
		o.Address = strings.TrimSpace(input.Address)
		o.DeliveryDate = input.DeliveryDate
		o.DeliveryTime = input.DeliveryTime
	} else {
		o.PickupDate = input.PickupDate
		o.PickupTime = input.PickupTime
	}
	return o
}

func (input *OrderContactUpdate) Validate() error {
	if input == nil || (input.Name == nil && input.PhoneNo == nil && input.Email == nil) {
		return NewValidationError("contact", "nothing to update")
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return NewValidationError("name", "must not be blank")
	}
	if input.PhoneNo != nil && strings.TrimSpace(*input.PhoneNo) == "" {
		return NewValidationError("phone_no", "must not be blank")
	}
	if input.Email != nil && strings.TrimSpace(*input.Email) == "" {
		return NewValidationError("email", "must not be blank")
	}
	return nil
}

// ApplyTo copies the non-nil fields onto o.
func (input *OrderContactUpdate) ApplyTo(o *Order) {
	if input.Name != nil {
		o.Name = strings.TrimSpace(*input.Name)
	}
	if input.PhoneNo != nil {
		o.PhoneNo = strings.TrimSpace(*input.PhoneNo)
	}
	if input.Email != nil {
		o.Email = strings.TrimSpace(*input.Email)
	}
}

func GetOrder(ctx context.Context, db *gorm.DB, id int) (*Order, error) {
	var o Order
	err := db.WithContext(ctx).First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &NotFoundError{Resource: "order", Id: id}
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CustomerOrderHistory returns every order the customer has placed, newest
// first.
func CustomerOrderHistory(ctx context.Context, db *gorm.DB, customerId int) ([]Order, error) {
	var orders []Order
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerId).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, err
}
