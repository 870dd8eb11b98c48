// Package fraud holds the advisory fraud heuristics. Nothing here touches the
// database; callers pass in the history to judge against.
package fraud

import (
	"strings"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/shopspring/decimal"
)

const (
	ReasonPhoneTooShort     = "Phone number too short."
	ReasonPhoneTooLong      = "Phone number too long."
	ReasonInvalidEmail      = "Invalid email address."
	ReasonDeliveryDatePast  = "Delivery date is in the past."
	ReasonPickupDatePast    = "Pickup date is in the past."
	ReasonFrequentOrders    = "Multiple orders placed within 24 hours."
	ReasonRepeatedHighValue = "Multiple high-value orders detected."
	reasonSeparator         = ", "
)

type OrderRules struct {
	MinPhoneDigits     int
	MaxPhoneDigits     int
	Window             time.Duration
	MaxOrdersInWindow  int
	HighValueThreshold decimal.Decimal
	MaxHighValueOrders int
}

func DefaultOrderRules() OrderRules {
	return OrderRules{
		MinPhoneDigits:     8,
		MaxPhoneDigits:     10,
		Window:             24 * time.Hour,
		MaxOrdersInWindow:  2,
		HighValueThreshold: decimal.NewFromInt(1000000),
		MaxHighValueOrders: 2,
	}
}

type Verdict struct {
	Flagged bool
	Reasons []string
}

// Reason joins the reasons the way they are stored on the order.
func (v Verdict) Reason() string {
	return strings.Join(v.Reasons, reasonSeparator)
}

func verdictOf(reasons []string) Verdict {
	return Verdict{Flagged: len(reasons) > 0, Reasons: reasons}
}

// EvaluateOrder judges an order against the customer's history. history may or
// may not already contain order; it is counted once either way. The result
// depends only on the arguments.
func EvaluateOrder(order *models.Order, history []models.Order, now time.Time, rules OrderRules) Verdict {
	var reasons []string

	digits := utils.DigitCount(order.PhoneNo)
	if digits < rules.MinPhoneDigits {
		reasons = append(reasons, ReasonPhoneTooShort)
	}
	if digits > rules.MaxPhoneDigits {
		reasons = append(reasons, ReasonPhoneTooLong)
	}
	if !strings.Contains(order.Email, "@") {
		reasons = append(reasons, ReasonInvalidEmail)
	}

	today := utils.StartOfDay(now)
	switch order.PaymentMethod {
	case models.PaymentMethodCOD:
		if order.DeliveryDate != nil && order.DeliveryDate.Before(today) {
			reasons = append(reasons, ReasonDeliveryDatePast)
		}
	case models.PaymentMethodPickup:
		if order.PickupDate != nil && order.PickupDate.Before(today) {
			reasons = append(reasons, ReasonPickupDatePast)
		}
	}

	set := orderSet(order, history)

	recent := 0
	highValue := 0
	for _, o := range set {
		age := now.Sub(o.CreatedAt)
		if age >= 0 && age <= rules.Window {
			recent++
		}
		if o.Amount.GreaterThan(rules.HighValueThreshold) {
			highValue++
		}
	}
	if recent > rules.MaxOrdersInWindow {
		reasons = append(reasons, ReasonFrequentOrders)
	}
	if highValue > rules.MaxHighValueOrders {
		reasons = append(reasons, ReasonRepeatedHighValue)
	}

	return verdictOf(reasons)
}

// orderSet is history plus order, with order replacing any stale copy of
// itself. Unsaved orders (ID 0) are always added.
func orderSet(order *models.Order, history []models.Order) []models.Order {
	set := make([]models.Order, 0, len(history)+1)
	for _, o := range history {
		if order.ID != 0 && o.ID == order.ID {
			continue
		}
		if o.CustomerId != order.CustomerId {
			continue
		}
		set = append(set, o)
	}
	return append(set, *order)
}

// Apply writes the verdict onto the order, clearing reasons that no longer hold.
func Apply(order *models.Order, v Verdict) {
	order.IsFraudulent = v.Flagged
	order.FraudReason = v.Reason()
}
