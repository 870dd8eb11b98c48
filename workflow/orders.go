package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/fraud"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Orders owns the intake Order and the SuccessOrder lifecycle.
type Orders struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Catalog     models.CatalogLookup
	Fulfillment *Fulfillment
	Outbox      Waker
	Clock       utils.Clock
	FraudRules  fraud.OrderRules

	// StrictTransitions refuses moves the lifecycle does not allow. When
	// false every move is accepted except leaving handedOver.
	StrictTransitions bool
}

func NewOrders(db *gorm.DB, logger *logrus.Logger, catalog models.CatalogLookup, fulfillment *Fulfillment, outbox Waker, clock utils.Clock) *Orders {
	return &Orders{
		DB:                db,
		Logger:            logger,
		Catalog:           catalog,
		Fulfillment:       fulfillment,
		Outbox:            outbox,
		Clock:             utils.ClockOrSystem(clock),
		FraudRules:        fraud.DefaultOrderRules(),
		StrictTransitions: config.StrictOrderTransitions(),
	}
}

var allowedTransitions = map[models.SuccessOrderStatus][]models.SuccessOrderStatus{
	models.SuccessOrderStatusPending:  {models.SuccessOrderStatusApproved, models.SuccessOrderStatusCancelled, models.SuccessOrderStatusHandedOver},
	models.SuccessOrderStatusApproved: {models.SuccessOrderStatusCancelled, models.SuccessOrderStatusHandedOver},
}

// CanTransition reports whether from -> to is allowed. Re-applying the
// current status is always allowed.
func CanTransition(from, to models.SuccessOrderStatus, strict bool) bool {
	if from == to {
		return true
	}
	if from == models.SuccessOrderStatusHandedOver {
		return false
	}
	if !strict {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateOrder persists an intake order with its fraud verdict attached.
// Flagged orders are created too; the verdict is data, not an error.
func (s *Orders) CreateOrder(ctx context.Context, input *models.NewOrder) (*models.Order, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	order := input.ToOrder(now)

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		history, err := models.CustomerOrderHistory(ctx, tx, order.CustomerId)
		if err != nil {
			return err
		}
		fraud.Apply(order, fraud.EvaluateOrder(order, history, now, s.FraudRules))
		return tx.Create(order).Error
	})
	if err != nil {
		config.LogError(s.Logger, "Orders", "CreateOrder", "creating order", input, err)
		return nil, err
	}
	s.logVerdict(order)
	return order, nil
}

// UpdateOrderContact corrects contact details and re-runs the fraud
// heuristics. Orders already linked to a SuccessOrder are immutable.
func (s *Orders) UpdateOrderContact(ctx context.Context, id int, input *models.OrderContactUpdate) (*models.Order, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	return s.reevaluate(ctx, id, input.ApplyTo)
}

// ReevaluateOrderFraud re-runs the heuristics without changing the order.
// Running it twice at the same instant gives the same verdict.
func (s *Orders) ReevaluateOrderFraud(ctx context.Context, id int) (*models.Order, error) {
	return s.reevaluate(ctx, id, nil)
}

func (s *Orders) reevaluate(ctx context.Context, id int, mutate func(*models.Order)) (*models.Order, error) {
	now := s.Clock.Now()
	var order *models.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = models.GetOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		linked, err := models.IsOrderLinked(ctx, tx, id)
		if err != nil {
			return err
		}
		if linked {
			return &models.ConflictError{Resource: "order", Id: id, Message: "order is linked to a confirmed order and can no longer change"}
		}
		if mutate != nil {
			mutate(order)
		}
		history, err := models.CustomerOrderHistory(ctx, tx, order.CustomerId)
		if err != nil {
			return err
		}
		fraud.Apply(order, fraud.EvaluateOrder(order, history, now, s.FraudRules))
		order.UpdatedAt = now
		return tx.Model(&models.Order{}).Where("id = ?", id).Updates(map[string]interface{}{
			"name":          order.Name,
			"phone_no":      order.PhoneNo,
			"email":         order.Email,
			"is_fraudulent": order.IsFraudulent,
			"fraud_reason":  order.FraudReason,
			"updated_at":    now,
		}).Error
	})
	if err != nil {
		if !models.IsNotFound(err) && !models.IsConflict(err) {
			config.LogError(s.Logger, "Orders", "reevaluate", "re-evaluating order fraud", id, err)
		}
		return nil, err
	}
	s.logVerdict(order)
	return order, nil
}

func (s *Orders) logVerdict(order *models.Order) {
	if s.Logger == nil || !order.IsFraudulent {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"field":       "Orders",
		"order_id":    order.ID,
		"customer_id": order.CustomerId,
	}).Warn("order flagged for review: " + order.FraudReason)
}

// CreateSuccessOrder confirms an order at current catalog prices. Prices are
// captured on the items and never re-derived.
func (s *Orders) CreateSuccessOrder(ctx context.Context, input *models.NewSuccessOrder) (*models.SuccessOrder, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	total := decimal.Zero
	items := make([]models.SuccessOrderItem, 0, len(input.Items))
	for i, in := range input.Items {
		entry, err := s.Catalog.Resolve(ctx, in.ItemType, in.ItemId)
		if models.IsNotFound(err) {
			return nil, models.NewValidationError(fmt.Sprintf("items[%d].item_id", i), "%s %d does not exist", in.ItemType, in.ItemId)
		}
		if err != nil {
			return nil, err
		}
		item := models.SuccessOrderItem{
			ItemId:    in.ItemId,
			ItemType:  in.ItemType,
			Quantity:  in.Quantity,
			UnitPrice: entry.CatalogPrice(),
			Specs:     models.SpecsJSON(in.Specs),
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}
	if !input.TotalAmount.IsZero() && !input.TotalAmount.Equal(total) {
		return nil, models.NewValidationError("total_amount", "declared total %s does not match item total %s",
			input.TotalAmount.String(), total.String())
	}

	now := s.Clock.Now()
	so := &models.SuccessOrder{
		CustomerId:    input.CustomerId,
		CustomerName:  input.CustomerName,
		CustomerEmail: input.CustomerEmail,
		OrderId:       input.OrderId,
		TotalAmount:   total,
		Status:        models.SuccessOrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         items,
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.OrderId != nil {
			if err := s.checkOrderLink(ctx, tx, *input.OrderId, input.CustomerId); err != nil {
				return err
			}
		}
		return tx.Create(so).Error
	})
	if err != nil {
		if !models.IsValidation(err) && !models.IsConflict(err) && !models.IsNotFound(err) {
			config.LogError(s.Logger, "Orders", "CreateSuccessOrder", "creating success order", input, err)
		}
		return nil, err
	}
	return so, nil
}

func (s *Orders) checkOrderLink(ctx context.Context, tx *gorm.DB, orderId, customerId int) error {
	order, err := models.GetOrder(ctx, tx, orderId)
	if err != nil {
		return err
	}
	if order.CustomerId != customerId {
		return models.NewValidationError("order_id", "order %d belongs to another customer", orderId)
	}
	linked, err := models.IsOrderLinked(ctx, tx, orderId)
	if err != nil {
		return err
	}
	if linked {
		return &models.ConflictError{Resource: "order", Id: orderId, Message: "already confirmed"}
	}
	return nil
}

func (s *Orders) GetSuccessOrder(ctx context.Context, id int) (*models.SuccessOrder, error) {
	return models.GetSuccessOrder(ctx, s.DB, id)
}

// TransitionStatus moves a SuccessOrder to newStatus and then runs the
// fulfillment synchronous phase. The status change is the fact of record:
// fulfillment failures are logged and never returned.
//
// The status email is queued in the same DB transaction as the status write.
// Re-applying the current status writes nothing and queues no email, but does
// re-run fulfillment so a previously failed sync phase is repaired.
func (s *Orders) TransitionStatus(ctx context.Context, id int, newStatus models.SuccessOrderStatus) (*models.SuccessOrder, error) {
	if !newStatus.IsValid() {
		return nil, models.NewValidationError("status", "unknown status %q", newStatus)
	}
	order, err := models.GetSuccessOrder(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}

	if order.Status != newStatus {
		if !CanTransition(order.Status, newStatus, s.StrictTransitions) {
			return nil, &models.ConflictError{
				Resource: "success order",
				Id:       id,
				Message:  fmt.Sprintf("cannot move from %s to %s", order.Status, newStatus),
			}
		}
		changed, err := s.writeStatus(ctx, order, newStatus)
		if err != nil {
			return nil, err
		}
		order.Status = newStatus
		if changed && s.Outbox != nil {
			s.Outbox.Wake()
		}
	}

	if s.Fulfillment != nil {
		if _, err := s.Fulfillment.Apply(ctx, order); err != nil {
			sideErr := &models.SideEffectError{Step: "fulfillment", Err: err}
			config.LogError(s.Logger, "Orders", "TransitionStatus", "fulfillment after status change", id, sideErr)
		}
	}
	return order, nil
}

// writeStatus does the compare-and-set status update. It reports false when
// a concurrent request already applied the same status.
func (s *Orders) writeStatus(ctx context.Context, order *models.SuccessOrder, newStatus models.SuccessOrderStatus) (bool, error) {
	now := s.Clock.Now()
	changed := true
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SuccessOrder{}).
			Where("id = ? AND status = ?", order.ID, order.Status).
			Updates(map[string]interface{}{"status": newStatus, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current models.SuccessOrder
			if err := tx.Select("id", "status").First(&current, order.ID).Error; err != nil {
				return err
			}
			if current.Status == newStatus {
				changed = false
				return nil
			}
			return &models.ConflictError{
				Resource: "success order",
				Id:       order.ID,
				Message:  fmt.Sprintf("status changed concurrently to %s", current.Status),
			}
		}
		return s.enqueueStatusEmail(ctx, tx, order, newStatus, now)
	})
	if err != nil {
		if !models.IsConflict(err) {
			config.LogError(s.Logger, "Orders", "writeStatus", "updating status", order.ID, err)
		}
		return false, err
	}
	if changed {
		order.UpdatedAt = now
	}
	return changed, nil
}

func (s *Orders) enqueueStatusEmail(ctx context.Context, tx *gorm.DB, order *models.SuccessOrder, status models.SuccessOrderStatus, now time.Time) error {
	if order.CustomerEmail == "" {
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"field":            "Orders",
				"success_order_id": order.ID,
			}).Warn("no customer email; status email skipped")
		}
		return nil
	}
	// The CAS update above holds the order row, so the count is stable here.
	sent, err := models.CountStatusEmails(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	// The status email is best-effort: one attempt, then DEAD.
	job, err := models.NewOutboxJob(models.OutboxJobKindStatusEmail, models.StatusEmailDedupKey(order.ID, sent+1, status),
		models.StatusEmailPayload{
			SuccessOrderId: order.ID,
			Status:         status,
			To:             order.CustomerEmail,
			CustomerName:   order.CustomerName,
		}, 1, now, 0)
	if err != nil {
		return err
	}
	_, err = models.EnqueueOutboxJob(ctx, tx, job)
	return err
}
