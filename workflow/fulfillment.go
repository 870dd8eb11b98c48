package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("github.com/alphaitsolutions/storefront_backend/workflow")

// FulfillmentResult is the outcome of the synchronous phase.
type FulfillmentResult struct {
	Transaction *models.Transaction
	Invoice     *models.Invoice
	// Replayed is true when the order had already been fulfilled and nothing
	// new was written.
	Replayed bool
}

// Fulfillment runs the side effects of a handed-over order. The synchronous
// phase (sales Transaction + Invoice + queued document job) commits in one DB
// transaction; rendering, storage and the invoice email happen later in the
// outbox dispatcher.
type Fulfillment struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Catalog models.CatalogLookup
	Ledger  *Ledger
	Outbox  Waker
	Clock   utils.Clock

	InvoiceEmailDelay   time.Duration
	DocumentMaxAttempts int
	PublishEvents       bool
}

func NewFulfillment(db *gorm.DB, logger *logrus.Logger, catalog models.CatalogLookup, ledger *Ledger, outbox Waker, clock utils.Clock) *Fulfillment {
	return &Fulfillment{
		DB:                  db,
		Logger:              logger,
		Catalog:             catalog,
		Ledger:              ledger,
		Outbox:              outbox,
		Clock:               utils.ClockOrSystem(clock),
		InvoiceEmailDelay:   config.InvoiceEmailDelay(),
		DocumentMaxAttempts: config.DocumentMaxAttempts(),
		PublishEvents:       config.PublishOrderEvents(),
	}
}

// Apply runs the synchronous phase for a handed-over order and is a no-op for
// every other status. Re-applying it for the same order returns the existing
// Transaction and Invoice.
func (f *Fulfillment) Apply(ctx context.Context, order *models.SuccessOrder) (*FulfillmentResult, error) {
	if order == nil || order.Status != models.SuccessOrderStatusHandedOver {
		return &FulfillmentResult{}, nil
	}

	ctx, span := tracer.Start(ctx, "fulfillment.apply")
	defer span.End()
	span.SetAttributes(attribute.Int("success_order.id", order.ID))

	if res, err := f.existing(ctx, f.DB, order.ID); err != nil || res != nil {
		return res, err
	}

	lines := f.resolveLines(ctx, order)
	now := f.Clock.Now()

	var result FulfillmentResult
	err := f.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check under the write transaction; a concurrent replay may have won.
		if res, err := f.existing(ctx, tx, order.ID); err != nil || res != nil {
			if res != nil {
				result = *res
			}
			return err
		}

		orderId := order.ID
		txn, err := f.Ledger.postTransactionTx(ctx, tx, &models.NewTransaction{
			Amount:         order.TotalAmount,
			Type:           models.TransactionTypeIncome,
			Category:       models.TransactionCategorySales,
			Description:    fmt.Sprintf("Sales for order #%d", order.ID),
			SuccessOrderId: &orderId,
		}, now)
		if err != nil {
			return fmt.Errorf("post sales transaction: %w", err)
		}

		inv := &models.Invoice{
			SuccessOrderId: order.ID,
			CustomerName:   order.CustomerName,
			CustomerEmail:  order.CustomerEmail,
			TotalAmount:    order.TotalAmount,
			Status:         models.InvoiceStatusPaid,
			Date:           now,
			CreatedAt:      now,
			UpdatedAt:      now,
			Items:          lines,
		}
		if err := tx.Create(inv).Error; err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}

		job, err := models.NewOutboxJob(models.OutboxJobKindInvoiceDocument, models.InvoiceDocumentDedupKey(inv.ID),
			models.InvoiceDocumentPayload{InvoiceId: inv.ID, SuccessOrderId: order.ID},
			f.DocumentMaxAttempts, now, f.InvoiceEmailDelay)
		if err != nil {
			return err
		}
		if _, err := models.EnqueueOutboxJob(ctx, tx, job); err != nil {
			return fmt.Errorf("enqueue invoice document: %w", err)
		}

		if f.PublishEvents {
			event, err := models.NewOutboxJob(models.OutboxJobKindOrderEvent, models.OrderEventDedupKey(order.ID),
				models.OrderEventPayload{
					SuccessOrderId: order.ID,
					CustomerId:     order.CustomerId,
					Status:         order.Status,
					TotalAmount:    order.TotalAmount,
					InvoiceId:      inv.ID,
					TransactionId:  txn.ID,
				}, f.DocumentMaxAttempts, now, 0)
			if err != nil {
				return err
			}
			if _, err := models.EnqueueOutboxJob(ctx, tx, event); err != nil {
				return fmt.Errorf("enqueue order event: %w", err)
			}
		}

		result = FulfillmentResult{Transaction: txn, Invoice: inv}
		return nil
	})

	if err != nil && isDuplicateKeyErr(err) {
		// Lost the race to another Apply for the same order.
		res, lookupErr := f.existing(ctx, f.DB, order.ID)
		if lookupErr == nil && res != nil {
			return res, nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		config.LogError(f.Logger, "Fulfillment", "Apply", "sync phase", order.ID, err)
		return nil, err
	}

	if !result.Replayed && f.Outbox != nil {
		f.Outbox.Wake()
	}
	if f.Logger != nil && !result.Replayed {
		f.Logger.WithFields(logrus.Fields{
			"field":            "Fulfillment",
			"success_order_id": order.ID,
			"transaction_id":   result.Transaction.ID,
			"invoice_id":       result.Invoice.ID,
			"lines":            len(result.Invoice.Items),
		}).Info("order fulfilled")
	}
	return &result, nil
}

// existing returns the already-written result for the order, or nil.
func (f *Fulfillment) existing(ctx context.Context, db *gorm.DB, successOrderId int) (*FulfillmentResult, error) {
	inv, err := models.FindInvoiceBySuccessOrder(ctx, db, successOrderId)
	if err != nil || inv == nil {
		return nil, err
	}
	txn, err := models.FindSalesTransaction(ctx, db, successOrderId)
	if err != nil {
		return nil, err
	}
	return &FulfillmentResult{Transaction: txn, Invoice: inv, Replayed: true}, nil
}

// resolveLines builds the invoice lines at the captured prices. Items whose
// catalog entry is gone are left off the invoice.
func (f *Fulfillment) resolveLines(ctx context.Context, order *models.SuccessOrder) []models.InvoiceItem {
	lines := make([]models.InvoiceItem, 0, len(order.Items))
	for _, item := range order.Items {
		entry, err := f.Catalog.Resolve(ctx, item.ItemType, item.ItemId)
		if err != nil {
			if f.Logger != nil {
				f.Logger.WithFields(logrus.Fields{
					"field":            "Fulfillment",
					"success_order_id": order.ID,
					"item_type":        item.ItemType,
					"item_id":          item.ItemId,
				}).Warn("invoice line skipped: " + err.Error())
			}
			continue
		}
		lines = append(lines, models.InvoiceItem{
			Name:     fmt.Sprintf("%s - %s", entry.CatalogCategory(), entry.CatalogDescription()),
			Price:    item.UnitPrice,
			Quantity: item.Quantity,
		})
	}
	return lines
}
