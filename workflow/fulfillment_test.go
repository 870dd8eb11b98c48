package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandedOverPostsSalesTransactionAndInvoice(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	so := p.confirmedOrder(t)

	_, err := p.orders.TransitionStatus(ctx, so.ID, models.SuccessOrderStatusHandedOver)
	require.NoError(t, err)

	txn, err := models.FindSalesTransaction(ctx, p.db, so.ID)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.True(t, decimal.NewFromInt(170000).Equal(txn.Amount))
	assert.Equal(t, models.TransactionTypeIncome, txn.Type)
	assert.Equal(t, models.TransactionCategorySales, txn.Category)
	assert.Equal(t, fmt.Sprintf("Sales for order #%d", so.ID), txn.Description)

	inv, err := models.FindInvoiceBySuccessOrder(ctx, p.db, so.ID)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.True(t, so.TotalAmount.Equal(inv.TotalAmount))
	assert.Equal(t, models.InvoiceStatusPaid, inv.Status)
	assert.Equal(t, "nimal@example.com", inv.CustomerEmail)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, "Keyboard - Mechanical TKL", inv.Items[0].Name)
	assert.Equal(t, 2, inv.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(10000).Equal(inv.Items[0].Price))
	assert.Equal(t, "Gaming - Ryzen 5 starter", inv.Items[1].Name)

	docs := p.jobs(t, models.OutboxJobKindInvoiceDocument)
	require.Len(t, docs, 1)
	require.NotNil(t, docs[0].NextAttemptAt)
	assert.True(t, docs[0].NextAttemptAt.Equal(testNow.Add(5*time.Second)), "invoice email should trail the status email")
}

func TestHandedOverTwicePostsOnce(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	so := p.confirmedOrder(t)

	_, err := p.orders.TransitionStatus(ctx, so.ID, models.SuccessOrderStatusHandedOver)
	require.NoError(t, err)
	p.clock.Advance(time.Minute)
	_, err = p.orders.TransitionStatus(ctx, so.ID, models.SuccessOrderStatusHandedOver)
	require.NoError(t, err)

	stored, err := p.orders.GetSuccessOrder(ctx, so.ID)
	require.NoError(t, err)
	again, err := p.fulfillment.Apply(ctx, stored)
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	var sales int64
	require.NoError(t, p.db.Model(&models.Transaction{}).Where("success_order_id = ?", so.ID).Count(&sales).Error)
	assert.Equal(t, int64(1), sales)
	assert.Equal(t, int64(1), p.count(t, &models.Invoice{}))
	assert.Len(t, p.jobs(t, models.OutboxJobKindInvoiceDocument), 1)
	assert.Len(t, p.jobs(t, models.OutboxJobKindStatusEmail), 1)
}

func TestFulfillment_IgnoresOtherStatuses(t *testing.T) {
	p := newPipeline(t)
	so := p.confirmedOrder(t)

	res, err := p.fulfillment.Apply(context.Background(), so)

	require.NoError(t, err)
	assert.Nil(t, res.Invoice)
	assert.Equal(t, int64(0), p.count(t, &models.Transaction{}))
}

func TestFulfillment_MissingCatalogEntrySkipsLineKeepsTotal(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	so := p.confirmedOrder(t)
	p.catalog.remove(models.ItemTypeProduct, 1)

	_, err := p.orders.TransitionStatus(ctx, so.ID, models.SuccessOrderStatusHandedOver)
	require.NoError(t, err)

	inv, err := models.FindInvoiceBySuccessOrder(ctx, p.db, so.ID)
	require.NoError(t, err)
	require.NotNil(t, inv)
	require.Len(t, inv.Items, 1)
	assert.Equal(t, "Gaming - Ryzen 5 starter", inv.Items[0].Name)
	assert.True(t, decimal.NewFromInt(170000).Equal(inv.TotalAmount))
}

func TestFulfillment_SalesPostingIsJudgedLikeAnyLedgerEntry(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	so := p.confirmedOrder(t)

	_, err := p.orders.TransitionStatus(ctx, so.ID, models.SuccessOrderStatusHandedOver)
	require.NoError(t, err)

	txn, err := models.FindSalesTransaction(ctx, p.db, so.ID)
	require.NoError(t, err)
	assert.True(t, txn.IsSuspicious)
	assert.Equal(t, "amount 170000 exceeds transaction threshold 10000", txn.SuspicionReason)

	alerts := p.jobs(t, models.OutboxJobKindSuspiciousAlert)
	require.Len(t, alerts, 1)
	var payload models.SuspiciousAlertPayload
	require.NoError(t, alerts[0].DecodePayload(&payload))
	assert.Equal(t, "admin@example.com", payload.To)
	assert.Equal(t, txn.ID, payload.EntryId)
}

func TestFulfillment_PublishesOrderEventWhenEnabled(t *testing.T) {
	p := newPipeline(t)
	p.fulfillment.PublishEvents = true
	ctx := context.Background()
	so := p.confirmedOrder(t)

	_, err := p.orders.TransitionStatus(ctx, so.ID, models.SuccessOrderStatusHandedOver)
	require.NoError(t, err)
	p.dispatcher.dispatchOnce(ctx)

	require.Len(t, p.events.events, 1)
	event := p.events.events[0]
	assert.Equal(t, so.ID, event.SuccessOrderId)
	assert.Equal(t, models.SuccessOrderStatusHandedOver, event.Status)
	assert.NotZero(t, event.InvoiceId)
	assert.NotZero(t, event.TransactionId)
}

func TestRendererFailureLeavesLedgerIntactAndRetriesToDead(t *testing.T) {
	p := newPipeline(t)
	p.dispatcher.Renderer = failingRenderer{}
	ctx := context.Background()
	so := p.confirmedOrder(t)

	_, err := p.orders.TransitionStatus(ctx, so.ID, models.SuccessOrderStatusHandedOver)
	require.NoError(t, err)

	// Attempt 1 once the delay has passed, then two retries on backoff.
	p.clock.Advance(5 * time.Second)
	require.NotPanics(t, func() { p.dispatcher.dispatchOnce(ctx) })
	p.clock.Advance(5 * time.Second)
	assert.Equal(t, 1, p.dispatcher.dispatchOnce(ctx))
	p.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, p.dispatcher.dispatchOnce(ctx))

	docs := p.jobs(t, models.OutboxJobKindInvoiceDocument)
	require.Len(t, docs, 1)
	assert.Equal(t, models.OutboxStatusDead, docs[0].Status)
	assert.Equal(t, 3, docs[0].Attempts)
	require.NotNil(t, docs[0].LastError)
	assert.Contains(t, *docs[0].LastError, "renderer unavailable")

	txn, err := models.FindSalesTransaction(ctx, p.db, so.ID)
	require.NoError(t, err)
	assert.NotNil(t, txn)
	inv, err := models.FindInvoiceBySuccessOrder(ctx, p.db, so.ID)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Empty(t, inv.DocumentPath)

	stored, err := p.orders.GetSuccessOrder(ctx, so.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SuccessOrderStatusHandedOver, stored.Status)
	assert.NotContains(t, p.sender.subjects(), "Your invoice")
}
