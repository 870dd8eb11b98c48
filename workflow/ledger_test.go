package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pettyCash(amount int64, category string) *models.NewPettyCash {
	return &models.NewPettyCash{
		Amount:   decimal.NewFromInt(amount),
		Purpose:  "Office supplies",
		Category: category,
	}
}

func expense(amount int64, category string) *models.NewTransaction {
	return &models.NewTransaction{
		Amount:   decimal.NewFromInt(amount),
		Type:     models.TransactionTypeExpense,
		Category: category,
	}
}

func TestAddPettyCash_OverThresholdIsSuspicious(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	entry, err := p.ledger.AddPettyCash(ctx, pettyCash(6000, "Stationery"))
	require.NoError(t, err)

	assert.True(t, entry.IsSuspicious)
	assert.Equal(t, "amount 6000 exceeds petty cash threshold 5000", entry.SuspicionReason)

	alerts := p.jobs(t, models.OutboxJobKindSuspiciousAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.SuspiciousAlertDedupKey(entryKindPettyCash, entry.ID), alerts[0].DedupKey)

	p.dispatcher.dispatchOnce(ctx)
	msgs := p.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Suspicious Petty Cash Alert", msgs[0].Subject)
	assert.Equal(t, "admin@example.com", msgs[0].To)
	assert.Contains(t, msgs[0].Body, "amount 6000 exceeds petty cash threshold 5000")
}

func TestAddPettyCash_AtThresholdIsClean(t *testing.T) {
	p := newPipeline(t)

	entry, err := p.ledger.AddPettyCash(context.Background(), pettyCash(5000, "Stationery"))
	require.NoError(t, err)

	assert.False(t, entry.IsSuspicious)
	assert.Empty(t, entry.SuspicionReason)
	assert.Empty(t, p.jobs(t, models.OutboxJobKindSuspiciousAlert))
}

func TestAddPettyCash_RejectsInvalidInput(t *testing.T) {
	p := newPipeline(t)

	_, err := p.ledger.AddPettyCash(context.Background(), pettyCash(0, "Stationery"))
	assert.True(t, models.IsValidation(err))

	_, err = p.ledger.AddPettyCash(context.Background(), pettyCash(100, ""))
	assert.True(t, models.IsValidation(err))

	assert.Equal(t, int64(0), p.count(t, &models.PettyCash{}))
}

func TestPostTransaction_EntryDoesNotCountItself(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		txn, err := p.ledger.PostTransaction(ctx, expense(100, "office"))
		require.NoError(t, err)
		assert.False(t, txn.IsSuspicious, "entry %d flagged: %s", i+1, txn.SuspicionReason)
		p.clock.Advance(time.Minute)
	}

	sixth, err := p.ledger.PostTransaction(ctx, expense(100, "office"))
	require.NoError(t, err)
	assert.True(t, sixth.IsSuspicious)
	assert.Equal(t, "5 transaction entries in category office within 1h0m0s (limit 5)", sixth.SuspicionReason)
}

func TestPostTransaction_PeersOutsideWindowOrCategoryIgnored(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	old := testNow.Add(-2 * time.Hour)
	for i := 0; i < 5; i++ {
		in := expense(100, "office")
		in.Date = &old
		_, err := p.ledger.PostTransaction(ctx, in)
		require.NoError(t, err)
		_, err = p.ledger.PostTransaction(ctx, expense(100, "travel"))
		require.NoError(t, err)
	}

	txn, err := p.ledger.PostTransaction(ctx, expense(100, "office"))
	require.NoError(t, err)
	assert.False(t, txn.IsSuspicious, txn.SuspicionReason)
}

func TestPostTransaction_BothHeuristicsJoined(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := p.ledger.PostTransaction(ctx, expense(100, "office"))
		require.NoError(t, err)
	}
	txn, err := p.ledger.PostTransaction(ctx, expense(25000, "office"))
	require.NoError(t, err)

	assert.True(t, txn.IsSuspicious)
	assert.Equal(t,
		"amount 25000 exceeds transaction threshold 10000, 5 transaction entries in category office within 1h0m0s (limit 5)",
		txn.SuspicionReason)
}

// Without the Redis category lock, concurrent postings can each count the
// same peers. Every entry is still written; the burst flag is advisory and
// may under-report, never over-report.
func TestAddPettyCash_ConcurrentBurstWritesEveryEntry(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	const posts = 12
	var wg sync.WaitGroup
	errs := make(chan error, posts)
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ledger.AddPettyCash(ctx, pettyCash(100, "Tea"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(posts), p.count(t, &models.PettyCash{}))
	var flagged int64
	require.NoError(t, p.db.Model(&models.PettyCash{}).Where("is_suspicious = ?", true).Count(&flagged).Error)
	assert.LessOrEqual(t, flagged, int64(posts-10))
}

func TestLedgerListings(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ledger.PostTransaction(ctx, expense(100, "office"))
	require.NoError(t, err)
	income := expense(300, "sales")
	income.Type = models.TransactionTypeIncome
	_, err = p.ledger.PostTransaction(ctx, income)
	require.NoError(t, err)
	_, err = p.ledger.AddPettyCash(ctx, pettyCash(50, "Tea"))
	require.NoError(t, err)

	expenseType := models.TransactionTypeExpense
	rows, err := p.ledger.ListTransactions(ctx, models.TransactionFilter{Type: &expenseType})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "office", rows[0].Category)

	all, err := p.ledger.ListTransactions(ctx, models.TransactionFilter{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	from := testNow.Add(-time.Hour)
	cash, err := p.ledger.ListPettyCash(ctx, &from, nil, 0)
	require.NoError(t, err)
	assert.Len(t, cash, 1)
}
