package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/fraud"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	entryKindTransaction = "transaction"
	entryKindPettyCash   = "petty_cash"
)

// Waker nudges the outbox dispatcher after new jobs commit.
type Waker interface {
	Wake()
}

// Ledger posts Transactions and PettyCash entries. Every entry is judged by
// the entry-level fraud heuristics before it is written; a suspicious entry
// is still written and queues an admin alert in the same DB transaction.
type Ledger struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Clock  utils.Clock
	// Locker narrows the check-then-insert window per category across
	// instances. Nil disables it.
	Locker *redislock.Client
	Outbox Waker

	TransactionRules fraud.EntryRules
	PettyCashRules   fraud.EntryRules
	AlertEmail       string
	AlertMaxAttempts int
}

func NewLedger(db *gorm.DB, logger *logrus.Logger, clock utils.Clock, locker *redislock.Client, outbox Waker) *Ledger {
	return &Ledger{
		DB:               db,
		Logger:           logger,
		Clock:            utils.ClockOrSystem(clock),
		Locker:           locker,
		Outbox:           outbox,
		TransactionRules: fraud.TransactionRules(),
		PettyCashRules:   fraud.PettyCashRules(),
		AlertEmail:       config.AdminAlertEmail(),
		AlertMaxAttempts: config.DocumentMaxAttempts(),
	}
}

func (l *Ledger) PostTransaction(ctx context.Context, input *models.NewTransaction) (*models.Transaction, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	unlock := l.lockCategory(ctx, entryKindTransaction, input.Category)
	defer unlock()

	var txn *models.Transaction
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = l.postTransactionTx(ctx, tx, input, l.Clock.Now())
		return err
	})
	if err != nil {
		config.LogError(l.Logger, "Ledger", "PostTransaction", "posting transaction", input, err)
		return nil, err
	}
	l.wake(txn.IsSuspicious)
	return txn, nil
}

// postTransactionTx evaluates and inserts inside the caller's transaction.
// The entry is not yet persisted while its peers are counted.
func (l *Ledger) postTransactionTx(ctx context.Context, tx *gorm.DB, input *models.NewTransaction, now time.Time) (*models.Transaction, error) {
	date := now
	if input.Date != nil {
		date = input.Date.UTC()
	}
	txn := &models.Transaction{
		Amount:         input.Amount,
		Type:           input.Type,
		Category:       input.Category,
		Date:           date,
		Description:    input.Description,
		SuccessOrderId: input.SuccessOrderId,
		PeriodKey:      input.PeriodKey,
		CreatedAt:      now,
	}

	peers, err := models.RecentTransactions(ctx, tx, txn.Category, now.Add(-l.TransactionRules.Window))
	if err != nil {
		return nil, err
	}
	verdict := fraud.EvaluateEntry(txn.Entry(), peers, now, l.TransactionRules)
	txn.IsSuspicious = verdict.Flagged
	txn.SuspicionReason = verdict.Reason()

	if err := tx.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	if txn.IsSuspicious {
		if err := l.enqueueAlert(ctx, tx, entryKindTransaction, txn.ID, txn.Entry(), txn.SuspicionReason, now); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

func (l *Ledger) AddPettyCash(ctx context.Context, input *models.NewPettyCash) (*models.PettyCash, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	unlock := l.lockCategory(ctx, entryKindPettyCash, input.Category)
	defer unlock()

	now := l.Clock.Now()
	date := now
	if input.Date != nil {
		date = input.Date.UTC()
	}
	entry := &models.PettyCash{
		Amount:      input.Amount,
		Purpose:     input.Purpose,
		Category:    input.Category,
		Date:        date,
		Description: input.Description,
		CreatedAt:   now,
	}

	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		peers, err := models.RecentPettyCash(ctx, tx, entry.Category, now.Add(-l.PettyCashRules.Window))
		if err != nil {
			return err
		}
		verdict := fraud.EvaluateEntry(entry.Entry(), peers, now, l.PettyCashRules)
		entry.IsSuspicious = verdict.Flagged
		entry.SuspicionReason = verdict.Reason()

		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if entry.IsSuspicious {
			return l.enqueueAlert(ctx, tx, entryKindPettyCash, entry.ID, entry.Entry(), entry.SuspicionReason, now)
		}
		return nil
	})
	if err != nil {
		config.LogError(l.Logger, "Ledger", "AddPettyCash", "adding petty cash", input, err)
		return nil, err
	}
	l.wake(entry.IsSuspicious)
	return entry, nil
}

func (l *Ledger) enqueueAlert(ctx context.Context, tx *gorm.DB, kind string, id int, e models.LedgerEntry, reason string, now time.Time) error {
	if l.Logger != nil {
		l.Logger.WithFields(logrus.Fields{
			"field":    "Ledger",
			"kind":     kind,
			"id":       id,
			"category": e.Category,
			"amount":   e.Amount.String(),
		}).Warn("suspicious entry: " + reason)
	}
	job, err := models.NewOutboxJob(models.OutboxJobKindSuspiciousAlert, models.SuspiciousAlertDedupKey(kind, id),
		models.SuspiciousAlertPayload{
			EntryKind: kind,
			EntryId:   id,
			Amount:    e.Amount,
			Category:  e.Category,
			Reason:    reason,
			To:        l.AlertEmail,
		}, l.AlertMaxAttempts, now, 0)
	if err != nil {
		return err
	}
	_, err = models.EnqueueOutboxJob(ctx, tx, job)
	return err
}

func (l *Ledger) wake(queued bool) {
	if queued && l.Outbox != nil {
		l.Outbox.Wake()
	}
}

// lockCategory takes a best-effort Redis lock on the category. Without Redis,
// or when the lock cannot be had in time, posting proceeds unlocked.
func (l *Ledger) lockCategory(ctx context.Context, kind, category string) func() {
	if l.Locker == nil {
		return func() {}
	}
	key := fmt.Sprintf("ledger:%s:%s", kind, category)
	lock, err := l.Locker.Obtain(ctx, key, 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 40),
	})
	if err != nil {
		if l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{
				"field": "Ledger",
				"key":   key,
			}).Warn("posting without category lock: " + err.Error())
		}
		return func() {}
	}
	return func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}
}

func (l *Ledger) ListTransactions(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	return models.ListTransactions(ctx, l.DB, f)
}

func (l *Ledger) ListPettyCash(ctx context.Context, from, to *time.Time, limit int) ([]models.PettyCash, error) {
	return models.ListPettyCash(ctx, l.DB, from, to, limit)
}
