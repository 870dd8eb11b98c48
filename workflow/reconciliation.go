package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const rollupHandlerName = "petty-cash-rollup"

// Reconciliation holds the periodic bookkeeping jobs: the monthly petty cash
// rollup and the purge of long-resolved inquiries.
type Reconciliation struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Ledger *Ledger
	Clock  utils.Clock

	InquiryRetention time.Duration
	ClosingHour      int
	ClosingMinute    int
}

func NewReconciliation(db *gorm.DB, logger *logrus.Logger, ledger *Ledger, clock utils.Clock) *Reconciliation {
	hour, minute := config.MonthlyRollupClosingTime()
	return &Reconciliation{
		DB:               db,
		Logger:           logger,
		Ledger:           ledger,
		Clock:            utils.ClockOrSystem(clock),
		InquiryRetention: config.InquiryRetention(),
		ClosingHour:      hour,
		ClosingMinute:    minute,
	}
}

type RollupResult struct {
	Period      string              `json:"period"`
	Count       int64               `json:"count"`
	Total       decimal.Decimal     `json:"total"`
	Transaction *models.Transaction `json:"transaction"`
	// Skipped is true when the month had already been rolled up (or another
	// run is rolling it up right now).
	Skipped bool `json:"skipped"`
}

// RollupMonth posts one Expense transaction totalling the month's petty cash.
// It runs at most once per month: repeated calls return Skipped. A month with
// no petty cash posts nothing but still counts as done. A month that has not
// reached its closing window yet is refused with a ValidationError.
func (r *Reconciliation) RollupMonth(ctx context.Context, year int, month time.Month) (*RollupResult, error) {
	period := utils.PeriodKey(year, month)
	result := &RollupResult{Period: period, Total: decimal.Zero}

	from, to := utils.MonthRange(year, month, time.UTC)
	now := r.Clock.Now()
	if !r.closed(now, from, to) {
		return nil, models.NewValidationError("period", "%s is still open; it closes at %02d:%02d on its last day", period, r.ClosingHour, r.ClosingMinute)
	}

	skip, err := BeginIdempotency(r.DB.WithContext(ctx), rollupHandlerName, period, now)
	if errors.Is(err, ErrIdempotencyInProgress) {
		result.Skipped = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	if skip {
		result.Skipped = true
		return result, nil
	}

	// Post inside the month being closed, even when catching up late.
	date := now
	if !date.Before(to) {
		date = to.Add(-time.Second)
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total, count, err := models.PettyCashTotal(ctx, tx, from, to)
		if err != nil {
			return err
		}
		result.Total = total
		result.Count = count

		if count > 0 {
			periodKey := "petty-cash:" + period
			txn, err := r.Ledger.postTransactionTx(ctx, tx, &models.NewTransaction{
				Amount:      total,
				Type:        models.TransactionTypeExpense,
				Category:    models.TransactionCategoryPettyCash,
				Date:        &date,
				Description: fmt.Sprintf("Total Petty Cash for %s", month.String()),
				PeriodKey:   &periodKey,
			}, now)
			if err != nil {
				return err
			}
			result.Transaction = txn
		}
		return MarkIdempotencySucceeded(tx, rollupHandlerName, period)
	})
	if err != nil {
		if isDuplicateKeyErr(err) {
			// The period key already exists: the month was posted by an earlier run.
			_ = MarkIdempotencySucceeded(r.DB.WithContext(ctx), rollupHandlerName, period)
			result.Skipped = true
			return result, nil
		}
		_ = MarkIdempotencyFailed(r.DB.WithContext(ctx), rollupHandlerName, period, err)
		config.LogError(r.Logger, "Reconciliation", "RollupMonth", "petty cash rollup", period, err)
		return nil, err
	}

	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"field":  "Reconciliation",
			"period": period,
			"count":  result.Count,
			"total":  result.Total.String(),
			"posted": result.Transaction != nil,
		}).Info("petty cash rollup done")
	}
	if result.Transaction != nil && result.Transaction.IsSuspicious {
		r.Ledger.wake(true)
	}
	return result, nil
}

// InClosingWindow reports whether t is on the last day of its month at or
// after the closing time.
func (r *Reconciliation) InClosingWindow(t time.Time) bool {
	if !utils.IsLastDayOfMonth(t) {
		return false
	}
	closing := time.Date(t.Year(), t.Month(), t.Day(), r.ClosingHour, r.ClosingMinute, 0, 0, t.Location())
	return !t.Before(closing)
}

// closed reports whether the month [from, to) can be rolled up at now: it has
// ended, or now is inside its closing window.
func (r *Reconciliation) closed(now, from, to time.Time) bool {
	if !now.Before(to) {
		return true
	}
	return !now.Before(from) && r.InClosingWindow(now)
}

// RunMonthlyRollup is the scheduled entry point. It rolls up the previous
// month if that was missed, and the current month once the closing window
// opens. Repeated calls within a window post nothing new.
func (r *Reconciliation) RunMonthlyRollup(ctx context.Context) ([]*RollupResult, error) {
	now := r.Clock.Now()
	var results []*RollupResult

	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
	done, err := r.rolledUp(ctx, utils.PeriodKey(prev.Year(), prev.Month()))
	if err != nil {
		return nil, err
	}
	if !done {
		res, err := r.RollupMonth(ctx, prev.Year(), prev.Month())
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}

	if r.InClosingWindow(now) {
		res, err := r.RollupMonth(ctx, now.Year(), now.Month())
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Reconciliation) rolledUp(ctx context.Context, period string) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&models.IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ? AND status = ?", rollupHandlerName, period, models.IdempotencyStatusSucceeded).
		Count(&count).Error
	return count > 0, err
}

// RunResolvedPurge deletes inquiries resolved longer ago than the retention
// period. Zero matches is a normal outcome; the count is always logged.
func (r *Reconciliation) RunResolvedPurge(ctx context.Context) (int64, error) {
	cutoff := r.Clock.Now().Add(-r.InquiryRetention)
	deleted, err := models.PurgeResolvedInquiries(ctx, r.DB, cutoff)
	if err != nil {
		config.LogError(r.Logger, "Reconciliation", "RunResolvedPurge", "purging resolved inquiries", cutoff, err)
		return 0, err
	}
	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"field":   "Reconciliation",
			"cutoff":  cutoff.Format(time.RFC3339),
			"deleted": deleted,
		}).Info("resolved inquiries purged")
	}
	return deleted, nil
}
