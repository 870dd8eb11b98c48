// petty-cash-rollup posts the monthly petty cash Expense for a range of past
// months. Months already rolled up are reported as skipped, so reruns are
// safe.
//
// Usage:
//
//	go run ./cmd/petty-cash-rollup -from=2025-07 -to=2026-02
//	go run ./cmd/petty-cash-rollup -from=2026-02 -dry-run
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alphaitsolutions/storefront_backend/config"
	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/alphaitsolutions/storefront_backend/utils"
	"github.com/alphaitsolutions/storefront_backend/workflow"
)

func main() {
	from := flag.String("from", "", "Required: first month (YYYY-MM)")
	to := flag.String("to", "", "Optional: last month (YYYY-MM). Defaults to -from.")
	dryRun := flag.Bool("dry-run", false, "If true, only print each month's total")
	flag.Parse()

	start, err := time.Parse("2006-01", strings.TrimSpace(*from))
	if err != nil {
		fmt.Fprintln(os.Stderr, "--from must be YYYY-MM")
		os.Exit(1)
	}
	end := start
	if strings.TrimSpace(*to) != "" {
		if end, err = time.Parse("2006-01", strings.TrimSpace(*to)); err != nil {
			fmt.Fprintln(os.Stderr, "--to must be YYYY-MM")
			os.Exit(1)
		}
	}
	if end.Before(start) {
		fmt.Fprintln(os.Stderr, "--to is before --from")
		os.Exit(1)
	}

	clock := utils.SystemClock{}
	thisMonth, _ := utils.MonthRange(clock.Now().Year(), clock.Now().Month(), time.UTC)
	if !end.Before(thisMonth) {
		fmt.Fprintln(os.Stderr, "only closed months can be rolled up here; the scheduler closes the current month")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := utils.SetUserNameInContext(context.Background(), "PettyCashRollup")

	ledger := workflow.NewLedger(db, logger, clock, nil, nil)
	reconciliation := workflow.NewReconciliation(db, logger, ledger, clock)

	for month := start; !month.After(end); month = month.AddDate(0, 1, 0) {
		period := utils.PeriodKey(month.Year(), month.Month())
		if *dryRun {
			lo, hi := utils.MonthRange(month.Year(), month.Month(), time.UTC)
			total, count, err := models.PettyCashTotal(ctx, db, lo, hi)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", period, err)
				os.Exit(1)
			}
			fmt.Printf("%s entries=%d total=%s [dry-run]\n", period, count, total.String())
			continue
		}

		res, err := reconciliation.RollupMonth(ctx, month.Year(), month.Month())
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", period, err)
			os.Exit(1)
		}
		switch {
		case res.Skipped:
			fmt.Printf("%s skipped (already rolled up)\n", period)
		case res.Transaction == nil:
			fmt.Printf("%s no petty cash\n", period)
		default:
			fmt.Printf("%s posted transaction id=%d total=%s\n", period, res.Transaction.ID, res.Total.String())
		}
	}
}
