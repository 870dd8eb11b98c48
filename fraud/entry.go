package fraud

import (
	"fmt"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/shopspring/decimal"
)

// EntryRules configure the ledger-entry heuristics. Label names the entry kind
// in reasons ("transaction", "petty cash").
type EntryRules struct {
	Threshold   decimal.Decimal
	Window      time.Duration
	MaxInWindow int
	Label       string
}

func TransactionRules() EntryRules {
	return EntryRules{
		Threshold:   decimal.NewFromInt(10000),
		Window:      time.Hour,
		MaxInWindow: 5,
		Label:       "transaction",
	}
}

func PettyCashRules() EntryRules {
	return EntryRules{
		Threshold:   decimal.NewFromInt(5000),
		Window:      time.Hour,
		MaxInWindow: 10,
		Label:       "petty cash",
	}
}

// EvaluateEntry judges a not-yet-persisted entry against already persisted
// peers. Peers outside the category or the window are ignored, so callers may
// pass a superset.
func EvaluateEntry(entry models.LedgerEntry, peers []models.LedgerEntry, now time.Time, rules EntryRules) Verdict {
	var reasons []string

	if entry.Amount.GreaterThan(rules.Threshold) {
		reasons = append(reasons, fmt.Sprintf("amount %s exceeds %s threshold %s",
			entry.Amount.String(), rules.Label, rules.Threshold.String()))
	}

	since := now.Add(-rules.Window)
	count := 0
	for _, p := range peers {
		if p.Category != entry.Category {
			continue
		}
		if p.Date.Before(since) {
			continue
		}
		count++
	}
	if count >= rules.MaxInWindow {
		reasons = append(reasons, fmt.Sprintf("%d %s entries in category %s within %s (limit %d)",
			count, rules.Label, entry.Category, rules.Window, rules.MaxInWindow))
	}

	return verdictOf(reasons)
}
