package fraud

import (
	"fmt"
	"testing"
	"time"

	"github.com/alphaitsolutions/storefront_backend/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(amount int64, category string, date time.Time) models.LedgerEntry {
	return models.LedgerEntry{Amount: decimal.NewFromInt(amount), Category: category, Date: date}
}

func TestEvaluateEntry_PettyCashOverThreshold(t *testing.T) {
	v := EvaluateEntry(entry(6000, "office", testNow), nil, testNow, PettyCashRules())

	require.True(t, v.Flagged)
	require.Len(t, v.Reasons, 1)
	assert.Equal(t, "amount 6000 exceeds petty cash threshold 5000", v.Reasons[0])
}

func TestEvaluateEntry_AtThresholdNotFlagged(t *testing.T) {
	assert.False(t, EvaluateEntry(entry(5000, "office", testNow), nil, testNow, PettyCashRules()).Flagged)
	assert.False(t, EvaluateEntry(entry(10000, "rent", testNow), nil, testNow, TransactionRules()).Flagged)
	assert.True(t, EvaluateEntry(entry(10001, "rent", testNow), nil, testNow, TransactionRules()).Flagged)
}

func TestEvaluateEntry_TransactionBurst(t *testing.T) {
	var peers []models.LedgerEntry
	for i := 0; i < 4; i++ {
		peers = append(peers, entry(10, "supplies", testNow.Add(-time.Duration(i)*time.Minute)))
	}

	v := EvaluateEntry(entry(10, "supplies", testNow), peers, testNow, TransactionRules())
	assert.False(t, v.Flagged, "four persisted peers are within limit")

	peers = append(peers, entry(10, "supplies", testNow.Add(-59*time.Minute)))
	v = EvaluateEntry(entry(10, "supplies", testNow), peers, testNow, TransactionRules())
	require.True(t, v.Flagged)
	assert.Equal(t, []string{"5 transaction entries in category supplies within 1h0m0s (limit 5)"}, v.Reasons)
}

func TestEvaluateEntry_PeersOutsideWindowOrCategoryIgnored(t *testing.T) {
	var peers []models.LedgerEntry
	for i := 0; i < 20; i++ {
		peers = append(peers, entry(10, "supplies", testNow.Add(-2*time.Hour)))
		peers = append(peers, entry(10, fmt.Sprintf("other-%d", i), testNow))
	}

	v := EvaluateEntry(entry(10, "supplies", testNow), peers, testNow, PettyCashRules())

	assert.False(t, v.Flagged)
}

func TestEvaluateEntry_PettyCashBurstLimit(t *testing.T) {
	var peers []models.LedgerEntry
	for i := 0; i < 9; i++ {
		peers = append(peers, entry(10, "tea", testNow.Add(-time.Duration(i)*time.Minute)))
	}
	assert.False(t, EvaluateEntry(entry(10, "tea", testNow), peers, testNow, PettyCashRules()).Flagged)

	peers = append(peers, entry(10, "tea", testNow.Add(-time.Hour)))
	assert.True(t, EvaluateEntry(entry(10, "tea", testNow), peers, testNow, PettyCashRules()).Flagged,
		"an entry exactly one window old still counts")
}
