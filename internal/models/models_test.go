package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestComputedClosing(t *testing.T) {
	opening := dec("500.00")
	stmt := &CanonicalStatement{
		OpeningBalance: &opening,
		Transactions: []Transaction{
			{Date: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), Amount: dec("100.00")},
			{Date: time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC), Amount: dec("-25.50")},
		},
	}

	closing, ok := stmt.ComputedClosing()
	require.True(t, ok)
	assert.True(t, closing.Equal(dec("574.50")), "got %s", closing)
}

func TestComputedClosing_NoOpeningBalance(t *testing.T) {
	stmt := &CanonicalStatement{
		Transactions: []Transaction{{Amount: dec("100.00")}},
	}

	_, ok := stmt.ComputedClosing()
	assert.False(t, ok)
}

func TestComputedClosing_NoTransactions(t *testing.T) {
	opening := dec("500.00")
	stmt := &CanonicalStatement{OpeningBalance: &opening}

	closing, ok := stmt.ComputedClosing()
	require.True(t, ok)
	assert.True(t, closing.Equal(opening))
}

func TestConsistencyReport_SeverityCounts(t *testing.T) {
	report := ConsistencyReport{
		Violations: []RuleViolation{
			{RuleID: "balance.chain", Severity: SeverityHigh},
			{RuleID: "balance.closing", Severity: SeverityHigh},
			{RuleID: "meta.fonts", Severity: SeverityMedium},
			{RuleID: "doc.keywords", Severity: SeverityLow},
		},
	}

	assert.Equal(t, 2, report.CountBySeverity(SeverityHigh))
	assert.Equal(t, 1, report.CountBySeverity(SeverityMedium))
	assert.Equal(t, 1, report.CountBySeverity(SeverityLow))
	assert.True(t, report.HasSeverity(SeverityHigh))
}

func TestConsistencyReport_Empty(t *testing.T) {
	var report ConsistencyReport
	assert.Equal(t, 0, report.CountBySeverity(SeverityHigh))
	assert.False(t, report.HasSeverity(SeverityLow))
}

func TestVerdictLabel_Rank(t *testing.T) {
	assert.Equal(t, 0, LabelAuthentic.Rank())
	assert.Equal(t, 1, LabelSuspicious.Rank())
	assert.Equal(t, 2, LabelForged.Rank())
	assert.Equal(t, -1, VerdictLabel("bogus").Rank())

	assert.Less(t, LabelAuthentic.Rank(), LabelSuspicious.Rank())
	assert.Less(t, LabelSuspicious.Rank(), LabelForged.Rank())
}

func TestTransactionCount(t *testing.T) {
	stmt := &CanonicalStatement{
		Transactions: make([]Transaction, 7),
	}
	assert.Equal(t, 7, stmt.TransactionCount())
}
