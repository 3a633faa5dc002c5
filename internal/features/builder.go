package features

import (
	"time"
	"unicode/utf8"

	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/rules"
)

// Feature names in their frozen contract order. The trained model's schema
// references these names; changing the order or the set is a compatibility
// break and must ship as a new model version.
var featureNames = []string{
	"page_count",
	"transaction_count",
	"text_char_count",
	"opening_balance",
	"closing_balance",
	"computed_vs_declared_delta",
	"balance_break_count",
	"balance_break_magnitude",
	"date_order_break_count",
	"max_date_gap_days",
	"duplicate_date_max_run",
	"font_count",
	"unknown_creator",
	"violation_count_low",
	"violation_count_medium",
	"violation_count_high",
}

// Names returns the frozen feature order.
func Names() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// Count returns the frozen feature dimensionality.
func Count() int {
	return len(featureNames)
}

// Builder derives the fixed-length feature vector consumed by the classifier.
// Build is total: statistics that cannot be derived from the input map to 0,
// never to a missing marker, so the scorer input shape is always valid.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build computes the feature vector for one verification run. It never fails
// and never mutates its inputs.
func (b *Builder) Build(stmt *models.CanonicalStatement, report *models.ConsistencyReport) models.FeatureVector {
	values := make([]float64, len(featureNames))

	values[0] = float64(stmt.Metadata.PageCount)
	values[1] = float64(len(stmt.Transactions))
	values[2] = float64(utf8.RuneCountInString(stmt.Text))

	if stmt.OpeningBalance != nil {
		values[3] = stmt.OpeningBalance.InexactFloat64()
	}
	if stmt.ClosingBalance != nil {
		values[4] = stmt.ClosingBalance.InexactFloat64()
	}
	if computed, ok := stmt.ComputedClosing(); ok && stmt.ClosingBalance != nil {
		values[5] = stmt.ClosingBalance.Sub(computed).Abs().InexactFloat64()
	}

	breakCount, breakMagnitude := balanceBreaks(report)
	values[6] = breakCount
	values[7] = breakMagnitude

	values[8] = float64(stmt.InputOrderBreaks)
	values[9] = maxDateGapDays(stmt.Transactions)
	values[10] = float64(longestDateRun(stmt.Transactions))
	values[11] = float64(len(stmt.Metadata.Fonts))
	values[12] = unknownCreator(report)

	values[13] = float64(report.CountBySeverity(models.SeverityLow))
	values[14] = float64(report.CountBySeverity(models.SeverityMedium))
	values[15] = float64(report.CountBySeverity(models.SeverityHigh))

	return models.FeatureVector{
		Names:  Names(),
		Values: values,
	}
}

func balanceBreaks(report *models.ConsistencyReport) (count, magnitude float64) {
	for _, v := range report.Violations {
		if v.RuleID != rules.RuleBalanceChain {
			continue
		}
		count++
		magnitude += v.Delta.Abs().InexactFloat64()
	}
	return count, magnitude
}

func unknownCreator(report *models.ConsistencyReport) float64 {
	for _, v := range report.Violations {
		if v.RuleID == rules.RuleMetaCreator {
			return 1
		}
	}
	return 0
}

func maxDateGapDays(txns []models.Transaction) float64 {
	if len(txns) < 2 {
		return 0
	}
	var max float64
	for i := 1; i < len(txns); i++ {
		gap := txns[i].Date.Sub(txns[i-1].Date).Hours() / 24
		if gap > max {
			max = gap
		}
	}
	return max
}

func longestDateRun(txns []models.Transaction) int {
	if len(txns) == 0 {
		return 0
	}
	longest, run := 1, 1
	for i := 1; i < len(txns); i++ {
		if sameDay(txns[i].Date, txns[i-1].Date) {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 1
	}
	return longest
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
