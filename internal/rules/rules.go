package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/veridoc/stmtguard-go/internal/models"
)

// Rule identifiers, in evaluation order.
const (
	RuleBalanceChain   = "balance.chain"
	RuleBalanceOpening = "balance.opening"
	RuleBalanceClosing = "balance.closing"
	RuleBalancePages   = "balance.pages"
	RuleDateOrder      = "date.order"
	RuleDatePeriod     = "date.period"
	RuleDateDuplicates = "date.duplicates"
	RuleMetaCreator    = "meta.creator"
	RuleMetaFonts      = "meta.fonts"
	RuleMetaDates      = "meta.dates"
	RuleDocKeywords    = "doc.keywords"
	RuleTxnCount       = "txn.count"
)

func builtinRules() []Rule {
	return []Rule{
		{
			ID:          RuleBalanceChain,
			Severity:    models.SeverityHigh,
			Description: "running balance must equal the previous balance plus the signed amount",
			Evaluate:    checkBalanceChain,
		},
		{
			ID:          RuleBalanceOpening,
			Severity:    models.SeverityHigh,
			Description: "first running balance must follow from the declared opening balance",
			Evaluate:    checkBalanceOpening,
		},
		{
			ID:          RuleBalanceClosing,
			Severity:    models.SeverityHigh,
			Description: "declared closing balance must equal opening plus all signed amounts",
			Evaluate:    checkBalanceClosing,
		},
		{
			ID:          RuleBalancePages,
			Severity:    models.SeverityHigh,
			Description: "each page must open with the previous page's closing balance",
			Evaluate:    checkBalancePages,
		},
		{
			ID:          RuleDateOrder,
			Severity:    models.SeverityMedium,
			Description: "transaction dates must arrive in non-decreasing order",
			Evaluate:    checkDateOrder,
		},
		{
			ID:          RuleDatePeriod,
			Severity:    models.SeverityMedium,
			Description: "transaction dates must fall inside the statement period",
			Evaluate:    checkDatePeriod,
		},
		{
			ID:          RuleDateDuplicates,
			Severity:    models.SeverityLow,
			Description: "unusually long runs of a single transaction date",
			Evaluate:    checkDateDuplicates,
		},
		{
			ID:          RuleMetaCreator,
			Severity:    models.SeverityMedium,
			Description: "creation tool should match a known statement exporter",
			Evaluate:    checkMetaCreator,
		},
		{
			ID:          RuleMetaFonts,
			Severity:    models.SeverityLow,
			Description: "font set should stay homogeneous across the document",
			Evaluate:    checkMetaFonts,
		},
		{
			ID:          RuleMetaDates,
			Severity:    models.SeverityLow,
			Description: "modification timestamp must not precede creation",
			Evaluate:    checkMetaDates,
		},
		{
			ID:          RuleDocKeywords,
			Severity:    models.SeverityMedium,
			Description: "extracted text should contain common statement keywords",
			Evaluate:    checkDocKeywords,
		},
		{
			ID:          RuleTxnCount,
			Severity:    models.SeverityLow,
			Description: "per-page declared transaction counts must match extracted rows",
			Evaluate:    checkTxnCount,
		},
	}
}

func checkBalanceChain(stmt *models.CanonicalStatement, opts Options) Outcome {
	out := Outcome{Applicable: true}
	for i := 1; i < len(stmt.Transactions); i++ {
		prev := stmt.Transactions[i-1]
		cur := stmt.Transactions[i]
		expected := prev.Balance.Add(cur.Amount)
		delta := cur.Balance.Sub(expected).Abs()
		if delta.GreaterThan(opts.BalanceTolerance) {
			out.Violations = append(out.Violations, models.RuleViolation{
				Description: fmt.Sprintf("running balance breaks at row %d: previous balance %s plus amount %s gives %s",
					i, prev.Balance, cur.Amount, expected),
				Field:    fmt.Sprintf("transactions[%d].balance", i),
				Expected: expected.String(),
				Observed: cur.Balance.String(),
				Delta:    delta,
			})
		}
	}
	return out
}

func checkBalanceOpening(stmt *models.CanonicalStatement, opts Options) Outcome {
	if stmt.OpeningBalance == nil || len(stmt.Transactions) == 0 {
		return Outcome{}
	}
	out := Outcome{Applicable: true}
	first := stmt.Transactions[0]
	expected := stmt.OpeningBalance.Add(first.Amount)
	delta := first.Balance.Sub(expected).Abs()
	if delta.GreaterThan(opts.BalanceTolerance) {
		out.Violations = append(out.Violations, models.RuleViolation{
			Description: fmt.Sprintf("first running balance does not follow from opening balance %s",
				stmt.OpeningBalance),
			Field:    "transactions[0].balance",
			Expected: expected.String(),
			Observed: first.Balance.String(),
			Delta:    delta,
		})
	}
	return out
}

func checkBalanceClosing(stmt *models.CanonicalStatement, opts Options) Outcome {
	if stmt.ClosingBalance == nil {
		return Outcome{}
	}
	computed, ok := stmt.ComputedClosing()
	if !ok {
		return Outcome{}
	}
	out := Outcome{Applicable: true}
	delta := stmt.ClosingBalance.Sub(computed).Abs()
	if delta.GreaterThan(opts.BalanceTolerance) {
		out.Violations = append(out.Violations, models.RuleViolation{
			Description: fmt.Sprintf("declared closing balance %s disagrees with computed %s",
				stmt.ClosingBalance, computed),
			Field:    "closing_balance",
			Expected: computed.String(),
			Observed: stmt.ClosingBalance.String(),
			Delta:    delta,
		})
	}
	return out
}

func checkBalancePages(stmt *models.CanonicalStatement, opts Options) Outcome {
	links := 0
	out := Outcome{}
	for i := 1; i < len(stmt.Pages); i++ {
		prev := stmt.Pages[i-1]
		cur := stmt.Pages[i]
		if prev.ClosingBalance == nil || cur.OpeningBalance == nil {
			continue
		}
		links++
		delta := cur.OpeningBalance.Sub(*prev.ClosingBalance).Abs()
		if delta.GreaterThan(opts.BalanceTolerance) {
			out.Violations = append(out.Violations, models.RuleViolation{
				Description: fmt.Sprintf("page %d opens with %s but page %d closed with %s",
					cur.Number, cur.OpeningBalance, prev.Number, prev.ClosingBalance),
				Field:    fmt.Sprintf("pages[%d].opening_balance", cur.Number),
				Expected: prev.ClosingBalance.String(),
				Observed: cur.OpeningBalance.String(),
				Delta:    delta,
			})
		}
	}
	out.Applicable = links > 0
	if !out.Applicable {
		out.Violations = nil
	}
	return out
}

func checkDateOrder(stmt *models.CanonicalStatement, _ Options) Outcome {
	out := Outcome{Applicable: true}
	if stmt.InputOrderBreaks > 0 {
		out.Violations = append(out.Violations, models.RuleViolation{
			Description: fmt.Sprintf("%d transaction row(s) arrived out of date order", stmt.InputOrderBreaks),
			Field:       "transactions",
			Observed:    fmt.Sprintf("%d", stmt.InputOrderBreaks),
			Expected:    "0",
		})
	}
	return out
}

func checkDatePeriod(stmt *models.CanonicalStatement, _ Options) Outcome {
	out := Outcome{Applicable: true}
	for i, tx := range stmt.Transactions {
		if tx.Date.Before(stmt.PeriodStart) || tx.Date.After(stmt.PeriodEnd) {
			out.Violations = append(out.Violations, models.RuleViolation{
				Description: fmt.Sprintf("transaction dated %s falls outside the statement period",
					tx.Date.Format("2006-01-02")),
				Field:    fmt.Sprintf("transactions[%d].date", i),
				Expected: fmt.Sprintf("%s..%s", stmt.PeriodStart.Format("2006-01-02"), stmt.PeriodEnd.Format("2006-01-02")),
				Observed: tx.Date.Format("2006-01-02"),
			})
		}
	}
	return out
}

func checkDateDuplicates(stmt *models.CanonicalStatement, opts Options) Outcome {
	out := Outcome{Applicable: true}
	run := 1
	for i := 1; i < len(stmt.Transactions); i++ {
		if stmt.Transactions[i].Date.Equal(stmt.Transactions[i-1].Date) {
			run++
			continue
		}
		if run > opts.MaxDuplicateDates {
			out.Violations = append(out.Violations, duplicateDateViolation(stmt.Transactions[i-1].Date, run, opts))
		}
		run = 1
	}
	if run > opts.MaxDuplicateDates && len(stmt.Transactions) > 0 {
		last := stmt.Transactions[len(stmt.Transactions)-1]
		out.Violations = append(out.Violations, duplicateDateViolation(last.Date, run, opts))
	}
	return out
}

func duplicateDateViolation(date time.Time, run int, opts Options) models.RuleViolation {
	return models.RuleViolation{
		Description: fmt.Sprintf("%d consecutive transactions share the date %s", run, date.Format("2006-01-02")),
		Field:       "transactions",
		Expected:    fmt.Sprintf("<=%d per date", opts.MaxDuplicateDates),
		Observed:    fmt.Sprintf("%d", run),
	}
}

func checkMetaCreator(stmt *models.CanonicalStatement, opts Options) Outcome {
	creator := stmt.Metadata.Creator
	producer := stmt.Metadata.Producer
	if creator == "" && producer == "" {
		return Outcome{}
	}
	out := Outcome{Applicable: true}
	if matchesKnownTool(creator, opts.KnownCreators) || matchesKnownTool(producer, opts.KnownCreators) {
		return out
	}
	observed := creator
	if observed == "" {
		observed = producer
	}
	out.Violations = append(out.Violations, models.RuleViolation{
		Description: fmt.Sprintf("creation tool %q is not a known statement exporter", observed),
		Field:       "metadata.creator",
		Observed:    observed,
	})
	return out
}

func matchesKnownTool(tool string, known []string) bool {
	if tool == "" {
		return false
	}
	lower := strings.ToLower(tool)
	for _, k := range known {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func checkMetaFonts(stmt *models.CanonicalStatement, opts Options) Outcome {
	if len(stmt.Metadata.Fonts) == 0 {
		return Outcome{}
	}
	out := Outcome{Applicable: true}
	if len(stmt.Metadata.Fonts) > opts.MaxFontCount {
		out.Violations = append(out.Violations, models.RuleViolation{
			Description: fmt.Sprintf("document uses %d distinct fonts", len(stmt.Metadata.Fonts)),
			Field:       "metadata.fonts",
			Expected:    fmt.Sprintf("<=%d", opts.MaxFontCount),
			Observed:    fmt.Sprintf("%d", len(stmt.Metadata.Fonts)),
		})
	}
	return out
}

func checkMetaDates(stmt *models.CanonicalStatement, _ Options) Outcome {
	created := stmt.Metadata.CreatedAt
	modified := stmt.Metadata.ModifiedAt
	if created == nil || modified == nil {
		return Outcome{}
	}
	out := Outcome{Applicable: true}
	if modified.Before(*created) {
		out.Violations = append(out.Violations, models.RuleViolation{
			Description: "modification timestamp precedes creation timestamp",
			Field:       "metadata.modified_at",
			Expected:    ">=" + created.Format("2006-01-02 15:04:05"),
			Observed:    modified.Format("2006-01-02 15:04:05"),
		})
	}
	return out
}

func checkDocKeywords(stmt *models.CanonicalStatement, opts Options) Outcome {
	if strings.TrimSpace(stmt.Text) == "" {
		return Outcome{}
	}
	out := Outcome{Applicable: true}
	lower := strings.ToLower(stmt.Text)
	hits := 0
	for _, kw := range opts.StatementKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	if hits < opts.MinKeywordHits {
		out.Violations = append(out.Violations, models.RuleViolation{
			Description: fmt.Sprintf("text matches only %d of %d statement keywords; document may not be a bank statement",
				hits, len(opts.StatementKeywords)),
			Field:    "text",
			Expected: fmt.Sprintf(">=%d keywords", opts.MinKeywordHits),
			Observed: fmt.Sprintf("%d", hits),
		})
	}
	return out
}

func checkTxnCount(stmt *models.CanonicalStatement, _ Options) Outcome {
	if len(stmt.Pages) == 0 {
		return Outcome{}
	}
	declared := 0
	for _, page := range stmt.Pages {
		if page.TransactionCount == nil {
			return Outcome{}
		}
		declared += *page.TransactionCount
	}
	out := Outcome{Applicable: true}
	if declared != len(stmt.Transactions) {
		out.Violations = append(out.Violations, models.RuleViolation{
			Description: fmt.Sprintf("pages declare %d transactions but %d rows were extracted",
				declared, len(stmt.Transactions)),
			Field:    "pages",
			Expected: fmt.Sprintf("%d", len(stmt.Transactions)),
			Observed: fmt.Sprintf("%d", declared),
		})
	}
	return out
}
