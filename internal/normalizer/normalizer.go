package normalizer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/verify"
)

// Transaction dates are tried against these layouts in order. Slash-separated
// dates are read day-first, matching the statement locales we ingest.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer converts parser-produced raw field maps into canonical typed
// statements. It holds no state and is safe for concurrent use.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize builds a CanonicalStatement from raw parser output. It fails with
// a MalformedDocumentError when a mandatory field is absent or any present
// field cannot be coerced deterministically. Transactions are sorted into the
// canonical date-ascending order; ties keep their input order.
func (n *Normalizer) Normalize(raw *models.RawStatement) (*models.CanonicalStatement, error) {
	if raw == nil {
		return nil, verify.NewMalformedDocument("", "empty parser output")
	}
	if len(raw.Transactions) == 0 {
		return nil, verify.NewMalformedDocument("transactions", "at least one transaction row is required")
	}

	periodStart, err := parseDate(raw.StatementStart)
	if err != nil {
		return nil, verify.NewMalformedDocument("statement_start", "unrecognized date %q", raw.StatementStart)
	}
	periodEnd, err := parseDate(raw.StatementEnd)
	if err != nil {
		return nil, verify.NewMalformedDocument("statement_end", "unrecognized date %q", raw.StatementEnd)
	}
	if periodEnd.Before(periodStart) {
		return nil, verify.NewMalformedDocument("statement_end", "period end %s precedes start %s",
			periodEnd.Format("2006-01-02"), periodStart.Format("2006-01-02"))
	}

	opening, err := parseOptionalAmount(raw.OpeningBalance)
	if err != nil {
		return nil, verify.NewMalformedDocument("opening_balance", "unrecognized amount %q", raw.OpeningBalance)
	}
	closing, err := parseOptionalAmount(raw.ClosingBalance)
	if err != nil {
		return nil, verify.NewMalformedDocument("closing_balance", "unrecognized amount %q", raw.ClosingBalance)
	}

	txns := make([]models.Transaction, 0, len(raw.Transactions))
	for i, rt := range raw.Transactions {
		tx, err := normalizeTransaction(i, rt)
		if err != nil {
			return nil, err
		}
		txns = append(txns, tx)
	}
	orderBreaks := 0
	for i := 1; i < len(txns); i++ {
		if txns[i].Date.Before(txns[i-1].Date) {
			orderBreaks++
		}
	}
	sort.SliceStable(txns, func(a, b int) bool {
		return txns[a].Date.Before(txns[b].Date)
	})

	meta, err := normalizeMetadata(raw.Metadata)
	if err != nil {
		return nil, err
	}

	pages, err := normalizePages(raw.Pages)
	if err != nil {
		return nil, err
	}

	return &models.CanonicalStatement{
		BankName:         strings.TrimSpace(raw.BankName),
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		Transactions:     txns,
		OpeningBalance:   opening,
		ClosingBalance:   closing,
		Metadata:         meta,
		Text:             raw.Text,
		Pages:            pages,
		InputOrderBreaks: orderBreaks,
	}, nil
}

func normalizeTransaction(idx int, rt models.RawTransaction) (models.Transaction, error) {
	var tx models.Transaction

	date, err := parseDate(rt.Date)
	if err != nil {
		return tx, verify.NewMalformedDocument(txField(idx, "date"), "unrecognized date %q", rt.Date)
	}
	amount, err := parseAmount(rt.Amount)
	if err != nil {
		return tx, verify.NewMalformedDocument(txField(idx, "amount"), "unrecognized amount %q", rt.Amount)
	}
	if strings.TrimSpace(rt.Balance) == "" {
		return tx, verify.NewMalformedDocument(txField(idx, "balance"), "running balance is required")
	}
	balance, err := parseAmount(rt.Balance)
	if err != nil {
		return tx, verify.NewMalformedDocument(txField(idx, "balance"), "unrecognized amount %q", rt.Balance)
	}

	tx.Date = date
	tx.Description = strings.TrimSpace(rt.Description)
	tx.Amount = amount
	tx.Balance = balance
	return tx, nil
}

func normalizeMetadata(raw models.RawMetadata) (models.DocumentMetadata, error) {
	meta := models.DocumentMetadata{
		PageCount: raw.PageCount,
		Creator:   strings.TrimSpace(raw.Creator),
		Producer:  strings.TrimSpace(raw.Producer),
		Title:     strings.TrimSpace(raw.Title),
		Author:    strings.TrimSpace(raw.Author),
	}
	if raw.PageCount < 0 {
		return meta, verify.NewMalformedDocument("metadata.page_count", "negative page count %d", raw.PageCount)
	}
	if len(raw.Fonts) > 0 {
		meta.Fonts = make([]string, 0, len(raw.Fonts))
		seen := make(map[string]struct{}, len(raw.Fonts))
		for _, f := range raw.Fonts {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			meta.Fonts = append(meta.Fonts, f)
		}
		sort.Strings(meta.Fonts)
	}

	created, err := parseOptionalTimestamp(raw.CreatedAt)
	if err != nil {
		return meta, verify.NewMalformedDocument("metadata.created_at", "unrecognized timestamp %q", raw.CreatedAt)
	}
	modified, err := parseOptionalTimestamp(raw.ModifiedAt)
	if err != nil {
		return meta, verify.NewMalformedDocument("metadata.modified_at", "unrecognized timestamp %q", raw.ModifiedAt)
	}
	meta.CreatedAt = created
	meta.ModifiedAt = modified
	return meta, nil
}

func normalizePages(raw []models.RawPageSummary) ([]models.PageSummary, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	pages := make([]models.PageSummary, 0, len(raw))
	for _, rp := range raw {
		opening, err := parseOptionalAmount(rp.OpeningBalance)
		if err != nil {
			return nil, verify.NewMalformedDocument(pageField(rp.Number, "opening_balance"),
				"unrecognized amount %q", rp.OpeningBalance)
		}
		closing, err := parseOptionalAmount(rp.ClosingBalance)
		if err != nil {
			return nil, verify.NewMalformedDocument(pageField(rp.Number, "closing_balance"),
				"unrecognized amount %q", rp.ClosingBalance)
		}
		pages = append(pages, models.PageSummary{
			Number:           rp.Number,
			OpeningBalance:   opening,
			ClosingBalance:   closing,
			TransactionCount: rp.TransactionCount,
			Text:             rp.Text,
		})
	}
	sort.SliceStable(pages, func(a, b int) bool {
		return pages[a].Number < pages[b].Number
	})
	return pages, nil
}

func txField(idx int, name string) string {
	return fmt.Sprintf("transactions[%d].%s", idx, name)
}

func pageField(number int, name string) string {
	return fmt.Sprintf("pages[%d].%s", number, name)
}

func parseDate(s string) (time.Time, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return time.Time{}, errEmpty
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, t); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, errUnrecognized
}

func parseOptionalTimestamp(s string) (*time.Time, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, nil
	}
	if strings.HasPrefix(t, "D:") {
		parsed, err := parsePDFTimestamp(t)
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, t); err == nil {
			return &parsed, nil
		}
	}
	return nil, errUnrecognized
}

// parsePDFTimestamp reads the "D:YYYYMMDDHHmmSS" form emitted by PDF writers,
// ignoring any trailing timezone suffix.
func parsePDFTimestamp(s string) (time.Time, error) {
	digits := s[2:]
	end := 0
	for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
		end++
	}
	digits = digits[:end]
	if len(digits) < 8 {
		return time.Time{}, errUnrecognized
	}
	if len(digits) > 14 {
		digits = digits[:14]
	}
	layout := "20060102150405"[:len(digits)]
	parsed, err := time.Parse(layout, digits)
	if err != nil {
		return time.Time{}, errUnrecognized
	}
	return parsed, nil
}

func parseOptionalAmount(s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := parseAmount(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseAmount coerces a locale-formatted monetary string into a decimal.
// Accounting parentheses mean negative; when both separators appear the
// rightmost one is the decimal point; a single comma is read as a decimal
// point unless exactly three digits follow it.
func parseAmount(s string) (decimal.Decimal, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return decimal.Zero, errEmpty
	}

	neg := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") && len(t) > 2 {
		neg = true
		t = t[1 : len(t)-1]
	}
	t = trimCurrency(t)
	switch {
	case strings.HasPrefix(t, "+"):
		t = t[1:]
	case strings.HasPrefix(t, "-"):
		neg = !neg
		t = t[1:]
	}
	t = trimCurrency(t)
	t = strings.Map(func(r rune) rune {
		if r == ' ' || r == ' ' || r == ' ' {
			return -1
		}
		return r
	}, t)
	if t == "" {
		return decimal.Zero, errUnrecognized
	}

	lastDot := strings.LastIndex(t, ".")
	lastComma := strings.LastIndex(t, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			t = strings.ReplaceAll(t, ",", "")
		} else {
			t = strings.ReplaceAll(t, ".", "")
			t = strings.Replace(t, ",", ".", 1)
		}
	case lastComma >= 0:
		if strings.Count(t, ",") == 1 && len(t)-lastComma-1 != 3 {
			t = strings.Replace(t, ",", ".", 1)
		} else {
			t = strings.ReplaceAll(t, ",", "")
		}
	}

	d, err := decimal.NewFromString(t)
	if err != nil {
		return decimal.Zero, errUnrecognized
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func trimCurrency(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		switch r {
		case '£', '$', '€', '¥', ' ':
			return true
		}
		return false
	})
}

var (
	errEmpty        = &parseError{"empty value"}
	errUnrecognized = &parseError{"unrecognized format"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
