package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawStatement is the untyped field map produced by the document parser.
// All values arrive as strings in whatever locale the source document used;
// the normalizer is responsible for coercing them into a CanonicalStatement.
type RawStatement struct {
	BankName       string           `json:"bank_name"`
	StatementStart string           `json:"statement_start"`
	StatementEnd   string           `json:"statement_end"`
	OpeningBalance string           `json:"opening_balance"`
	ClosingBalance string           `json:"closing_balance"`
	Transactions   []RawTransaction `json:"transactions"`
	Metadata       RawMetadata      `json:"metadata"`
	Text           string           `json:"text"`
	Pages          []RawPageSummary `json:"pages,omitempty"`
}

// RawTransaction is a single extracted transaction row before normalization.
type RawTransaction struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Balance     string `json:"balance"`
}

// RawMetadata carries document-level metadata as reported by the parser.
type RawMetadata struct {
	PageCount  int      `json:"page_count"`
	Fonts      []string `json:"fonts"`
	Creator    string   `json:"creator"`
	Producer   string   `json:"producer"`
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	CreatedAt  string   `json:"created_at"`
	ModifiedAt string   `json:"modified_at"`
}

// RawPageSummary is the parser's optional per-page breakdown. Declared
// per-page balances enable the page carry-forward check.
type RawPageSummary struct {
	Number           int    `json:"number"`
	OpeningBalance   string `json:"opening_balance"`
	ClosingBalance   string `json:"closing_balance"`
	TransactionCount *int   `json:"transaction_count,omitempty"`
	Text             string `json:"text"`
}

// PageImage is one rendered page handed to the vision oracle.
type PageImage struct {
	Number      int    `json:"number"`
	ImageBase64 string `json:"image_base64"`
	Text        string `json:"text,omitempty"`
}

// CanonicalStatement is the normalized, typed representation of a statement.
// It is built once per verification run and never mutated afterwards.
// Transactions are stored in canonical date-ascending order;
// InputOrderBreaks records how many adjacent row pairs arrived out of order
// before the canonical sort was applied.
type CanonicalStatement struct {
	BankName         string           `json:"bank_name"`
	PeriodStart      time.Time        `json:"period_start"`
	PeriodEnd        time.Time        `json:"period_end"`
	Transactions     []Transaction    `json:"transactions"`
	OpeningBalance   *decimal.Decimal `json:"opening_balance,omitempty"`
	ClosingBalance   *decimal.Decimal `json:"closing_balance,omitempty"`
	Metadata         DocumentMetadata `json:"metadata"`
	Text             string           `json:"text"`
	Pages            []PageSummary    `json:"pages,omitempty"`
	InputOrderBreaks int              `json:"input_order_breaks"`
}

// Transaction is one normalized statement row.
type Transaction struct {
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
}

// DocumentMetadata is the normalized document-level metadata.
type DocumentMetadata struct {
	PageCount  int        `json:"page_count"`
	Fonts      []string   `json:"fonts"`
	Creator    string     `json:"creator"`
	Producer   string     `json:"producer"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// PageSummary is the normalized per-page breakdown.
type PageSummary struct {
	Number           int              `json:"number"`
	OpeningBalance   *decimal.Decimal `json:"opening_balance,omitempty"`
	ClosingBalance   *decimal.Decimal `json:"closing_balance,omitempty"`
	TransactionCount *int             `json:"transaction_count,omitempty"`
	Text             string           `json:"text,omitempty"`
}

// TransactionCount returns the number of normalized rows.
func (s *CanonicalStatement) TransactionCount() int {
	return len(s.Transactions)
}

// ComputedClosing returns the closing balance implied by the declared opening
// balance plus every signed transaction amount. The second return is false
// when no opening balance was declared.
func (s *CanonicalStatement) ComputedClosing() (decimal.Decimal, bool) {
	if s.OpeningBalance == nil {
		return decimal.Zero, false
	}
	total := *s.OpeningBalance
	for _, tx := range s.Transactions {
		total = total.Add(tx.Amount)
	}
	return total, true
}
