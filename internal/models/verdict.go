package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity classifies how strongly a rule violation indicates tampering.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RuleViolation is a single deterministic inconsistency flagged by the
// consistency checker. Violations are immutable; multiple rules may flag the
// same field and all of them are retained.
type RuleViolation struct {
	RuleID      string          `json:"rule_id"`
	Severity    Severity        `json:"severity"`
	Description string          `json:"description"`
	Field       string          `json:"field"`
	Expected    string          `json:"expected,omitempty"`
	Observed    string          `json:"observed,omitempty"`
	Delta       decimal.Decimal `json:"delta"`
}

// ConsistencyReport is the full output of one checker pass. Skipped lists the
// rules that could not evaluate because an optional input was absent.
type ConsistencyReport struct {
	Violations []RuleViolation `json:"violations"`
	Skipped    []string        `json:"skipped,omitempty"`
	Evaluated  int             `json:"evaluated"`
}

// CountBySeverity returns how many violations carry the given severity.
func (r *ConsistencyReport) CountBySeverity(sev Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == sev {
			n++
		}
	}
	return n
}

// HasSeverity reports whether any violation carries the given severity.
func (r *ConsistencyReport) HasSeverity(sev Severity) bool {
	return r.CountBySeverity(sev) > 0
}

// FeatureVector is a fixed-order sequence of named numeric features. The name
// order is part of the frozen model contract; the scorer rejects any vector
// whose names do not match the loaded model schema exactly.
type FeatureVector struct {
	Names  []string  `json:"names"`
	Values []float64 `json:"values"`
}

// ClassifierScore is the statistical model's output for one run.
type ClassifierScore struct {
	Probability  float64 `json:"probability"`
	ModelVersion string  `json:"model_version"`
}

// TamperState is the oracle's per-page tampering call.
type TamperState string

const (
	TamperYes     TamperState = "yes"
	TamperNo      TamperState = "no"
	TamperUnknown TamperState = "unknown"
)

// PageFlag is the normalized per-page outcome of the vision cross-check.
type PageFlag struct {
	Page              int         `json:"page"`
	Tampered          TamperState `json:"tampered"`
	TextSimilarity    float64     `json:"text_similarity"`
	NumericMatchRatio float64     `json:"numeric_match_ratio"`
	Note              string      `json:"note,omitempty"`
}

// VisionJudgment is the normalized oracle verdict for the whole document.
// A nil *VisionJudgment means the oracle was unavailable for the run.
type VisionJudgment struct {
	TamperLikelihood float64    `json:"tamper_likelihood"`
	Rationale        string     `json:"rationale"`
	PageFlags        []PageFlag `json:"page_flags,omitempty"`
	Classification   string     `json:"classification,omitempty"`
	LatencyMS        int64      `json:"latency_ms"`
}

// VerdictLabel is the final authenticity call for a document.
type VerdictLabel string

const (
	LabelAuthentic  VerdictLabel = "authentic"
	LabelSuspicious VerdictLabel = "suspicious"
	LabelForged     VerdictLabel = "forged"
)

// Rank orders labels from least to most severe.
func (l VerdictLabel) Rank() int {
	switch l {
	case LabelAuthentic:
		return 0
	case LabelSuspicious:
		return 1
	case LabelForged:
		return 2
	default:
		return -1
	}
}

// Reason is one contributing signal in a verdict's explanation trail, ranked
// by its weighted contribution to the fused risk score.
type Reason struct {
	Source       string          `json:"source"`
	Summary      string          `json:"summary"`
	Contribution decimal.Decimal `json:"contribution"`
}

// Verdict is the terminal artifact of a verification run. It is written once
// and never mutated.
type Verdict struct {
	ID                  string          `json:"id" db:"id"`
	DocumentFingerprint string          `json:"document_fingerprint" db:"document_fingerprint"`
	Label               VerdictLabel    `json:"label" db:"label"`
	Confidence          decimal.Decimal `json:"confidence" db:"confidence"`
	Risk                decimal.Decimal `json:"risk" db:"risk"`
	Reasons             []Reason        `json:"reasons" db:"reasons"`
	ModelVersion        string          `json:"model_version" db:"model_version"`
	OracleAvailable     bool            `json:"oracle_available" db:"oracle_available"`
	OracleError         string          `json:"oracle_error,omitempty" db:"oracle_error"`
	OracleLatencyMS     int64           `json:"oracle_latency_ms" db:"oracle_latency_ms"`
	ViolationCount      int             `json:"violation_count" db:"violation_count"`
	HighSeverityCount   int             `json:"high_severity_count" db:"high_severity_count"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// ActivityProfile is an advisory summary of transaction flow for a statement.
// It is reported alongside the verdict and never feeds the classifier.
type ActivityProfile struct {
	SampleCount      int             `json:"sample_count"`
	MeanAmount       decimal.Decimal `json:"mean_amount"`
	AmountVolatility decimal.Decimal `json:"amount_volatility"`
	LargestDeviation decimal.Decimal `json:"largest_deviation"`
	NetFlow          decimal.Decimal `json:"net_flow"`
	SMAPeriod        int             `json:"sma_period"`
}

// VerifyRequest is the API payload for one verification run.
type VerifyRequest struct {
	Document RawStatement `json:"document"`
	Pages    []PageImage  `json:"pages,omitempty"`
}

// VerifyResponse is the API reply for one verification run.
type VerifyResponse struct {
	Verdict  Verdict          `json:"verdict"`
	Activity *ActivityProfile `json:"activity,omitempty"`
	Skipped  []string         `json:"skipped_rules,omitempty"`
	CacheHit bool             `json:"cache_hit"`
}

// VerdictHistoryResponse lists the append-only verdicts stored for one
// document fingerprint, newest first.
type VerdictHistoryResponse struct {
	Fingerprint string    `json:"fingerprint"`
	Verdicts    []Verdict `json:"verdicts"`
	Count       int       `json:"count"`
	Timestamp   time.Time `json:"timestamp"`
}
