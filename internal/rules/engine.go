package rules

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/models"
)

// Options carries the tunable inputs for the builtin rule table. Zero values
// are replaced by the defaults from DefaultOptions.
type Options struct {
	BalanceTolerance  decimal.Decimal
	MaxFontCount      int
	MaxDuplicateDates int
	KnownCreators     []string
	StatementKeywords []string
	MinKeywordHits    int
	Overrides         map[string]Override
}

// Override adjusts a single rule from configuration without code changes.
type Override struct {
	Enabled  *bool
	Severity models.Severity
}

// DefaultOptions returns the rule options used when configuration does not
// say otherwise.
func DefaultOptions() Options {
	return Options{
		BalanceTolerance:  decimal.NewFromFloat(0.01),
		MaxFontCount:      4,
		MaxDuplicateDates: 10,
		KnownCreators: []string{
			"BankExport",
			"Crystal Reports",
			"iText",
			"Quadient",
			"wkhtmltopdf",
		},
		StatementKeywords: []string{
			"statement date",
			"account number",
			"balance",
			"sort code",
			"account summary",
		},
		MinKeywordHits: 2,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BalanceTolerance.IsZero() {
		o.BalanceTolerance = def.BalanceTolerance
	}
	if o.MaxFontCount <= 0 {
		o.MaxFontCount = def.MaxFontCount
	}
	if o.MaxDuplicateDates <= 0 {
		o.MaxDuplicateDates = def.MaxDuplicateDates
	}
	if len(o.KnownCreators) == 0 {
		o.KnownCreators = def.KnownCreators
	}
	if len(o.StatementKeywords) == 0 {
		o.StatementKeywords = def.StatementKeywords
	}
	if o.MinKeywordHits <= 0 {
		o.MinKeywordHits = def.MinKeywordHits
	}
	return o
}

// Outcome is what a single rule reports back to the engine. A rule that lacks
// the optional inputs it needs sets Applicable to false and is recorded as
// skipped, never as passed.
type Outcome struct {
	Applicable bool
	Violations []models.RuleViolation
}

// Rule is one deterministic check over a canonical statement. Evaluate must
// be a pure predicate: no I/O, no mutation, no panics on missing optional
// fields.
type Rule struct {
	ID          string
	Severity    models.Severity
	Description string
	Evaluate    func(stmt *models.CanonicalStatement, opts Options) Outcome
}

// Engine evaluates the ordered rule table against canonical statements. It is
// built once at startup and is safe for concurrent use; the rule table is
// never mutated after construction.
type Engine struct {
	rules  []Rule
	opts   Options
	logger *logrus.Logger
}

// NewEngine builds an engine from the builtin rule table with the given
// options and per-rule overrides applied.
func NewEngine(opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withDefaults()

	table := builtinRules()
	rules := make([]Rule, 0, len(table))
	for _, rule := range table {
		if ov, ok := opts.Overrides[rule.ID]; ok {
			if ov.Enabled != nil && !*ov.Enabled {
				continue
			}
			if ov.Severity != "" {
				rule.Severity = ov.Severity
			}
		}
		rules = append(rules, rule)
	}

	return &Engine{
		rules:  rules,
		opts:   opts,
		logger: logger,
	}
}

// RuleCount returns the number of enabled rules.
func (e *Engine) RuleCount() int {
	return len(e.rules)
}

// Evaluate runs every enabled rule in table order and collects all
// violations. Rules that could not evaluate are listed in the report's
// Skipped field. Multiple rules flagging the same field are all retained.
func (e *Engine) Evaluate(stmt *models.CanonicalStatement) models.ConsistencyReport {
	report := models.ConsistencyReport{
		Violations: []models.RuleViolation{},
	}

	for _, rule := range e.rules {
		outcome := rule.Evaluate(stmt, e.opts)
		if !outcome.Applicable {
			report.Skipped = append(report.Skipped, rule.ID)
			continue
		}
		report.Evaluated++
		for _, violation := range outcome.Violations {
			violation.RuleID = rule.ID
			violation.Severity = rule.Severity
			report.Violations = append(report.Violations, violation)

			e.logger.WithFields(logrus.Fields{
				"rule":     rule.ID,
				"severity": rule.Severity,
				"field":    violation.Field,
			}).Debug("Consistency rule violated")
		}
	}

	return report
}
