package fusion

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/models"
)

var one = decimal.NewFromInt(1)

// Engine folds the three verification signals into a single verdict. It holds
// only the fusion policy loaded at startup and performs no I/O, so one engine
// is shared across all requests.
type Engine struct {
	violationWeight  decimal.Decimal
	classifierWeight decimal.Decimal
	visionWeight     decimal.Decimal
	lowThreshold     decimal.Decimal
	highThreshold    decimal.Decimal
	severityLow      decimal.Decimal
	severityMedium   decimal.Decimal
	severityHigh     decimal.Decimal
	saturation       decimal.Decimal
}

// NewEngine builds an engine from the validated fusion configuration.
func NewEngine(cfg *config.FusionConfig) *Engine {
	return &Engine{
		violationWeight:  decimal.NewFromFloat(cfg.Weights.Violations),
		classifierWeight: decimal.NewFromFloat(cfg.Weights.Classifier),
		visionWeight:     decimal.NewFromFloat(cfg.Weights.Vision),
		lowThreshold:     decimal.NewFromFloat(cfg.Thresholds.Low),
		highThreshold:    decimal.NewFromFloat(cfg.Thresholds.High),
		severityLow:      decimal.NewFromFloat(cfg.SeverityWeights.Low),
		severityMedium:   decimal.NewFromFloat(cfg.SeverityWeights.Medium),
		severityHigh:     decimal.NewFromFloat(cfg.SeverityWeights.High),
		saturation:       decimal.NewFromFloat(cfg.ViolationSaturation),
	}
}

// Fuse combines the consistency report, the classifier score and the optional
// vision judgment into a verdict. A nil vision judgment drops the vision term
// and renormalizes the remaining weights; oracleErr, when set, is recorded as
// the verdict's oracle annotation. Run identity (ID, fingerprint, timestamp)
// is left for the caller so identical inputs always fuse to identical output.
func (e *Engine) Fuse(report *models.ConsistencyReport, score models.ClassifierScore, vision *models.VisionJudgment, oracleErr error) models.Verdict {
	violationScore := e.violationScore(report)
	probability := decimal.NewFromFloat(score.Probability)

	weightedSum := e.violationWeight.Mul(violationScore).Add(e.classifierWeight.Mul(probability))
	totalWeight := e.violationWeight.Add(e.classifierWeight)
	if vision != nil {
		likelihood := decimal.NewFromFloat(vision.TamperLikelihood)
		weightedSum = weightedSum.Add(e.visionWeight.Mul(likelihood))
		totalWeight = totalWeight.Add(e.visionWeight)
	}
	risk := weightedSum.Div(totalWeight)

	label := e.label(risk)
	if report.HasSeverity(models.SeverityHigh) && label.Rank() < models.LabelSuspicious.Rank() {
		label = models.LabelSuspicious
	}

	verdict := models.Verdict{
		Label:             label,
		Confidence:        e.confidence(label, risk),
		Risk:              risk,
		Reasons:           e.reasons(report, score, vision, violationScore, probability, totalWeight),
		ModelVersion:      score.ModelVersion,
		OracleAvailable:   vision != nil,
		ViolationCount:    len(report.Violations),
		HighSeverityCount: report.CountBySeverity(models.SeverityHigh),
	}
	if vision != nil {
		verdict.OracleLatencyMS = vision.LatencyMS
	}
	if oracleErr != nil {
		verdict.OracleError = oracleErr.Error()
	}
	return verdict
}

// violationScore sums the severity weights of every violation, divides by the
// saturation constant and caps at 1, so a handful of high findings maxes the
// signal out instead of growing without bound.
func (e *Engine) violationScore(report *models.ConsistencyReport) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range report.Violations {
		sum = sum.Add(e.severityWeight(v.Severity))
	}
	score := sum.Div(e.saturation)
	if score.GreaterThan(one) {
		return one
	}
	return score
}

func (e *Engine) severityWeight(sev models.Severity) decimal.Decimal {
	switch sev {
	case models.SeverityHigh:
		return e.severityHigh
	case models.SeverityMedium:
		return e.severityMedium
	default:
		return e.severityLow
	}
}

func (e *Engine) label(risk decimal.Decimal) models.VerdictLabel {
	switch {
	case risk.GreaterThanOrEqual(e.highThreshold):
		return models.LabelForged
	case risk.GreaterThanOrEqual(e.lowThreshold):
		return models.LabelSuspicious
	default:
		return models.LabelAuthentic
	}
}

// confidence is the normalized distance of the risk score from the nearest
// decision threshold, clamped to [0,1]. A floored label can sit below the low
// threshold; the clamp reports those runs as zero confidence.
func (e *Engine) confidence(label models.VerdictLabel, risk decimal.Decimal) decimal.Decimal {
	var conf decimal.Decimal
	switch label {
	case models.LabelAuthentic:
		conf = e.lowThreshold.Sub(risk).Div(e.lowThreshold)
	case models.LabelForged:
		conf = risk.Sub(e.highThreshold).Div(one.Sub(e.highThreshold))
	default:
		halfBand := e.highThreshold.Sub(e.lowThreshold).Div(decimal.NewFromInt(2))
		dist := risk.Sub(e.lowThreshold)
		if upper := e.highThreshold.Sub(risk); upper.LessThan(dist) {
			dist = upper
		}
		conf = dist.Div(halfBand)
	}
	return clampUnit(conf)
}

// reasons builds the explanation trail: one entry per contributing signal plus
// one entry per violation carrying its share of the rules contribution, sorted
// by contribution descending with the source name as tie-break.
func (e *Engine) reasons(report *models.ConsistencyReport, score models.ClassifierScore, vision *models.VisionJudgment, violationScore, probability, totalWeight decimal.Decimal) []models.Reason {
	reasons := make([]models.Reason, 0, len(report.Violations)+3)

	rulesContribution := e.violationWeight.Mul(violationScore).Div(totalWeight)
	reasons = append(reasons, models.Reason{
		Source:       "rules",
		Summary:      rulesSummary(report),
		Contribution: rulesContribution,
	})

	severitySum := decimal.Zero
	for _, v := range report.Violations {
		severitySum = severitySum.Add(e.severityWeight(v.Severity))
	}
	for _, v := range report.Violations {
		// a zero severity sum means every present violation carries a
		// zero-configured weight; their shares are zero, not undefined
		share := decimal.Zero
		if !severitySum.IsZero() {
			share = e.severityWeight(v.Severity).Div(severitySum)
		}
		reasons = append(reasons, models.Reason{
			Source:       "rule:" + v.RuleID,
			Summary:      v.Description,
			Contribution: rulesContribution.Mul(share),
		})
	}

	reasons = append(reasons, models.Reason{
		Source:       "classifier",
		Summary:      fmt.Sprintf("model %s scored forgery probability %.4f", score.ModelVersion, score.Probability),
		Contribution: e.classifierWeight.Mul(probability).Div(totalWeight),
	})

	if vision != nil {
		reasons = append(reasons, models.Reason{
			Source:       "vision",
			Summary:      vision.Rationale,
			Contribution: e.visionWeight.Mul(decimal.NewFromFloat(vision.TamperLikelihood)).Div(totalWeight),
		})
	}

	sort.SliceStable(reasons, func(i, j int) bool {
		if !reasons[i].Contribution.Equal(reasons[j].Contribution) {
			return reasons[i].Contribution.GreaterThan(reasons[j].Contribution)
		}
		return reasons[i].Source < reasons[j].Source
	})
	return reasons
}

func rulesSummary(report *models.ConsistencyReport) string {
	if len(report.Violations) == 0 {
		return fmt.Sprintf("no violations across %d evaluated rules", report.Evaluated)
	}
	return fmt.Sprintf("%d violation(s): %d high, %d medium, %d low",
		len(report.Violations),
		report.CountBySeverity(models.SeverityHigh),
		report.CountBySeverity(models.SeverityMedium),
		report.CountBySeverity(models.SeverityLow))
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
