package services

import (
	"math"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/models"
)

// ActivityAnalyzer derives an advisory transaction-flow profile from a
// canonical statement: mean amount, amount volatility, the largest deviation
// from the moving average and the net flow over the period. The profile is
// reported alongside the verdict and is never an input to the classifier.
type ActivityAnalyzer struct {
	smaPeriod int
	logger    *logrus.Logger
}

// NewActivityAnalyzer creates an analyzer with the configured SMA period.
func NewActivityAnalyzer(smaPeriod int, logger *logrus.Logger) *ActivityAnalyzer {
	if smaPeriod <= 0 {
		smaPeriod = 5
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ActivityAnalyzer{
		smaPeriod: smaPeriod,
		logger:    logger,
	}
}

// Profile computes the activity profile for a statement. Statements with no
// transactions yield a zero-valued profile rather than nil so the API shape
// stays stable.
func (a *ActivityAnalyzer) Profile(stmt *models.CanonicalStatement) *models.ActivityProfile {
	amounts := make([]float64, 0, len(stmt.Transactions))
	netFlow := decimal.Zero
	for _, tx := range stmt.Transactions {
		amounts = append(amounts, tx.Amount.InexactFloat64())
		netFlow = netFlow.Add(tx.Amount)
	}

	profile := &models.ActivityProfile{
		SampleCount: len(amounts),
		NetFlow:     netFlow,
		SMAPeriod:   a.smaPeriod,
	}
	if len(amounts) == 0 {
		return profile
	}

	mean := 0.0
	for _, v := range amounts {
		mean += v
	}
	mean /= float64(len(amounts))

	variance := 0.0
	for _, v := range amounts {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(amounts))

	profile.MeanAmount = decimal.NewFromFloat(mean).Round(4)
	profile.AmountVolatility = decimal.NewFromFloat(math.Sqrt(variance)).Round(4)
	profile.LargestDeviation = decimal.NewFromFloat(a.largestSMADeviation(amounts)).Round(4)

	a.logger.WithFields(logrus.Fields{
		"samples":    profile.SampleCount,
		"sma_period": profile.SMAPeriod,
	}).Debug("computed activity profile")

	return profile
}

// largestSMADeviation runs a simple moving average over the amounts and
// returns the largest absolute gap between an amount and the average of the
// window ending at it. Short statements shrink the window to the sample
// count so the profile is always defined.
func (a *ActivityAnalyzer) largestSMADeviation(amounts []float64) float64 {
	period := a.smaPeriod
	if period > len(amounts) {
		period = len(amounts)
	}

	smaIndicator := trend.NewSmaWithPeriod[float64](period)
	smaValues := helper.ChanToSlice(smaIndicator.Compute(helper.SliceToChan(amounts)))

	largest := 0.0
	for i, avg := range smaValues {
		// smaValues[i] is the average of the window ending at amounts[i+period-1].
		deviation := math.Abs(amounts[i+period-1] - avg)
		if deviation > largest {
			largest = deviation
		}
	}
	return largest
}
