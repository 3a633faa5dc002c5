package classifier

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/verify"
)

// Scorer applies the loaded model to feature vectors. It holds only read-only
// state and is safe for concurrent use.
type Scorer struct {
	model  *Model
	logger *logrus.Logger
}

// NewScorer creates a Scorer over an already validated model.
func NewScorer(model *Model, logger *logrus.Logger) *Scorer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scorer{
		model:  model,
		logger: logger,
	}
}

// ModelVersion returns the loaded model's version identifier.
func (s *Scorer) ModelVersion() string {
	return s.model.Version
}

// Score evaluates the model on one feature vector. The vector's length and
// name order must match the model schema exactly; any drift fails with a
// FeatureShapeMismatchError because silent misalignment would corrupt every
// downstream decision. The returned probability is monotonic non-decreasing
// in the underlying margin, so decision thresholds can be recalibrated
// without retraining.
func (s *Scorer) Score(vec models.FeatureVector) (models.ClassifierScore, error) {
	if err := s.checkShape(vec); err != nil {
		return models.ClassifierScore{}, err
	}

	margin := s.model.Intercept
	for i, w := range s.model.Weights {
		x := (vec.Values[i] - s.model.Means[i]) / s.model.Scales[i]
		margin += w * x
	}
	prob := sigmoid(margin)

	s.logger.WithFields(logrus.Fields{
		"model":       s.model.Version,
		"margin":      margin,
		"probability": prob,
	}).Debug("Classifier scored feature vector")

	return models.ClassifierScore{
		Probability:  prob,
		ModelVersion: s.model.Version,
	}, nil
}

func (s *Scorer) checkShape(vec models.FeatureVector) error {
	expected := len(s.model.Features)
	if len(vec.Values) != expected {
		return verify.NewFeatureShapeMismatch(s.model.Version, expected, len(vec.Values), "")
	}
	if len(vec.Names) != expected {
		return verify.NewFeatureShapeMismatch(s.model.Version, expected, len(vec.Names),
			"name list does not match value list")
	}
	for i, name := range s.model.Features {
		if vec.Names[i] != name {
			return verify.NewFeatureShapeMismatch(s.model.Version, expected, len(vec.Values),
				fmt.Sprintf("feature %d is %q, model expects %q", i, vec.Names[i], name))
		}
	}
	return nil
}

func sigmoid(margin float64) float64 {
	return 1 / (1 + math.Exp(-margin))
}
