package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridoc/stmtguard-go/internal/models"
)

// FeatureRun is one appended row of the feature log: the exact vector a run
// scored, the probability the model assigned and the label the run ended with.
// The log exists so later labeling efforts can join outcomes back to inputs.
type FeatureRun struct {
	ID                  int64               `json:"id" db:"id"`
	DocumentFingerprint string              `json:"document_fingerprint" db:"document_fingerprint"`
	Features            map[string]float64  `json:"features" db:"features"`
	Probability         float64             `json:"probability" db:"probability"`
	ModelVersion        string              `json:"model_version" db:"model_version"`
	Label               models.VerdictLabel `json:"label" db:"label"`
	CreatedAt           time.Time           `json:"created_at" db:"created_at"`
}

// FeatureRepository appends and reads the statement feature log.
type FeatureRepository struct {
	pool DatabasePool
}

// NewFeatureRepository creates a new feature repository.
func NewFeatureRepository(pool DatabasePool) *FeatureRepository {
	return &FeatureRepository{
		pool: pool,
	}
}

// InsertRun appends the scored vector for one verification run.
func (r *FeatureRepository) InsertRun(ctx context.Context, fingerprint string, vector *models.FeatureVector, score models.ClassifierScore, label models.VerdictLabel) error {
	features := make(map[string]float64, len(vector.Names))
	for i, name := range vector.Names {
		features[name] = vector.Values[i]
	}

	payload, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("failed to encode feature vector: %w", err)
	}

	query := `
		INSERT INTO statement_features (document_fingerprint, features, probability, model_version, label)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err = r.pool.Exec(ctx, query,
		fingerprint,
		payload,
		score.Probability,
		score.ModelVersion,
		string(label),
	)
	if err != nil {
		return fmt.Errorf("failed to insert feature run: %w", err)
	}

	return nil
}

// ListRunsByFingerprint returns the logged runs for one document, newest
// first.
func (r *FeatureRepository) ListRunsByFingerprint(ctx context.Context, fingerprint string, limit int) ([]FeatureRun, error) {
	query := `
		SELECT id, document_fingerprint, features, probability, model_version, label, created_at
		FROM statement_features
		WHERE document_fingerprint = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature runs for %s: %w", fingerprint, err)
	}
	defer rows.Close()

	var runs []FeatureRun
	for rows.Next() {
		var run FeatureRun
		var label string
		var features []byte

		err := rows.Scan(
			&run.ID,
			&run.DocumentFingerprint,
			&features,
			&run.Probability,
			&run.ModelVersion,
			&label,
			&run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature run: %w", err)
		}

		run.Label = models.VerdictLabel(label)
		if len(features) > 0 {
			if err := json.Unmarshal(features, &run.Features); err != nil {
				return nil, fmt.Errorf("failed to decode feature vector: %w", err)
			}
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feature runs: %w", err)
	}

	return runs, nil
}
