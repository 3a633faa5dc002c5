package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/veridoc/stmtguard-go/internal/models"
)

// DatabasePool is the subset of pool operations the repositories use. Both
// *pgxpool.Pool and pgxmock satisfy it, so repository tests run without a
// database.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// ErrVerdictNotFound is returned when no verdict row matches the lookup.
var ErrVerdictNotFound = errors.New("verdict not found")

// VerdictRepository stores and reads the append-only verdict log.
type VerdictRepository struct {
	pool DatabasePool
}

// NewVerdictRepository creates a new verdict repository.
func NewVerdictRepository(pool DatabasePool) *VerdictRepository {
	return &VerdictRepository{
		pool: pool,
	}
}

const verdictColumns = `id, document_fingerprint, label, confidence, risk, reasons,
		model_version, oracle_available, oracle_error, oracle_latency_ms,
		violation_count, high_severity_count, created_at`

// InsertVerdict appends one verdict row. Verdicts are write-once; there is no
// update or delete path.
func (r *VerdictRepository) InsertVerdict(ctx context.Context, verdict *models.Verdict) error {
	reasons, err := json.Marshal(verdict.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode verdict reasons: %w", err)
	}

	query := `
		INSERT INTO verdicts (` + verdictColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.pool.Exec(ctx, query,
		verdict.ID,
		verdict.DocumentFingerprint,
		string(verdict.Label),
		verdict.Confidence,
		verdict.Risk,
		reasons,
		verdict.ModelVersion,
		verdict.OracleAvailable,
		verdict.OracleError,
		verdict.OracleLatencyMS,
		verdict.ViolationCount,
		verdict.HighSeverityCount,
		verdict.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert verdict: %w", err)
	}

	return nil
}

// GetVerdictByID fetches a single verdict by its UUID.
func (r *VerdictRepository) GetVerdictByID(ctx context.Context, id string) (*models.Verdict, error) {
	query := `
		SELECT ` + verdictColumns + `
		FROM verdicts
		WHERE id = $1
	`

	verdict, err := scanVerdict(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVerdictNotFound
		}
		return nil, fmt.Errorf("failed to get verdict %s: %w", id, err)
	}

	return verdict, nil
}

// ListVerdictsByFingerprint returns the stored verdicts for one document,
// newest first.
func (r *VerdictRepository) ListVerdictsByFingerprint(ctx context.Context, fingerprint string, limit int) ([]models.Verdict, error) {
	query := `
		SELECT ` + verdictColumns + `
		FROM verdicts
		WHERE document_fingerprint = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, fingerprint, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts for %s: %w", fingerprint, err)
	}
	defer rows.Close()

	var verdicts []models.Verdict
	for rows.Next() {
		verdict, err := scanVerdict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict row: %w", err)
		}
		verdicts = append(verdicts, *verdict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating verdict rows: %w", err)
	}

	return verdicts, nil
}

func scanVerdict(row pgx.Row) (*models.Verdict, error) {
	var verdict models.Verdict
	var label string
	var reasons []byte

	err := row.Scan(
		&verdict.ID,
		&verdict.DocumentFingerprint,
		&label,
		&verdict.Confidence,
		&verdict.Risk,
		&reasons,
		&verdict.ModelVersion,
		&verdict.OracleAvailable,
		&verdict.OracleError,
		&verdict.OracleLatencyMS,
		&verdict.ViolationCount,
		&verdict.HighSeverityCount,
		&verdict.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	verdict.Label = models.VerdictLabel(label)
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &verdict.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode verdict reasons: %w", err)
		}
	}

	return &verdict, nil
}
