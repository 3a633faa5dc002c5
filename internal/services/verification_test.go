package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/stmtguard-go/internal/classifier"
	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/features"
	"github.com/veridoc/stmtguard-go/internal/fusion"
	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/rules"
	"github.com/veridoc/stmtguard-go/internal/verify"
)

// --- fakes -----------------------------------------------------------------

type fakeVision struct {
	judgment *models.VisionJudgment
	err      error
	delay    time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fakeVision) Analyze(ctx context.Context, _ *models.CanonicalStatement, _ []models.PageImage) (*models.VisionJudgment, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, verify.NewOracleUnavailable(1, ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.judgment, nil
}

func (f *fakeVision) Model() string { return "vision-test" }

func (f *fakeVision) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memVerdictStore struct {
	mu   sync.Mutex
	rows []models.Verdict
	err  error
}

func (m *memVerdictStore) InsertVerdict(_ context.Context, verdict *models.Verdict) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *verdict)
	return nil
}

type memFeatureStore struct {
	mu   sync.Mutex
	rows int
}

func (m *memFeatureStore) InsertRun(_ context.Context, _ string, _ *models.FeatureVector, _ models.ClassifierScore, _ models.VerdictLabel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows++
	return nil
}

type memVerdictCache struct {
	mu sync.Mutex
	m  map[string]models.Verdict
}

func newMemVerdictCache() *memVerdictCache {
	return &memVerdictCache{m: make(map[string]models.Verdict)}
}

func (c *memVerdictCache) Get(_ context.Context, fingerprint string) (*models.Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[fingerprint]
	if !ok {
		return nil, false
	}
	out := v
	return &out, true
}

func (c *memVerdictCache) Set(_ context.Context, fingerprint string, verdict *models.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[fingerprint] = *verdict
}

type recordingAlerter struct {
	mu     sync.Mutex
	labels []models.VerdictLabel
}

func (a *recordingAlerter) NotifyVerdict(_ context.Context, verdict *models.Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.labels = append(a.labels, verdict.Label)
}

// --- fixtures --------------------------------------------------------------

func testModel() *classifier.Model {
	names := features.Names()
	weights := make([]float64, len(names))
	means := make([]float64, len(names))
	scales := make([]float64, len(names))
	for i, name := range names {
		scales[i] = 1
		switch name {
		case "balance_break_count", "violation_count_high":
			weights[i] = 2.0
		case "computed_vs_declared_delta":
			weights[i] = 0.05
		}
	}
	return &classifier.Model{
		Version:   "test-1",
		Type:      classifier.ModelTypeLogistic,
		Features:  names,
		Means:     means,
		Scales:    scales,
		Weights:   weights,
		Intercept: -4,
	}
}

func testFusionConfig() *config.FusionConfig {
	return &config.FusionConfig{
		Weights:             config.FusionWeights{Violations: 0.4, Classifier: 0.35, Vision: 0.25},
		Thresholds:          config.FusionThresholds{Low: 0.35, High: 0.7},
		SeverityWeights:     config.SeverityWeights{Low: 0.15, Medium: 0.35, High: 0.6},
		ViolationSaturation: 1.5,
	}
}

// consistentStatement is a fully consistent document: one transaction of
// 100.00 against an opening balance of 500.00 and a declared closing balance
// of 600.00, with a correct running balance.
func consistentStatement() models.RawStatement {
	return models.RawStatement{
		BankName:       "First Provincial",
		StatementStart: "2024-01-01",
		StatementEnd:   "2024-01-31",
		OpeningBalance: "500.00",
		ClosingBalance: "600.00",
		Transactions: []models.RawTransaction{
			{Date: "2024-01-15", Description: "Salary", Amount: "100.00", Balance: "600.00"},
		},
		Metadata: models.RawMetadata{
			PageCount: 1,
			Fonts:     []string{"Helvetica"},
			Creator:   "BankExport",
		},
		Text: "Statement date: 31 Jan 2024. Account number: 00112233. Sort code 01-02-03. Balance carried forward.",
	}
}

type serviceOverrides func(*VerificationDeps)

func newTestService(t *testing.T, overrides ...serviceOverrides) (*VerificationService, *memVerdictStore, *memFeatureStore) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	model := testModel()
	require.NoError(t, model.Validate())

	verdicts := &memVerdictStore{}
	featureLog := &memFeatureStore{}

	deps := VerificationDeps{
		Rules:         rules.NewEngine(rules.DefaultOptions(), logger),
		Scorer:        classifier.NewScorer(model, logger),
		Fusion:        fusion.NewEngine(testFusionConfig()),
		OracleTimeout: 200 * time.Millisecond,
		Verdicts:      verdicts,
		FeatureLog:    featureLog,
		Logger:        logger,
	}
	for _, o := range overrides {
		o(&deps)
	}
	return NewVerificationService(deps), verdicts, featureLog
}

// --- tests -----------------------------------------------------------------

func TestVerifyConsistentStatementIsAuthentic(t *testing.T) {
	svc, verdicts, featureLog := newTestService(t)

	resp, err := svc.Verify(context.Background(), &models.VerifyRequest{Document: consistentStatement()})
	require.NoError(t, err)

	assert.Equal(t, models.LabelAuthentic, resp.Verdict.Label)
	assert.Zero(t, resp.Verdict.ViolationCount)
	assert.False(t, resp.Verdict.OracleAvailable)
	assert.NotEmpty(t, resp.Verdict.ID)
	assert.NotEmpty(t, resp.Verdict.DocumentFingerprint)
	assert.Equal(t, "test-1", resp.Verdict.ModelVersion)
	assert.False(t, resp.CacheHit)

	// The run was recorded even though the oracle never ran.
	assert.Len(t, verdicts.rows, 1)
	assert.Equal(t, 1, featureLog.rows)
}

func TestVerifyClosingMismatchFlooredToSuspicious(t *testing.T) {
	svc, _, _ := newTestService(t)

	doc := consistentStatement()
	doc.ClosingBalance = "650.00" // off by 50.00 from the computed closing

	resp, err := svc.Verify(context.Background(), &models.VerifyRequest{Document: doc})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, resp.Verdict.Label.Rank(), models.LabelSuspicious.Rank())
	assert.Positive(t, resp.Verdict.HighSeverityCount)
}

func TestVerifyMalformedDocument(t *testing.T) {
	svc, verdicts, _ := newTestService(t)

	doc := consistentStatement()
	doc.Transactions = nil

	_, err := svc.Verify(context.Background(), &models.VerifyRequest{Document: doc})
	require.Error(t, err)
	assert.True(t, verify.IsMalformedDocument(err))
	assert.Empty(t, verdicts.rows)
}

func TestVerifyFeatureShapeMismatchAborts(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	// A model trained on a narrower schema must abort the run, not degrade.
	model := testModel()
	model.Features = model.Features[:4]
	model.Weights = model.Weights[:4]
	model.Means = model.Means[:4]
	model.Scales = model.Scales[:4]

	svc, _, _ := newTestService(t, func(deps *VerificationDeps) {
		deps.Scorer = classifier.NewScorer(model, logger)
	})

	_, err := svc.Verify(context.Background(), &models.VerifyRequest{Document: consistentStatement()})
	require.Error(t, err)
	assert.True(t, verify.IsFeatureShapeMismatch(err))
}

func TestVerifyWithVisionJudgment(t *testing.T) {
	vision := &fakeVision{
		judgment: &models.VisionJudgment{
			TamperLikelihood: 0.9,
			Rationale:        "1 of 1 pages flagged as tampered",
			PageFlags:        []models.PageFlag{{Page: 1, Tampered: models.TamperYes}},
			LatencyMS:        12,
		},
	}
	svc, _, _ := newTestService(t, func(deps *VerificationDeps) {
		deps.Vision = vision
	})

	resp, err := svc.Verify(context.Background(), &models.VerifyRequest{
		Document: consistentStatement(),
		Pages:    []models.PageImage{{Number: 1, ImageBase64: "aGVsbG8="}},
	})
	require.NoError(t, err)

	assert.True(t, resp.Verdict.OracleAvailable)
	assert.Empty(t, resp.Verdict.OracleError)
	assert.Equal(t, 1, vision.callCount())

	// A strong vision signal on an otherwise clean document raises risk.
	var visionReason bool
	for _, r := range resp.Verdict.Reasons {
		if r.Source == "vision" {
			visionReason = true
		}
	}
	assert.True(t, visionReason, "vision signal missing from reasons")
}

func TestVerifyOracleTimeoutDegrades(t *testing.T) {
	vision := &fakeVision{delay: 5 * time.Second}
	svc, verdicts, _ := newTestService(t, func(deps *VerificationDeps) {
		deps.Vision = vision
		deps.OracleTimeout = 30 * time.Millisecond
	})

	start := time.Now()
	resp, err := svc.Verify(context.Background(), &models.VerifyRequest{
		Document: consistentStatement(),
		Pages:    []models.PageImage{{Number: 1, ImageBase64: "aGVsbG8="}},
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second, "run must not wait out the oracle")
	assert.False(t, resp.Verdict.OracleAvailable)
	assert.NotEmpty(t, resp.Verdict.OracleError)
	assert.Equal(t, models.LabelAuthentic, resp.Verdict.Label)
	assert.Len(t, verdicts.rows, 1)
}

func TestVerifyOracleFailureWithBreaker(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	vision := &fakeVision{err: verify.NewOracleUnavailable(3, errors.New("upstream 503"))}
	breaker := NewCircuitBreaker("oracle", CircuitBreakerConfig{FailureThreshold: 2, OpenTimeout: time.Minute}, logger)

	svc, _, _ := newTestService(t, func(deps *VerificationDeps) {
		deps.Vision = vision
		deps.Breaker = breaker
	})

	req := func() *models.VerifyRequest {
		doc := consistentStatement()
		return &models.VerifyRequest{
			Document: doc,
			Pages:    []models.PageImage{{Number: 1, ImageBase64: "aGVsbG8="}},
		}
	}

	for i := 0; i < 3; i++ {
		resp, err := svc.Verify(context.Background(), req())
		require.NoError(t, err)
		assert.False(t, resp.Verdict.OracleAvailable)
	}

	// After two failures the breaker opens and stops calling the oracle.
	assert.Equal(t, 2, vision.callCount())
	assert.True(t, breaker.IsOpen())
}

func TestVerifyCacheHitIsIdempotent(t *testing.T) {
	cache := newMemVerdictCache()
	svc, verdicts, _ := newTestService(t, func(deps *VerificationDeps) {
		deps.Cache = cache
	})

	req := &models.VerifyRequest{Document: consistentStatement()}

	first, err := svc.Verify(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := svc.Verify(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Verdict, second.Verdict)

	// The pipeline ran once; the second answer came from the cache.
	assert.Len(t, verdicts.rows, 1)
}

func TestVerifyAlertsOnFlaggedVerdict(t *testing.T) {
	alerter := &recordingAlerter{}
	svc, _, _ := newTestService(t, func(deps *VerificationDeps) {
		deps.Alerts = alerter
	})

	doc := consistentStatement()
	doc.ClosingBalance = "650.00"

	_, err := svc.Verify(context.Background(), &models.VerifyRequest{Document: doc})
	require.NoError(t, err)

	require.Len(t, alerter.labels, 1)
	assert.GreaterOrEqual(t, alerter.labels[0].Rank(), models.LabelSuspicious.Rank())
}

func TestVerifyStorageFailureStillReturnsVerdict(t *testing.T) {
	verdicts := &memVerdictStore{err: errors.New("connection refused")}
	svc, _, _ := newTestService(t, func(deps *VerificationDeps) {
		deps.Verdicts = verdicts
	})

	resp, err := svc.Verify(context.Background(), &models.VerifyRequest{Document: consistentStatement()})
	require.NoError(t, err)
	assert.Equal(t, models.LabelAuthentic, resp.Verdict.Label)
}

func TestVerifyReportsSkippedRules(t *testing.T) {
	svc, _, _ := newTestService(t)

	resp, err := svc.Verify(context.Background(), &models.VerifyRequest{Document: consistentStatement()})
	require.NoError(t, err)

	// Single-page statements without per-page summaries skip the page-chain
	// and per-page transaction-count rules rather than passing them.
	assert.Contains(t, resp.Skipped, rules.RuleBalancePages)
	assert.Contains(t, resp.Skipped, rules.RuleTxnCount)
}
