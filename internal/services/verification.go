package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/classifier"
	"github.com/veridoc/stmtguard-go/internal/features"
	"github.com/veridoc/stmtguard-go/internal/fusion"
	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/normalizer"
	"github.com/veridoc/stmtguard-go/internal/rules"
	"github.com/veridoc/stmtguard-go/internal/telemetry"
	"github.com/veridoc/stmtguard-go/internal/verify"
)

// VisionAnalyzer runs the vision cross-check for a document. A nil analyzer
// on the service means the oracle is disabled.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, stmt *models.CanonicalStatement, pages []models.PageImage) (*models.VisionJudgment, error)
	Model() string
}

// VerdictStore appends verdicts to durable storage.
type VerdictStore interface {
	InsertVerdict(ctx context.Context, verdict *models.Verdict) error
}

// FeatureStore appends one feature row per verification run.
type FeatureStore interface {
	InsertRun(ctx context.Context, fingerprint string, vector *models.FeatureVector, score models.ClassifierScore, label models.VerdictLabel) error
}

// VerdictCache is the idempotence fast path keyed by document fingerprint.
type VerdictCache interface {
	Get(ctx context.Context, fingerprint string) (*models.Verdict, bool)
	Set(ctx context.Context, fingerprint string, verdict *models.Verdict)
}

// Alerter pushes best-effort notifications for flagged verdicts.
type Alerter interface {
	NotifyVerdict(ctx context.Context, verdict *models.Verdict)
}

// VerificationService runs the full pipeline for one document: normalize,
// check consistency, build features and score them while the vision
// cross-check runs concurrently, then fuse the signals into a verdict and
// record it. All shared state (rule table, model parameters, fusion policy)
// is read-only after construction, so one service handles all requests.
type VerificationService struct {
	normalizer *normalizer.Normalizer
	rules      *rules.Engine
	features   *features.Builder
	scorer     *classifier.Scorer
	fusion     *fusion.Engine

	vision        VisionAnalyzer
	breaker       *CircuitBreaker
	oracleTimeout time.Duration

	verdicts   VerdictStore
	featureLog FeatureStore
	cache      VerdictCache
	alerts     Alerter
	analytics  *ActivityAnalyzer
	retrier    *Retrier

	logger *logrus.Logger
	tracer *telemetry.PipelineTracer
}

// VerificationDeps carries the collaborators for NewVerificationService.
// Vision, Verdicts, FeatureLog, Cache and Alerts may be nil; the pipeline
// degrades instead of failing when collaborators are absent.
type VerificationDeps struct {
	Rules         *rules.Engine
	Scorer        *classifier.Scorer
	Fusion        *fusion.Engine
	Vision        VisionAnalyzer
	Breaker       *CircuitBreaker
	OracleTimeout time.Duration
	Verdicts      VerdictStore
	FeatureLog    FeatureStore
	Cache         VerdictCache
	Alerts        Alerter
	Analytics     *ActivityAnalyzer
	Retrier       *Retrier
	Logger        *logrus.Logger
}

// NewVerificationService wires the pipeline together.
func NewVerificationService(deps VerificationDeps) *VerificationService {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	retrier := deps.Retrier
	if retrier == nil {
		retrier = NewRetrier(nil, logger)
	}
	analytics := deps.Analytics
	if analytics == nil {
		analytics = NewActivityAnalyzer(0, logger)
	}
	oracleTimeout := deps.OracleTimeout
	if oracleTimeout <= 0 {
		oracleTimeout = 60 * time.Second
	}

	return &VerificationService{
		normalizer:    normalizer.New(),
		rules:         deps.Rules,
		features:      features.NewBuilder(),
		scorer:        deps.Scorer,
		fusion:        deps.Fusion,
		vision:        deps.Vision,
		breaker:       deps.Breaker,
		oracleTimeout: oracleTimeout,
		verdicts:      deps.Verdicts,
		featureLog:    deps.FeatureLog,
		cache:         deps.Cache,
		alerts:        deps.Alerts,
		analytics:     analytics,
		retrier:       retrier,
		logger:        logger,
		tracer:        telemetry.NewPipelineTracer(),
	}
}

type visionResult struct {
	judgment *models.VisionJudgment
	err      error
}

// Verify runs one verification request end to end. MalformedDocument and
// FeatureShapeMismatch abort the run; an unavailable oracle only reduces
// confidence.
func (s *VerificationService) Verify(ctx context.Context, req *models.VerifyRequest) (*models.VerifyResponse, error) {
	runStart := time.Now()

	stmt, err := s.normalizer.Normalize(&req.Document)
	if err != nil {
		return nil, err
	}

	fingerprint, err := verify.Fingerprint(stmt)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.TraceVerification(ctx, fingerprint, len(req.Pages))
	defer span.End()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, fingerprint); ok {
			s.logger.WithField("fingerprint", fingerprint).Debug("verdict cache hit")
			return &models.VerifyResponse{
				Verdict:  *cached,
				Activity: s.analytics.Profile(stmt),
				CacheHit: true,
			}, nil
		}
	}

	// The oracle round trip dominates latency, so it starts before the
	// deterministic path and is joined after scoring. Its context is
	// cancelled as soon as the run ends for any reason.
	visionCtx, cancelVision := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancelVision()
	visionCh := s.startVision(visionCtx, stmt, req.Pages)

	rulesStart := time.Now()
	report := s.rules.Evaluate(stmt)
	s.tracer.RecordConsistencyOutcome(span, telemetry.ConsistencyOutcome{
		RulesEvaluated: report.Evaluated,
		ViolationCount: len(report.Violations),
		HighSeverity:   report.CountBySeverity(models.SeverityHigh),
		MediumSeverity: report.CountBySeverity(models.SeverityMedium),
		LowSeverity:    report.CountBySeverity(models.SeverityLow),
		Duration:       time.Since(rulesStart),
	})

	vector := s.features.Build(stmt, &report)
	_, scoreSpan := s.tracer.TraceClassifier(ctx, s.scorer.ModelVersion())
	score, err := s.scorer.Score(vector)
	if err != nil {
		// Schema drift between the feature builder and the loaded model
		// is a deployment bug; surface it loudly.
		scoreSpan.RecordError(err)
		scoreSpan.End()
		s.logger.WithError(err).Error("classifier scoring failed")
		return nil, err
	}
	s.tracer.RecordClassifierScore(scoreSpan, score.Probability, len(vector.Values))
	scoreSpan.End()

	res := <-visionCh
	if res.err != nil && !verify.IsOracleUnavailable(res.err) {
		res.err = verify.NewOracleUnavailable(0, res.err)
	}

	_, fuseSpan := s.tracer.TraceFusion(ctx, res.judgment != nil)
	verdict := s.fusion.Fuse(&report, score, res.judgment, res.err)
	verdict.ID = uuid.New().String()
	verdict.DocumentFingerprint = fingerprint
	verdict.CreatedAt = time.Now().UTC()
	s.tracer.RecordVerdict(fuseSpan, telemetry.VerdictOutcome{
		Label:      string(verdict.Label),
		Risk:       verdict.Risk.InexactFloat64(),
		Confidence: verdict.Confidence.InexactFloat64(),
		OracleUsed: verdict.OracleAvailable,
		Duration:   time.Since(runStart),
	})
	fuseSpan.End()

	s.record(ctx, fingerprint, &verdict, &vector, score)

	if s.alerts != nil {
		s.alerts.NotifyVerdict(ctx, &verdict)
	}

	s.logger.WithFields(logrus.Fields{
		"fingerprint": fingerprint,
		"label":       verdict.Label,
		"risk":        verdict.Risk.StringFixed(4),
		"violations":  verdict.ViolationCount,
		"oracle":      verdict.OracleAvailable,
		"duration_ms": time.Since(runStart).Milliseconds(),
	}).Info("verification run completed")

	return &models.VerifyResponse{
		Verdict:  verdict,
		Activity: s.analytics.Profile(stmt),
		Skipped:  report.Skipped,
	}, nil
}

// startVision launches the oracle path and returns the channel the
// deterministic path joins on. The channel is buffered so an abandoned run
// never leaks the goroutine.
func (s *VerificationService) startVision(ctx context.Context, stmt *models.CanonicalStatement, pages []models.PageImage) <-chan visionResult {
	ch := make(chan visionResult, 1)

	if s.vision == nil {
		ch <- visionResult{err: verify.NewOracleUnavailable(0, errors.New("vision oracle disabled"))}
		return ch
	}
	if len(pages) == 0 {
		ch <- visionResult{err: verify.NewOracleUnavailable(0, errors.New("no page images supplied"))}
		return ch
	}

	go func() {
		oracleStart := time.Now()
		oracleCtx, oracleSpan := s.tracer.TraceOracleCall(ctx, s.vision.Model(), len(pages))
		defer oracleSpan.End()

		var judgment *models.VisionJudgment
		call := func(callCtx context.Context) error {
			var callErr error
			judgment, callErr = s.vision.Analyze(callCtx, stmt, pages)
			return callErr
		}

		var err error
		if s.breaker != nil {
			err = s.breaker.Execute(oracleCtx, call)
		} else {
			err = call(oracleCtx)
		}

		outcome := telemetry.OracleOutcome{
			Available: err == nil,
			Latency:   time.Since(oracleStart),
			Err:       err,
		}
		if judgment != nil {
			outcome.TamperLikelihood = judgment.TamperLikelihood
			for _, flag := range judgment.PageFlags {
				if flag.Tampered == models.TamperYes {
					outcome.FlaggedPages++
				}
			}
		}
		s.tracer.RecordOracleOutcome(oracleSpan, outcome)

		if err != nil {
			s.logger.WithError(err).Warn("vision cross-check unavailable, fusing without it")
			ch <- visionResult{err: err}
			return
		}
		ch <- visionResult{judgment: judgment}
	}()

	return ch
}

// record persists the verdict, the feature row and the cache entry. Storage
// failures degrade to warnings: the verdict has already been decided and is
// still returned to the caller.
func (s *VerificationService) record(ctx context.Context, fingerprint string, verdict *models.Verdict, vector *models.FeatureVector, score models.ClassifierScore) {
	if s.verdicts != nil {
		err := s.retrier.Execute(ctx, "verdict_insert", func(ctx context.Context) error {
			return s.verdicts.InsertVerdict(ctx, verdict)
		})
		if err != nil {
			s.logger.WithField("fingerprint", fingerprint).WithError(err).Warn("failed to persist verdict")
		}
	}

	if s.featureLog != nil {
		err := s.retrier.Execute(ctx, "feature_insert", func(ctx context.Context) error {
			return s.featureLog.InsertRun(ctx, fingerprint, vector, score, verdict.Label)
		})
		if err != nil {
			s.logger.WithField("fingerprint", fingerprint).WithError(err).Warn("failed to persist feature row")
		}
	}

	if s.cache != nil {
		s.cache.Set(ctx, fingerprint, verdict)
	}
}
