package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PipelineTracer provides utilities for tracing the verification pipeline.
// It allows detailed tracking of domain-specific stages like consistency
// checking, classifier scoring, oracle calls and verdict fusion.
type PipelineTracer struct {
	tracer trace.Tracer
}

// NewPipelineTracer creates a new instance of PipelineTracer.
func NewPipelineTracer() *PipelineTracer {
	return &PipelineTracer{tracer: GetPipelineTracer()}
}

// TraceVerification starts a span covering a full statement verification.
func (pt *PipelineTracer) TraceVerification(ctx context.Context, fingerprint string, pageCount int) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "statement_verification",
		trace.WithAttributes(
			attribute.String("document.fingerprint", fingerprint),
			attribute.Int("document.page_count", pageCount),
		),
	)
}

// RecordConsistencyOutcome adds the consistency check result to an existing span.
func (pt *PipelineTracer) RecordConsistencyOutcome(span trace.Span, outcome ConsistencyOutcome) {
	span.SetAttributes(
		attribute.Int("rules.evaluated", outcome.RulesEvaluated),
		attribute.Int("rules.violations", outcome.ViolationCount),
		attribute.Int("rules.violations.high", outcome.HighSeverity),
		attribute.Int("rules.violations.medium", outcome.MediumSeverity),
		attribute.Int("rules.violations.low", outcome.LowSeverity),
		attribute.Int64("rules.duration_ms", outcome.Duration.Milliseconds()),
	)
}

// TraceClassifier starts a span for scoring a feature vector.
func (pt *PipelineTracer) TraceClassifier(ctx context.Context, modelVersion string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "classifier_score",
		trace.WithAttributes(attribute.String("model.version", modelVersion)),
	)
}

// RecordClassifierScore records the classifier output onto a span.
func (pt *PipelineTracer) RecordClassifierScore(span trace.Span, probability float64, featureCount int) {
	span.SetAttributes(
		attribute.Float64("classifier.probability", probability),
		attribute.Int("classifier.feature_count", featureCount),
	)
}

// TraceOracleCall starts a span for a vision oracle round trip.
func (pt *PipelineTracer) TraceOracleCall(ctx context.Context, model string, pages int) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "oracle_call",
		trace.WithAttributes(
			attribute.String("oracle.model", model),
			attribute.Int("oracle.pages", pages),
		),
	)
}

// RecordOracleOutcome records the oracle result, or its failure, onto a span.
func (pt *PipelineTracer) RecordOracleOutcome(span trace.Span, outcome OracleOutcome) {
	span.SetAttributes(
		attribute.Bool("oracle.available", outcome.Available),
		attribute.Int("oracle.attempts", outcome.Attempts),
		attribute.Int64("oracle.latency_ms", outcome.Latency.Milliseconds()),
	)
	if outcome.Available {
		span.SetAttributes(
			attribute.Float64("oracle.tamper_likelihood", outcome.TamperLikelihood),
			attribute.Int("oracle.flagged_pages", outcome.FlaggedPages),
		)
		span.SetStatus(codes.Ok, "oracle judgment received")
		return
	}
	if outcome.Err != nil {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "oracle unavailable")
	}
}

// TraceFusion starts a span for combining the evidence channels into a verdict.
func (pt *PipelineTracer) TraceFusion(ctx context.Context, oracleUsed bool) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "verdict_fusion",
		trace.WithAttributes(attribute.Bool("fusion.oracle_used", oracleUsed)),
	)
}

// RecordVerdict records the fused verdict onto a span.
func (pt *PipelineTracer) RecordVerdict(span trace.Span, verdict VerdictOutcome) {
	span.SetAttributes(
		attribute.String("verdict.label", verdict.Label),
		attribute.Float64("verdict.risk", verdict.Risk),
		attribute.Float64("verdict.confidence", verdict.Confidence),
		attribute.Bool("verdict.oracle_used", verdict.OracleUsed),
		attribute.Int64("verdict.duration_ms", verdict.Duration.Milliseconds()),
	)
}

// TraceNotification starts a span for tracing alert delivery.
func (pt *PipelineTracer) TraceNotification(ctx context.Context, notificationType string, channel string) (context.Context, trace.Span) {
	return pt.tracer.Start(ctx, "notification",
		trace.WithAttributes(
			attribute.String("notification.type", notificationType),
			attribute.String("notification.channel", channel),
		),
	)
}

// RecordNotificationResult records the outcome of a notification attempt onto a span.
func (pt *PipelineTracer) RecordNotificationResult(span trace.Span, success bool, err error) {
	span.SetAttributes(attribute.Bool("notification.success", success))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "delivered")
}

// ConsistencyOutcome defines the structure for tracking consistency check results in telemetry.
type ConsistencyOutcome struct {
	RulesEvaluated int
	ViolationCount int
	HighSeverity   int
	MediumSeverity int
	LowSeverity    int
	Duration       time.Duration
}

// OracleOutcome defines the structure for tracking vision oracle round trips in telemetry.
type OracleOutcome struct {
	Available        bool
	TamperLikelihood float64
	FlaggedPages     int
	Attempts         int
	Latency          time.Duration
	Err              error
}

// VerdictOutcome defines the structure for tracking fused verdicts in telemetry.
type VerdictOutcome struct {
	Label      string
	Risk       float64
	Confidence float64
	OracleUsed bool
	Duration   time.Duration
}
