package vision

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/verify"
	"github.com/veridoc/stmtguard-go/pkg/oracle"
)

type scriptedCall struct {
	reply string
	err   error
}

// fakeOracle plays back scripted replies and records every prompt it saw.
type fakeOracle struct {
	script  []scriptedCall
	calls   int
	prompts []string
}

func (f *fakeOracle) AnalyzeStatement(ctx context.Context, systemPrompt, userPrompt string, pages []oracle.PageUpload) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if i >= len(f.script) {
		return "", errors.New("unexpected oracle call")
	}
	return f.script[i].reply, f.script[i].err
}

func (f *fakeOracle) Model() string {
	return "gpt-4o-test"
}

func testOracleConfig() *config.OracleConfig {
	return &config.OracleConfig{
		Enabled:             true,
		BaseURL:             "http://oracle.test",
		Model:               "gpt-4o-test",
		Timeout:             5 * time.Second,
		MaxRetries:          2,
		InitialBackoff:      time.Millisecond,
		MaxBackoff:          2 * time.Millisecond,
		PageLimit:           20,
		SimilarityThreshold: 0.89,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

const cleanPageText = "ACME BANK statement opening balance 500.00 payment received 100.00 closing balance 600.00"

func cleanReply(page int, first bool) string {
	extra := ""
	if first {
		extra = `"classification": "bank_statement", "bank_name": "Acme Bank",`
	}
	return `{
		"page_number": ` + strconv.Itoa(page) + `,
		"opening_balance": 500.00,
		"closing_balance": 600.00,
		"transaction_count": 1,
		"transactions": [{"date": "03/01/2024", "amount": 100.00}],
		"page_text": "` + cleanPageText + `",
		` + extra + `
		"obvious_tampering": 0
	}`
}

func singlePageStatement() *models.CanonicalStatement {
	return &models.CanonicalStatement{Text: cleanPageText}
}

func TestAnalyzeCleanSinglePage(t *testing.T) {
	fake := &fakeOracle{script: []scriptedCall{{reply: cleanReply(1, true)}}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.NoError(t, err)
	require.NotNil(t, judgment)

	assert.InDelta(t, 0.0, judgment.TamperLikelihood, 1e-9)
	assert.Equal(t, "bank_statement", judgment.Classification)
	require.Len(t, judgment.PageFlags, 1)
	assert.Equal(t, models.TamperNo, judgment.PageFlags[0].Tampered)
	assert.InDelta(t, 1.0, judgment.PageFlags[0].TextSimilarity, 1e-9)
	assert.InDelta(t, 1.0, judgment.PageFlags[0].NumericMatchRatio, 1e-9)
	assert.GreaterOrEqual(t, judgment.LatencyMS, int64(0))
	assert.Equal(t, 1, fake.calls)
}

func TestAnalyzeFlaggedPageRaisesLikelihood(t *testing.T) {
	page2 := `{
		"page_number": 2,
		"transactions": [{"date": "05/01/2024", "amount": 100.00}],
		"page_text": "second page text with payment 100.00",
		"obvious_tampering": 1
	}`
	fake := &fakeOracle{script: []scriptedCall{
		{reply: cleanReply(1, true)},
		{reply: page2},
	}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	stmt := &models.CanonicalStatement{
		Pages: []models.PageSummary{
			{Number: 1, Text: cleanPageText},
			{Number: 2, Text: "second page text with payment 100.00"},
		},
	}

	judgment, err := adapter.Analyze(context.Background(), stmt, []models.PageImage{
		{Number: 1, ImageBase64: "cDE="},
		{Number: 2, ImageBase64: "cDI="},
	})
	require.NoError(t, err)

	// One of two pages flagged, text and numbers corroborated on both.
	assert.InDelta(t, 0.25, judgment.TamperLikelihood, 1e-9)
	require.Len(t, judgment.PageFlags, 2)
	assert.Equal(t, models.TamperYes, judgment.PageFlags[1].Tampered)
	assert.Contains(t, judgment.Rationale, "1 of 2 pages flagged")
}

func TestAnalyzeUnknownPageCountsHalf(t *testing.T) {
	reply := `{
		"page_number": 1,
		"page_text": "` + cleanPageText + `",
		"obvious_tampering": "unknown"
	}`
	fake := &fakeOracle{script: []scriptedCall{{reply: reply}}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.25, judgment.TamperLikelihood, 1e-9)
	assert.Equal(t, models.TamperUnknown, judgment.PageFlags[0].Tampered)
}

func TestAnalyzeDivergentTextRaisesLikelihood(t *testing.T) {
	reply := `{
		"page_number": 1,
		"closing_balance": 9999.99,
		"page_text": "entirely different words that never appeared in the document",
		"obvious_tampering": 0
	}`
	fake := &fakeOracle{script: []scriptedCall{{reply: reply}}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.NoError(t, err)

	// Text mismatch (0.3) plus fully unmatched numbers (0.2).
	assert.InDelta(t, 0.5, judgment.TamperLikelihood, 1e-9)
	assert.Equal(t, "extracted text diverges from page image", judgment.PageFlags[0].Note)
}

func TestAnalyzeNoReferenceText(t *testing.T) {
	fake := &fakeOracle{script: []scriptedCall{
		{reply: cleanReply(1, true)},
		{reply: cleanReply(2, false)},
	}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	// Multi-page document without per-page extracted text: corroboration
	// is skipped and only the tampering calls drive the likelihood.
	stmt := &models.CanonicalStatement{Text: "whole document text"}

	judgment, err := adapter.Analyze(context.Background(), stmt, []models.PageImage{
		{Number: 1, ImageBase64: "cDE="},
		{Number: 2, ImageBase64: "cDI="},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, judgment.TamperLikelihood, 1e-9)
	assert.Equal(t, "no extracted text to compare", judgment.PageFlags[0].Note)
	assert.Equal(t, "no extracted text to compare", judgment.PageFlags[1].Note)
}

func TestAnalyzeRetriesTransientStatus(t *testing.T) {
	fake := &fakeOracle{script: []scriptedCall{
		{err: &oracle.StatusError{StatusCode: 429, Message: "rate limited"}},
		{reply: cleanReply(1, true)},
	}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.NoError(t, err)
	require.NotNil(t, judgment)
	assert.Equal(t, 2, fake.calls)
}

func TestAnalyzeRetriesMalformedReply(t *testing.T) {
	fake := &fakeOracle{script: []scriptedCall{
		{reply: "I could not read this page."},
		{reply: cleanReply(1, true)},
	}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.NoError(t, err)
	require.NotNil(t, judgment)
	assert.Equal(t, 2, fake.calls)
}

func TestAnalyzeNonTransientStatusFailsImmediately(t *testing.T) {
	fake := &fakeOracle{script: []scriptedCall{
		{err: &oracle.StatusError{StatusCode: 401, Message: "bad api key"}},
	}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.Error(t, err)
	assert.Nil(t, judgment)
	assert.True(t, verify.IsOracleUnavailable(err))

	var unavailable *verify.OracleUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 1, unavailable.Attempts)

	var statusErr *oracle.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.StatusCode)
	assert.Equal(t, 1, fake.calls)
}

func TestAnalyzeExhaustsRetryBudget(t *testing.T) {
	bad := scriptedCall{reply: "still not json"}
	fake := &fakeOracle{script: []scriptedCall{bad, bad, bad}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.Error(t, err)
	assert.Nil(t, judgment)

	var unavailable *verify.OracleUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 3, unavailable.Attempts)
	assert.Equal(t, 3, fake.calls)
}

func TestAnalyzeDeadlineDuringBackoff(t *testing.T) {
	cfg := testOracleConfig()
	cfg.InitialBackoff = 500 * time.Millisecond

	fake := &fakeOracle{script: []scriptedCall{
		{err: errors.New("connection reset")},
		{reply: cleanReply(1, true)},
	}}
	adapter := NewAdapter(fake, cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.Analyze(ctx, singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "aW1hZ2U="},
	})
	require.Error(t, err)
	assert.True(t, verify.IsOracleUnavailable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fake.calls)
}

func TestAnalyzeTruncatesToPageLimit(t *testing.T) {
	cfg := testOracleConfig()
	cfg.PageLimit = 1

	fake := &fakeOracle{script: []scriptedCall{{reply: cleanReply(1, true)}}}
	adapter := NewAdapter(fake, cfg, testLogger())

	judgment, err := adapter.Analyze(context.Background(), singlePageStatement(), []models.PageImage{
		{Number: 1, ImageBase64: "cDE="},
		{Number: 2, ImageBase64: "cDI="},
	})
	require.NoError(t, err)
	assert.Len(t, judgment.PageFlags, 1)
	assert.Equal(t, 1, fake.calls)
}

func TestAnalyzeNoPages(t *testing.T) {
	fake := &fakeOracle{}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	_, err := adapter.Analyze(context.Background(), singlePageStatement(), nil)
	require.Error(t, err)
	assert.True(t, verify.IsOracleUnavailable(err))
	assert.Equal(t, 0, fake.calls)
}

func TestAnalyzePromptsOnlyFirstPageAsksClassification(t *testing.T) {
	fake := &fakeOracle{script: []scriptedCall{
		{reply: cleanReply(1, true)},
		{reply: cleanReply(2, false)},
	}}
	adapter := NewAdapter(fake, testOracleConfig(), testLogger())

	stmt := &models.CanonicalStatement{
		Pages: []models.PageSummary{
			{Number: 1, Text: cleanPageText},
			{Number: 2, Text: cleanPageText},
		},
	}

	_, err := adapter.Analyze(context.Background(), stmt, []models.PageImage{
		{Number: 1, ImageBase64: "cDE="},
		{Number: 2, ImageBase64: "cDI="},
	})
	require.NoError(t, err)

	require.Len(t, fake.prompts, 2)
	assert.Contains(t, fake.prompts[0], "classification")
	assert.NotContains(t, fake.prompts[1], "classification")
	assert.Contains(t, fake.prompts[0], "obvious_tampering")
}

func TestAdapterModel(t *testing.T) {
	adapter := NewAdapter(&fakeOracle{}, testOracleConfig(), testLogger())
	assert.Equal(t, "gpt-4o-test", adapter.Model())
}
