package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/verify"
	"github.com/veridoc/stmtguard-go/pkg/oracle"
)

// Likelihood blend weights. The tampering call carries the most signal; text
// and numeric divergence corroborate it.
const (
	flaggedWeight  = 0.5
	textWeight     = 0.3
	numericWeight  = 0.2
	unknownPenalty = 0.5
)

const systemPrompt = "You are a document forensics assistant that reads scanned bank statement pages. " +
	"You respond with a single JSON object and nothing else, never prose or markdown."

// OracleAPI is the subset of the oracle client the adapter needs. Declared
// here so tests can substitute a scripted implementation.
type OracleAPI interface {
	AnalyzeStatement(ctx context.Context, systemPrompt, userPrompt string, pages []oracle.PageUpload) (string, error)
	Model() string
}

// Adapter runs the vision cross-check: it sends rendered page images to the
// oracle, strictly parses each reply, corroborates the oracle's reading
// against the extracted text layer and folds the evidence into one
// VisionJudgment for the document.
type Adapter struct {
	client OracleAPI
	cfg    *config.OracleConfig
	logger *logrus.Logger
}

// NewAdapter creates a vision adapter around an oracle client.
func NewAdapter(client OracleAPI, cfg *config.OracleConfig, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// Model returns the oracle model the adapter will call.
func (a *Adapter) Model() string {
	return a.client.Model()
}

// Analyze runs the oracle over the supplied page images and returns the
// document-level judgment. Any page that still fails after the retry budget
// makes the whole run OracleUnavailable; a partial reading is never reported
// as a judgment.
func (a *Adapter) Analyze(ctx context.Context, stmt *models.CanonicalStatement, pages []models.PageImage) (*models.VisionJudgment, error) {
	if len(pages) == 0 {
		return nil, verify.NewOracleUnavailable(0, errors.New("no page images supplied"))
	}
	if limit := a.cfg.PageLimit; limit > 0 && len(pages) > limit {
		a.logger.WithFields(logrus.Fields{
			"pages": len(pages),
			"limit": limit,
		}).Warn("truncating page images to oracle page limit")
		pages = pages[:limit]
	}

	start := time.Now()
	totalAttempts := 0

	flags := make([]models.PageFlag, 0, len(pages))
	classification := ""
	flagged, unknown := 0, 0
	comparedText, textMismatches := 0, 0
	comparedNumeric := 0
	numericMatchSum := 0.0

	for i, page := range pages {
		analysis, attempts, err := a.analyzePage(ctx, page, i == 0)
		totalAttempts += attempts
		if err != nil {
			return nil, verify.NewOracleUnavailable(totalAttempts, err)
		}

		flag := models.PageFlag{
			Page:     page.Number,
			Tampered: analysis.ObviousTampering.State,
		}
		switch analysis.ObviousTampering.State {
		case models.TamperYes:
			flagged++
		case models.TamperUnknown:
			unknown++
		}

		if ref := referenceText(stmt, page, len(pages)); ref != "" {
			sim := textSimilarity(ref, analysis.PageText)
			flag.TextSimilarity = sim
			comparedText++
			if sim < a.cfg.SimilarityThreshold {
				textMismatches++
				flag.Note = "extracted text diverges from page image"
			}

			ratio := numericMatchRatio(ref, analysis)
			flag.NumericMatchRatio = ratio
			comparedNumeric++
			numericMatchSum += ratio
		} else {
			flag.Note = "no extracted text to compare"
		}

		if i == 0 {
			classification = analysis.Classification
		}
		flags = append(flags, flag)
	}

	n := float64(len(pages))
	flaggedFrac := (float64(flagged) + unknownPenalty*float64(unknown)) / n
	textFrac := 0.0
	if comparedText > 0 {
		textFrac = float64(textMismatches) / float64(comparedText)
	}
	numericFrac := 0.0
	if comparedNumeric > 0 {
		numericFrac = 1 - numericMatchSum/float64(comparedNumeric)
	}

	likelihood := clamp01(flaggedWeight*flaggedFrac + textWeight*textFrac + numericWeight*numericFrac)

	judgment := &models.VisionJudgment{
		TamperLikelihood: likelihood,
		Rationale:        buildRationale(flagged, unknown, len(pages), textMismatches, comparedText),
		PageFlags:        flags,
		Classification:   classification,
		LatencyMS:        time.Since(start).Milliseconds(),
	}

	a.logger.WithFields(logrus.Fields{
		"pages":      len(pages),
		"likelihood": likelihood,
		"attempts":   totalAttempts,
		"latency_ms": judgment.LatencyMS,
	}).Debug("vision cross-check completed")

	return judgment, nil
}

// analyzePage calls the oracle for a single page, retrying transient failures
// and malformed replies with exponential backoff. Non-transient HTTP errors
// (auth, bad request) abort immediately since retrying cannot help.
func (a *Adapter) analyzePage(ctx context.Context, page models.PageImage, first bool) (*pageAnalysis, int, error) {
	backoff := a.cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	maxBackoff := a.cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}

	upload := []oracle.PageUpload{{Number: page.Number, Base64PNG: page.ImageBase64}}
	prompt := pageUserPrompt(page.Number, first)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		attempts++

		reply, err := a.client.AnalyzeStatement(ctx, systemPrompt, prompt, upload)
		if err == nil {
			analysis, parseErr := parseOracleReply(reply)
			if parseErr == nil {
				return analysis, attempts, nil
			}
			lastErr = parseErr
			a.logger.WithFields(logrus.Fields{
				"page":    page.Number,
				"attempt": attempts,
			}).WithError(parseErr).Warn("oracle reply failed strict parse")
		} else {
			lastErr = err
			var statusErr *oracle.StatusError
			if errors.As(err, &statusErr) && !statusErr.Transient() {
				return nil, attempts, lastErr
			}
			a.logger.WithFields(logrus.Fields{
				"page":    page.Number,
				"attempt": attempts,
			}).WithError(err).Warn("oracle call failed")
		}

		if attempt == a.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, attempts, lastErr
}

// referenceText picks the extracted text to corroborate a page against:
// text bundled with the image, then the parser's per-page text, then the
// whole-document text when the statement is a single page.
func referenceText(stmt *models.CanonicalStatement, page models.PageImage, totalPages int) string {
	if page.Text != "" {
		return page.Text
	}
	for _, ps := range stmt.Pages {
		if ps.Number == page.Number && ps.Text != "" {
			return ps.Text
		}
	}
	if totalPages == 1 {
		return stmt.Text
	}
	return ""
}

func buildRationale(flagged, unknown, total, textMismatches, comparedText int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d pages flagged as tampered", flagged, total)
	if unknown > 0 {
		fmt.Fprintf(&b, ", %d unreadable", unknown)
	}
	if comparedText > 0 {
		fmt.Fprintf(&b, "; extracted text diverged on %d of %d compared pages", textMismatches, comparedText)
	}
	return b.String()
}

func pageUserPrompt(number int, first bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Read page %d of a bank statement image and report exactly what is printed on it.\n", number)
	b.WriteString(`Return a single JSON object with exactly these keys:
{
  "page_number": <int>,
  "opening_balance": <number or null>,
  "closing_balance": <number or null>,
  "transaction_count": <int or null>,
  "transactions": [{"date": "<as printed>", "amount": <signed number>}],
  "page_text": "<all visible text in reading order>",
  "obvious_tampering": 0, 1 or "unknown"
}
`)
	if first {
		b.WriteString(`This is the first page, so also include:
  "classification": "bank_statement" or "other",
  "bank_name": "<issuing bank if visible>",
  "business_name": "<account holder if visible>"
`)
	}
	b.WriteString("Set obvious_tampering to 1 only for visible signs of editing such as mismatched fonts, " +
		"misaligned columns or pasted regions. Use \"unknown\" when the image is too poor to judge.")
	return b.String()
}
