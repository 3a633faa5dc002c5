package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/middleware"
	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/verify"
)

// StatementVerifier runs one verification request through the pipeline.
type StatementVerifier interface {
	Verify(ctx context.Context, req *models.VerifyRequest) (*models.VerifyResponse, error)
}

// VerificationHandler exposes the verification pipeline over HTTP.
type VerificationHandler struct {
	verifier StatementVerifier
	logger   *logrus.Logger
}

// NewVerificationHandler creates the handler.
func NewVerificationHandler(verifier StatementVerifier, logger *logrus.Logger) *VerificationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &VerificationHandler{
		verifier: verifier,
		logger:   logger,
	}
}

// VerifyStatement handles POST /api/v1/statements/verify.
func (h *VerificationHandler) VerifyStatement(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.verifier.Verify(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	middleware.AddSpanAttribute(c, "verdict.label", string(resp.Verdict.Label))
	middleware.AddSpanAttribute(c, "verdict.fingerprint", resp.Verdict.DocumentFingerprint)
	middleware.AddSpanAttribute(c, "verdict.cache_hit", resp.CacheHit)

	c.JSON(http.StatusOK, resp)
}

// respondError maps the pipeline error taxonomy onto HTTP statuses:
// unusable parser output is the client's problem (422), schema drift between
// the feature builder and the model is a deployment bug (500).
func (h *VerificationHandler) respondError(c *gin.Context, err error) {
	middleware.RecordError(c, err, "verification failed")

	var malformed *verify.MalformedDocumentError
	if errors.As(err, &malformed) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "malformed document",
			"field":   malformed.Field,
			"details": malformed.Reason,
		})
		return
	}

	var mismatch *verify.FeatureShapeMismatchError
	if errors.As(err, &mismatch) {
		h.logger.WithError(err).Error("feature schema drift detected")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "model schema mismatch",
			"details": mismatch.Error(),
		})
		return
	}

	h.logger.WithError(err).Error("verification run failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
}
