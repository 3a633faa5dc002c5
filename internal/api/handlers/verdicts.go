package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/database"
	"github.com/veridoc/stmtguard-go/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// VerdictReader reads stored verdicts. Satisfied by the Postgres repository;
// tests substitute an in-memory implementation.
type VerdictReader interface {
	GetVerdictByID(ctx context.Context, id string) (*models.Verdict, error)
	ListVerdictsByFingerprint(ctx context.Context, fingerprint string, limit int) ([]models.Verdict, error)
}

// VerdictHandler serves the append-only verdict log.
type VerdictHandler struct {
	verdicts VerdictReader
	logger   *logrus.Logger
}

// NewVerdictHandler creates the handler.
func NewVerdictHandler(verdicts VerdictReader, logger *logrus.Logger) *VerdictHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &VerdictHandler{
		verdicts: verdicts,
		logger:   logger,
	}
}

// GetVerdict handles GET /api/v1/verdicts/:id.
func (h *VerdictHandler) GetVerdict(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "verdict id must be a UUID"})
		return
	}

	verdict, err := h.verdicts.GetVerdictByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrVerdictNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "verdict not found"})
			return
		}
		h.logger.WithError(err).Error("failed to fetch verdict")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch verdict"})
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// GetDocumentHistory handles GET /api/v1/documents/:fingerprint/verdicts.
// Verdicts are append-only, so the history is every run recorded for the
// document, newest first.
func (h *VerdictHandler) GetDocumentHistory(c *gin.Context) {
	fingerprint := c.Param("fingerprint")
	if fingerprint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document fingerprint is required"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	verdicts, err := h.verdicts.ListVerdictsByFingerprint(c.Request.Context(), fingerprint, limit)
	if err != nil {
		h.logger.WithError(err).Error("failed to list verdicts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list verdicts"})
		return
	}

	c.JSON(http.StatusOK, models.VerdictHistoryResponse{
		Fingerprint: fingerprint,
		Verdicts:    verdicts,
		Count:       len(verdicts),
		Timestamp:   time.Now().UTC(),
	})
}
