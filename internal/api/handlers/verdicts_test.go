package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/stmtguard-go/internal/database"
	"github.com/veridoc/stmtguard-go/internal/models"
)

type stubVerdictReader struct {
	verdicts  map[string]*models.Verdict
	byFP      map[string][]models.Verdict
	lastLimit int
	listErr   error
}

func (s *stubVerdictReader) GetVerdictByID(_ context.Context, id string) (*models.Verdict, error) {
	v, ok := s.verdicts[id]
	if !ok {
		return nil, database.ErrVerdictNotFound
	}
	return v, nil
}

func (s *stubVerdictReader) ListVerdictsByFingerprint(_ context.Context, fingerprint string, limit int) ([]models.Verdict, error) {
	s.lastLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := s.byFP[fingerprint]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newVerdictRouter(reader VerdictReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	handler := NewVerdictHandler(reader, logger)
	router := gin.New()
	router.GET("/api/v1/verdicts/:id", handler.GetVerdict)
	router.GET("/api/v1/documents/:fingerprint/verdicts", handler.GetDocumentHistory)
	return router
}

func storedVerdict(id, fingerprint string) models.Verdict {
	return models.Verdict{
		ID:                  id,
		DocumentFingerprint: fingerprint,
		Label:               models.LabelSuspicious,
		Risk:                decimal.NewFromFloat(0.55),
		Confidence:          decimal.NewFromFloat(0.61),
		ModelVersion:        "v3",
		CreatedAt:           time.Now().UTC(),
	}
}

func TestGetVerdict_Found(t *testing.T) {
	id := "8b7a4c1e-1111-4222-8333-444455556666"
	v := storedVerdict(id, "fp-1")
	reader := &stubVerdictReader{verdicts: map[string]*models.Verdict{id: &v}}
	router := newVerdictRouter(reader)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/"+id, nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Verdict
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, models.LabelSuspicious, got.Label)
}

func TestGetVerdict_InvalidID(t *testing.T) {
	router := newVerdictRouter(&stubVerdictReader{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetVerdict_NotFound(t *testing.T) {
	router := newVerdictRouter(&stubVerdictReader{verdicts: map[string]*models.Verdict{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/verdicts/8b7a4c1e-1111-4222-8333-444455556666", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDocumentHistory_ReturnsVerdicts(t *testing.T) {
	reader := &stubVerdictReader{
		byFP: map[string][]models.Verdict{
			"fp-1": {
				storedVerdict("8b7a4c1e-1111-4222-8333-444455556661", "fp-1"),
				storedVerdict("8b7a4c1e-1111-4222-8333-444455556662", "fp-1"),
			},
		},
	}
	router := newVerdictRouter(reader)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/fp-1/verdicts", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.VerdictHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fp-1", resp.Fingerprint)
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Verdicts, 2)
	assert.Equal(t, defaultHistoryLimit, reader.lastLimit)
}

func TestGetDocumentHistory_LimitValidation(t *testing.T) {
	reader := &stubVerdictReader{byFP: map[string][]models.Verdict{}}
	router := newVerdictRouter(reader)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/fp-1/verdicts?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/fp-1/verdicts?limit=-3", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/fp-1/verdicts?limit=5000", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxHistoryLimit, reader.lastLimit)
}

func TestGetDocumentHistory_StoreError(t *testing.T) {
	reader := &stubVerdictReader{listErr: errors.New("connection refused")}
	router := newVerdictRouter(reader)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/fp-1/verdicts", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
