package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/models"
)

type capturingSender struct {
	sent []bot.SendMessageParams
	err  error
}

func (c *capturingSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.sent = append(c.sent, *params)
	return &tgmodels.Message{}, nil
}

func newTestNotificationService(minLabel string, sender telegramSender) *NotificationService {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	svc := NewNotificationService(&config.AlertsConfig{
		Enabled:  false,
		ChatID:   "12345",
		MinLabel: minLabel,
	}, logger)
	svc.bot = sender
	return svc
}

func alertVerdict(label models.VerdictLabel) *models.Verdict {
	return &models.Verdict{
		ID:                  "c1f3a9fb-6e79-4fbb-9ccd-2f1f3bd10a55",
		DocumentFingerprint: "ab12cd34ef56",
		Label:               label,
		Confidence:          decimal.NewFromFloat(0.91),
		Risk:                decimal.NewFromFloat(0.82),
		Reasons: []models.Reason{
			{Source: "rules", Summary: "2 violation(s): 2 high, 0 medium, 0 low", Contribution: decimal.NewFromFloat(0.3)},
			{Source: "classifier", Summary: "model 2024.1 scored forgery probability 0.9100", Contribution: decimal.NewFromFloat(0.28)},
		},
		ModelVersion:      "2024.1",
		ViolationCount:    2,
		HighSeverityCount: 2,
		CreatedAt:         time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifyVerdictSendsAtOrAboveMinLabel(t *testing.T) {
	sender := &capturingSender{}
	svc := newTestNotificationService("forged", sender)

	svc.NotifyVerdict(context.Background(), alertVerdict(models.LabelForged))

	require.Len(t, sender.sent, 1)
	text := sender.sent[0].Text
	assert.Contains(t, text, "FORGED")
	assert.Contains(t, text, "ab12cd34ef56")
	assert.Contains(t, text, "rules")
	assert.Equal(t, "12345", sender.sent[0].ChatID)
}

func TestNotifyVerdictSkipsBelowMinLabel(t *testing.T) {
	sender := &capturingSender{}
	svc := newTestNotificationService("forged", sender)

	svc.NotifyVerdict(context.Background(), alertVerdict(models.LabelSuspicious))
	svc.NotifyVerdict(context.Background(), alertVerdict(models.LabelAuthentic))

	assert.Empty(t, sender.sent)
}

func TestNotifyVerdictSuspiciousThreshold(t *testing.T) {
	sender := &capturingSender{}
	svc := newTestNotificationService("suspicious", sender)

	svc.NotifyVerdict(context.Background(), alertVerdict(models.LabelSuspicious))
	svc.NotifyVerdict(context.Background(), alertVerdict(models.LabelForged))

	assert.Len(t, sender.sent, 2)
}

func TestNotifyVerdictSendFailureIsSwallowed(t *testing.T) {
	sender := &capturingSender{err: errors.New("telegram unreachable")}
	svc := newTestNotificationService("forged", sender)

	// Must not panic or propagate; the verdict path never depends on alerting.
	svc.NotifyVerdict(context.Background(), alertVerdict(models.LabelForged))
}

func TestNotificationServiceDisabledWithoutToken(t *testing.T) {
	svc := NewNotificationService(&config.AlertsConfig{Enabled: true, ChatID: "1"}, nil)
	assert.False(t, svc.Enabled())
	svc.NotifyVerdict(context.Background(), alertVerdict(models.LabelForged))
}

func TestFormatVerdictMessageOracleUnavailable(t *testing.T) {
	v := alertVerdict(models.LabelForged)
	v.OracleAvailable = false

	msg := formatVerdictMessage(v)
	assert.Contains(t, msg, "Vision cross-check: unavailable")
}
