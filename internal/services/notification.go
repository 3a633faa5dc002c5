package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/models"
	"github.com/veridoc/stmtguard-go/internal/telemetry"
)

// telegramSender is the subset of the Telegram bot API the service uses,
// extracted so tests can run without a live bot.
type telegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// NotificationService pushes a Telegram alert when a verdict reaches the
// configured minimum label. Alerting is strictly best-effort: a send failure
// is logged and never affects the verdict returned to the caller.
type NotificationService struct {
	bot      telegramSender
	chatID   string
	minLabel models.VerdictLabel
	logger   *logrus.Logger
	tracer   *telemetry.PipelineTracer
}

// NewNotificationService creates the alert service from configuration. A
// missing bot token disables alerting: the service is still safe to call and
// does nothing.
func NewNotificationService(cfg *config.AlertsConfig, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}

	svc := &NotificationService{
		chatID:   cfg.ChatID,
		minLabel: models.VerdictLabel(cfg.MinLabel),
		logger:   logger,
		tracer:   telemetry.NewPipelineTracer(),
	}
	if svc.minLabel.Rank() < 0 {
		svc.minLabel = models.LabelForged
	}

	if !cfg.Enabled || cfg.BotToken == "" {
		logger.Info("Verdict alerting disabled")
		return svc
	}

	b, err := bot.New(cfg.BotToken)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize Telegram bot, alerting disabled")
		return svc
	}
	svc.bot = b
	return svc
}

// Enabled reports whether the service has a working bot and chat target.
func (ns *NotificationService) Enabled() bool {
	return ns.bot != nil && ns.chatID != ""
}

// NotifyVerdict sends an alert for the verdict if its label reaches the
// configured minimum. Errors are logged, never returned.
func (ns *NotificationService) NotifyVerdict(ctx context.Context, verdict *models.Verdict) {
	if !ns.Enabled() {
		return
	}
	if verdict.Label.Rank() < ns.minLabel.Rank() {
		return
	}

	ctx, span := ns.tracer.TraceNotification(ctx, "verdict_alert", "telegram")
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := ns.bot.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      formatVerdictMessage(verdict),
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	ns.tracer.RecordNotificationResult(span, err == nil, err)
	if err != nil {
		ns.logger.WithFields(logrus.Fields{
			"fingerprint": verdict.DocumentFingerprint,
			"label":       verdict.Label,
		}).WithError(err).Warn("Failed to send verdict alert")
		return
	}

	ns.logger.WithFields(logrus.Fields{
		"fingerprint": verdict.DocumentFingerprint,
		"label":       verdict.Label,
	}).Info("Sent verdict alert")
}

// formatVerdictMessage builds the Telegram alert text: label, confidence and
// the top three contributing reasons.
func formatVerdictMessage(verdict *models.Verdict) string {
	var b strings.Builder

	icon := "⚠️"
	if verdict.Label == models.LabelForged {
		icon = "🚨"
	}
	fmt.Fprintf(&b, "%s *Statement flagged: %s*\n\n", icon, strings.ToUpper(string(verdict.Label)))
	fmt.Fprintf(&b, "Document: `%s`\n", verdict.DocumentFingerprint)
	fmt.Fprintf(&b, "Risk: %s, confidence %s\n", verdict.Risk.StringFixed(3), verdict.Confidence.StringFixed(3))
	fmt.Fprintf(&b, "Violations: %d (%d high)\n", verdict.ViolationCount, verdict.HighSeverityCount)
	if !verdict.OracleAvailable {
		b.WriteString("Vision cross-check: unavailable\n")
	}

	top := verdict.Reasons
	if len(top) > 3 {
		top = top[:3]
	}
	if len(top) > 0 {
		b.WriteString("\nTop signals:\n")
		for i, reason := range top {
			fmt.Fprintf(&b, "%d. %s — %s\n", i+1, reason.Source, reason.Summary)
		}
	}

	fmt.Fprintf(&b, "\nModel %s, %s", verdict.ModelVersion, verdict.CreatedAt.Format(time.RFC3339))
	return b.String()
}
