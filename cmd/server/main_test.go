package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc/stmtguard-go/internal/config"
	"github.com/veridoc/stmtguard-go/internal/models"
)

func TestBuildRuleOptions(t *testing.T) {
	enabled := false
	cfg := &config.RulesConfig{
		BalanceTolerance:  0.05,
		MaxFontCount:      6,
		MaxDuplicateDates: 12,
		KnownCreators:     []string{"BankExport"},
		StatementKeywords: []string{"balance"},
		MinKeywordHits:    1,
		Overrides: map[string]config.RuleOverride{
			"meta.fonts": {Enabled: &enabled},
			"date.order": {Severity: "high"},
		},
	}

	opts := buildRuleOptions(cfg)

	assert.Equal(t, "0.05", opts.BalanceTolerance.String())
	assert.Equal(t, 6, opts.MaxFontCount)
	assert.Equal(t, 12, opts.MaxDuplicateDates)
	assert.Equal(t, []string{"BankExport"}, opts.KnownCreators)
	assert.Equal(t, 1, opts.MinKeywordHits)

	require.Len(t, opts.Overrides, 2)
	require.NotNil(t, opts.Overrides["meta.fonts"].Enabled)
	assert.False(t, *opts.Overrides["meta.fonts"].Enabled)
	assert.Equal(t, models.SeverityHigh, opts.Overrides["date.order"].Severity)
}

func TestBuildRuleOptions_NoOverrides(t *testing.T) {
	opts := buildRuleOptions(&config.RulesConfig{BalanceTolerance: 0.01})
	assert.Nil(t, opts.Overrides)
}

func TestResolveOTLPEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:4318", resolveOTLPEndpoint("localhost:4318", true))
	assert.Equal(t, "https://otel.example.com:4318", resolveOTLPEndpoint("otel.example.com:4318", false))
	assert.Equal(t, "https://collector:4318", resolveOTLPEndpoint("https://collector:4318", true))
}
