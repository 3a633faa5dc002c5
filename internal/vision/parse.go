package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/veridoc/stmtguard-go/internal/models"
)

// pageAnalysis is the JSON document the oracle must return for one page.
// Parsing is strict: a reply that does not decode into this shape is treated
// as an oracle failure, never as evidence.
type pageAnalysis struct {
	PageNumber       int               `json:"page_number"`
	OpeningBalance   *json.Number      `json:"opening_balance"`
	ClosingBalance   *json.Number      `json:"closing_balance"`
	TransactionCount *int              `json:"transaction_count"`
	Transactions     []pageTransaction `json:"transactions"`
	PageText         string            `json:"page_text"`
	ObviousTampering tamperFlag        `json:"obvious_tampering"`

	// First-page only fields.
	Classification string `json:"classification,omitempty"`
	BankName       string `json:"bank_name,omitempty"`
	BusinessName   string `json:"business_name,omitempty"`
}

// pageTransaction is one row the oracle read off the page image.
type pageTransaction struct {
	Date   string      `json:"date"`
	Amount json.Number `json:"amount"`
}

// tamperFlag decodes the oracle's tampering call, which the prompt allows as
// 0, 1 or the string "unknown". Models occasionally reply with "0"/"1"/"yes"
// strings instead; those spellings are accepted rather than discarded.
type tamperFlag struct {
	State models.TamperState
}

func (t *tamperFlag) UnmarshalJSON(b []byte) error {
	switch raw := strings.TrimSpace(string(b)); raw {
	case "0":
		t.State = models.TamperNo
		return nil
	case "1":
		t.State = models.TamperYes
		return nil
	case "null":
		t.State = models.TamperUnknown
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("obvious_tampering must be 0, 1 or \"unknown\", got %s", string(b))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "no", "false":
		t.State = models.TamperNo
	case "1", "yes", "true":
		t.State = models.TamperYes
	case "unknown", "":
		t.State = models.TamperUnknown
	default:
		return fmt.Errorf("obvious_tampering must be 0, 1 or \"unknown\", got %q", s)
	}
	return nil
}

// parseOracleReply decodes the raw chat completion content into a pageAnalysis.
// Markdown code fences around the JSON body are tolerated because chat models
// add them even when told not to.
func parseOracleReply(reply string) (*pageAnalysis, error) {
	cleaned := stripFences(reply)
	if cleaned == "" {
		return nil, fmt.Errorf("oracle reply is empty")
	}

	var analysis pageAnalysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return nil, fmt.Errorf("oracle reply is not valid JSON: %w", err)
	}
	if analysis.PageNumber <= 0 {
		return nil, fmt.Errorf("oracle reply missing positive page_number")
	}
	if analysis.ObviousTampering.State == "" {
		analysis.ObviousTampering.State = models.TamperUnknown
	}
	return &analysis, nil
}

// stripFences removes a leading ```json (or bare ```) fence and the matching
// trailing fence, leaving any other content untouched.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
