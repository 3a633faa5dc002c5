package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/veridoc/stmtguard-go/internal/config"
)

// Client is the HTTP client for the vision oracle service.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
}

// NewClient creates an oracle client from configuration.
func NewClient(cfg *config.OracleConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		BaseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		timeout: timeout,
	}
}

// Model returns the model identifier sent with every analysis call.
func (c *Client) Model() string {
	return c.model
}

// ListModels fetches the models the service exposes. Used as a reachability
// probe at startup.
func (c *Client) ListModels(ctx context.Context) (*ModelsResponse, error) {
	var response ModelsResponse
	err := c.makeRequest(ctx, "GET", "/v1/models", nil, &response)
	if err != nil {
		return nil, err
	}
	return &response, nil
}

// AnalyzeStatement sends the instruction prompts plus the rendered pages to
// the oracle and returns the raw text of its reply. The caller owns parsing;
// the oracle's output is free-form by nature even when a JSON response format
// is requested.
func (c *Client) AnalyzeStatement(ctx context.Context, systemPrompt, userPrompt string, pages []PageUpload) (string, error) {
	parts := make([]ContentPart, 0, len(pages)+1)
	parts = append(parts, ContentPart{
		Type: ContentTypeText,
		Text: userPrompt,
	})
	for _, page := range pages {
		parts = append(parts, ContentPart{
			Type: ContentTypeImageURL,
			ImageURL: &ImageURL{
				URL: "data:image/png;base64," + page.Base64PNG,
			},
		})
	}

	request := &ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: parts},
		},
		ResponseFormat: &ResponseFormat{Type: ResponseFormatJSON},
		Temperature:    0,
	}

	var response ChatResponse
	if err := c.makeRequest(ctx, "POST", "/v1/chat/completions", request, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("oracle returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}

// makeRequest is a helper method to make HTTP requests to the oracle service
func (c *Client) makeRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Stmtguard/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResp ErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil && errorResp.Error.Message != "" {
			return &StatusError{StatusCode: resp.StatusCode, Message: errorResp.Error.Message}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// Close closes the HTTP client (if needed for cleanup)
func (c *Client) Close() error {
	// HTTP client doesn't need explicit closing, but this method
	// is provided for interface compatibility
	return nil
}
