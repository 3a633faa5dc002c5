package oracle

import "fmt"

// Message roles and content part types for the chat-completion protocol the
// vision service speaks.
const (
	RoleSystem = "system"
	RoleUser   = "user"

	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"

	ResponseFormatJSON = "json_object"
)

// ChatRequest is the wire request for one vision analysis call.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
}

// Message is one chat message. Content is either a plain string (system
// prompts) or a []ContentPart for multimodal user messages.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, typically a base64 data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat pins the oracle's output format.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatResponse is the wire response from the vision service.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion alternative; the service returns at least one.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message inside a choice.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting for a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelsResponse lists the models the service exposes.
type ModelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// ModelInfo identifies one available model.
type ModelInfo struct {
	ID string `json:"id"`
}

// ErrorResponse is the service's error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the service-side error description.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// StatusError is returned for any non-2xx response so callers can separate
// transient failures from permanent ones.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error returns the error message string.
func (e *StatusError) Error() string {
	return fmt.Sprintf("oracle error (%d): %s", e.StatusCode, e.Message)
}

// Transient reports whether the call may succeed on retry: rate limiting and
// server-side failures are transient, everything else is not.
func (e *StatusError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// PageUpload is one rendered statement page sent for inspection.
type PageUpload struct {
	Number    int
	Base64PNG string
}
