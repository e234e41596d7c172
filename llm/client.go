// Package llm provides chat completion clients for OpenAI-compatible APIs.
package llm

import (
	"context"
	"errors"
	"fmt"

	"go.aimuz.me/voxbridge/internal/types"
)

// Well-known OpenAI-compatible endpoints.
const (
	GroqBaseURL     = "https://api.groq.com/openai/v1"
	TogetherBaseURL = "https://api.together.xyz/v1"
	OpenAIBaseURL   = "https://api.openai.com/v1"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options configures LLM completion behavior.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Completer performs chat completions.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, types.Usage, error)
}

// ErrEmptyResponse is returned when the API answers without any choice.
var ErrEmptyResponse = errors.New("no choices in completion response")

// APIError is a non-2xx answer from the completion API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d - %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Config holds the parameters for NewCompleter.
type Config struct {
	BaseURL string // Defaults to OpenAIBaseURL
	APIKey  string
	Model   string
	Options Options
}

// BaseURLFor returns the endpoint for a provider name, or "".
func BaseURLFor(provider string) string {
	switch provider {
	case "groq":
		return GroqBaseURL
	case "together":
		return TogetherBaseURL
	case "openai":
		return OpenAIBaseURL
	default:
		return ""
	}
}
