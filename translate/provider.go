// Package translate turns finalized transcript text into the output language
// through interchangeable LLM providers, one request at a time.
package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"go.aimuz.me/voxbridge/internal/types"
)

// ProviderID names a translation provider.
type ProviderID string

const (
	Groq     ProviderID = "groq"
	Together ProviderID = "together"
)

// ProviderIDs lists the providers in default priority order.
var ProviderIDs = []ProviderID{Groq, Together}

var models = map[ProviderID][]string{
	Groq: {
		"llama3-8b-8192",
		"llama3-70b-8192",
		"mixtral-8x7b-32768",
		"gemma-7b-it",
	},
	Together: {
		"meta-llama/Llama-3.1-70B-Instruct-Turbo",
		"meta-llama/Llama-3.1-8B-Instruct-Turbo",
		"mistralai/Mixtral-8x7B-Instruct-v0.1",
	},
}

// Models returns the models offered for id; the first is the default.
func Models(id ProviderID) []string {
	return slices.Clone(models[id])
}

// DefaultModel returns the model used when a request names none, and when
// failing over to id.
func DefaultModel(id ProviderID) string {
	if m := models[id]; len(m) > 0 {
		return m[0]
	}
	return ""
}

// ParseProviderID validates a provider name.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(s)
	if _, ok := models[id]; !ok {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return id, nil
}

// Request is one translation job.
type Request struct {
	Text           string `json:"text"`
	InputLanguage  string `json:"inputLanguage"`
	OutputLanguage string `json:"outputLanguage"`
	Model          string `json:"model"`
}

// Result is the outcome of a translation. Degraded results carry the
// original text behind a failure marker.
type Result struct {
	Translation string        `json:"translation"`
	Speaker     types.Speaker `json:"speaker"`
	Provider    ProviderID    `json:"provider,omitempty"`
	Model       string        `json:"model,omitempty"`
	Cached      bool          `json:"cached,omitempty"`
	Identity    bool          `json:"identity,omitempty"`
	Degraded    bool          `json:"degraded,omitempty"`
	Usage       types.Usage   `json:"usage"`
}

// Provider translates text with one backend.
type Provider interface {
	ID() ProviderID
	DefaultModel() string
	Translate(ctx context.Context, req Request) (Result, error)
}

var (
	// ErrServiceUnavailable marks the "try the other provider" class (HTTP 503).
	ErrServiceUnavailable = errors.New("translation service temporarily unavailable")

	// ErrNoProvider is returned when no configured provider is usable.
	ErrNoProvider = errors.New("no usable translation provider")
)

// ProviderError is a failed provider call.
type ProviderError struct {
	Provider ProviderID
	Status   int // HTTP status, 0 when the request never completed
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is makes every 503 match ErrServiceUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrServiceUnavailable && e.Status == http.StatusServiceUnavailable
}
