package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.aimuz.me/voxbridge/llm"
)

// Checker tells whether a provider's credentials are usable.
type Checker interface {
	Check(ctx context.Context, id ProviderID) error
}

// HTTPChecker asks a validation endpoint per provider: GET -> {valid, error}.
type HTTPChecker struct {
	URLs map[ProviderID]string
	HTTP *http.Client
}

func (c *HTTPChecker) Check(ctx context.Context, id ProviderID) error {
	url, ok := c.URLs[id]
	if !ok {
		return fmt.Errorf("%s: no check endpoint", id)
	}
	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("check %s: %w", id, err)
	}
	defer resp.Body.Close()

	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return fmt.Errorf("check %s: status %d: decode: %w", id, resp.StatusCode, err)
	}
	if !out.Valid {
		if out.Error == "" {
			out.Error = "credential rejected"
		}
		return fmt.Errorf("check %s: %s", id, out.Error)
	}
	return nil
}

// CompleterChecker validates a key by asking the provider for a tiny completion.
type CompleterChecker struct {
	Completers map[ProviderID]llm.Completer
}

func (c *CompleterChecker) Check(ctx context.Context, id ProviderID) error {
	completer, ok := c.Completers[id]
	if !ok || completer == nil {
		return fmt.Errorf("%s: not configured", id)
	}
	_, _, err := completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "Say hello"},
	})
	if err != nil {
		var apiErr *llm.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("check %s: invalid api key: %w", id, err)
		}
		return fmt.Errorf("check %s: %w", id, err)
	}
	return nil
}

// FirstUsable returns the first provider in ids that passes the check.
func FirstUsable(ctx context.Context, c Checker, ids []ProviderID) (ProviderID, error) {
	var errs []error
	for _, id := range ids {
		err := c.Check(ctx, id)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrNoProvider
	}
	return "", fmt.Errorf("%w: %w", ErrNoProvider, errors.Join(errs...))
}
