package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Endpoint is a negotiated streaming transcription session.
type Endpoint struct {
	WebsocketURL string `json:"websocketUrl"`
	SessionID    string `json:"sessionId"`
}

// Negotiator obtains a streaming endpoint for a language.
type Negotiator interface {
	Negotiate(ctx context.Context, lang string) (Endpoint, error)
}

// HTTPNegotiator asks a session service for an endpoint with
// GET <URL>?language=<lang>.
type HTTPNegotiator struct {
	URL    string
	Header http.Header // e.g. Authorization
	http   *http.Client
}

// NewHTTPNegotiator creates a negotiator for the given service URL.
func NewHTTPNegotiator(serviceURL string, header http.Header) *HTTPNegotiator {
	return &HTTPNegotiator{
		URL:    serviceURL,
		Header: header,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

type negotiateResponse struct {
	Endpoint
	Error string `json:"error"`
}

// Negotiate requests a session. Failures come back as *TransportError with the
// HTTP status, so 429/5xx can be retried and 401/403 fall back.
func (n *HTTPNegotiator) Negotiate(ctx context.Context, lang string) (Endpoint, error) {
	u, err := url.Parse(n.URL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse negotiate url: %w", err)
	}
	q := u.Query()
	q.Set("language", lang)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Endpoint{}, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range n.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return Endpoint{}, &TransportError{Err: fmt.Errorf("negotiate session: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Endpoint{}, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var out negotiateResponse
	jsonErr := json.Unmarshal(body, &out)

	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if jsonErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Endpoint{}, &TransportError{Status: resp.StatusCode, Err: errors.New(msg)}
	}
	if jsonErr != nil {
		return Endpoint{}, fmt.Errorf("parse response: %w", jsonErr)
	}
	if out.WebsocketURL == "" {
		return Endpoint{}, &TransportError{Status: resp.StatusCode, Err: errors.New("no websocket url in session response")}
	}
	return out.Endpoint, nil
}
