package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.aimuz.me/voxbridge/internal/types"
)

// HTTPProvider calls a translation endpoint that speaks
// {text, inputLanguage, outputLanguage, model} -> {translation, speaker}.
type HTTPProvider struct {
	id           ProviderID
	url          string
	defaultModel string
	http         *http.Client
}

// NewHTTPProvider creates a provider backed by a translation endpoint.
func NewHTTPProvider(id ProviderID, url, defaultModel string) *HTTPProvider {
	if defaultModel == "" {
		defaultModel = DefaultModel(id)
	}
	return &HTTPProvider{
		id:           id,
		url:          url,
		defaultModel: defaultModel,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPProvider) ID() ProviderID       { return p.id }
func (p *HTTPProvider) DefaultModel() string { return p.defaultModel }

// maxResponseSize caps how much of a translation or check response is read.
const maxResponseSize = 1 << 20

type httpTranslateResponse struct {
	Translation string `json:"translation"`
	Speaker     string `json:"speaker"`
	Error       string `json:"error"`
}

func (p *HTTPProvider) Translate(ctx context.Context, req Request) (Result, error) {
	if req.Model == "" {
		req.Model = p.defaultModel
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return Result{}, &ProviderError{Provider: p.id, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return Result{}, &ProviderError{Provider: p.id, Err: fmt.Errorf("read response: %w", err)}
	}

	var out httpTranslateResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Result{}, &ProviderError{Provider: p.id, Status: resp.StatusCode, Err: errors.New(msg)}
	}

	text := strings.TrimSpace(out.Translation)
	if text == "" {
		return Result{}, &ProviderError{Provider: p.id, Err: errors.New("empty translation")}
	}
	speaker := types.SpeakerUnknown
	if out.Speaker != "" {
		speaker = types.ParseSpeaker(out.Speaker)
	}
	return Result{
		Translation: text,
		Speaker:     speaker,
		Provider:    p.id,
		Model:       req.Model,
	}, nil
}
