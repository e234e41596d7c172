package translate

import (
	"context"
	"errors"
	"sync"

	"go.aimuz.me/voxbridge/llm"
)

// LLMConfig configures an LLMProvider.
type LLMConfig struct {
	ID           ProviderID
	APIKey       string
	BaseURL      string      // Defaults to the provider's public endpoint
	DefaultModel string      // Defaults to DefaultModel(ID)
	Style        PromptStyle // Groq answers in JSON, Together in plain text
	Options      llm.Options

	// NewCompleter overrides how per-model completers are built.
	NewCompleter func(model string) llm.Completer
}

// LLMProvider translates through an OpenAI-compatible chat completion API.
type LLMProvider struct {
	id           ProviderID
	defaultModel string
	style        PromptStyle
	newCompleter func(model string) llm.Completer

	mu         sync.Mutex
	completers map[string]llm.Completer
}

// NewLLMProvider creates an LLM-backed provider.
func NewLLMProvider(cfg LLMConfig) *LLMProvider {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel(cfg.ID)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = llm.BaseURLFor(string(cfg.ID))
	}
	if cfg.Options.MaxTokens == 0 {
		cfg.Options.MaxTokens = 1024
	}
	if cfg.Options.Temperature == 0 {
		cfg.Options.Temperature = 0.3
	}
	if cfg.NewCompleter == nil {
		cfg.NewCompleter = func(model string) llm.Completer {
			return llm.NewCompleter(llm.Config{
				BaseURL: cfg.BaseURL,
				APIKey:  cfg.APIKey,
				Model:   model,
				Options: cfg.Options,
			})
		}
	}
	return &LLMProvider{
		id:           cfg.ID,
		defaultModel: cfg.DefaultModel,
		style:        cfg.Style,
		newCompleter: cfg.NewCompleter,
		completers:   make(map[string]llm.Completer),
	}
}

func (p *LLMProvider) ID() ProviderID       { return p.id }
func (p *LLMProvider) DefaultModel() string { return p.defaultModel }

// Translate sends req to the model it names.
func (p *LLMProvider) Translate(ctx context.Context, req Request) (Result, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	raw, usage, err := p.completer(model).Complete(ctx, buildMessages(p.style, req))
	if err != nil {
		return Result{}, &ProviderError{Provider: p.id, Status: llm.StatusCode(err), Err: err}
	}

	text, speaker := parseResponse(p.style, raw)
	if text == "" {
		return Result{}, &ProviderError{Provider: p.id, Err: errors.New("empty translation")}
	}
	return Result{
		Translation: text,
		Speaker:     speaker,
		Provider:    p.id,
		Model:       model,
		Usage:       usage,
	}, nil
}

// Completer returns the completer for the default model, for credential checks.
func (p *LLMProvider) Completer() llm.Completer {
	return p.completer(p.defaultModel)
}

func (p *LLMProvider) completer(model string) llm.Completer {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.completers[model]
	if !ok {
		c = p.newCompleter(model)
		p.completers[model] = c
	}
	return c
}
