package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.aimuz.me/voxbridge/translate"
)

// ErrTranslationFailed is returned when no provider could translate.
var ErrTranslationFailed = errors.New("translation failed")

// Translator runs one-off translations through a dispatcher, sharing its
// cache and failover with the live session.
type Translator struct {
	dispatcher *translate.Dispatcher
}

// NewTranslator creates a Translator on top of d.
func NewTranslator(d *translate.Dispatcher) *Translator {
	return &Translator{dispatcher: d}
}

// Translate translates req. A degraded result is returned together with
// ErrTranslationFailed so callers can still show the marked text.
func (t *Translator) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	if req.Text == "" {
		return translate.Result{}, errors.New("translate: empty text")
	}

	res := t.dispatcher.Translate(ctx, req)
	if res.Degraded {
		return res, fmt.Errorf("translate %s -> %s: %w", req.InputLanguage, req.OutputLanguage, ErrTranslationFailed)
	}

	slog.Debug("translated",
		"provider", res.Provider,
		"model", res.Model,
		"cached", res.Cached,
		"identity", res.Identity,
		"tokens", res.Usage.TotalTokens)
	return res, nil
}

// Close stops the dispatcher.
func (t *Translator) Close() {
	t.dispatcher.Close()
}
