// Package app builds the interpreter from configuration and exposes it to a
// front end through an emitter.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"go.aimuz.me/voxbridge/audiocapture"
	"go.aimuz.me/voxbridge/cache"
	"go.aimuz.me/voxbridge/config"
	"go.aimuz.me/voxbridge/internal/retry"
	"go.aimuz.me/voxbridge/internal/types"
	"go.aimuz.me/voxbridge/livetranslate"
	"go.aimuz.me/voxbridge/llm"
	"go.aimuz.me/voxbridge/speech"
	"go.aimuz.me/voxbridge/stt"
	"go.aimuz.me/voxbridge/translate"
)

// Emitter delivers named events to the front end.
type Emitter interface {
	Emit(name string, data any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(name string, data any)

func (f EmitterFunc) Emit(name string, data any) { f(name, data) }

// Service owns every component of one interpreter.
// This struct focuses on orchestration; behavior lives in the sub-packages.
type Service struct {
	cfg     *config.Config
	emitter Emitter
	version string
	setup   sync.Once

	cache      *cache.Cache
	providers  []translate.Provider
	checker    translate.Checker
	translator *Translator
	strategies []stt.Entry
	synth      speech.Synthesizer
	capture    *audiocapture.Capture
	level      *levelEmitter
	live       LiveAdapter
}

// New creates a Service. Call Init before use.
func New(version string, cfg *config.Config, emitter Emitter) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if emitter == nil {
		emitter = EmitterFunc(func(string, any) {})
	}
	return &Service{cfg: cfg, emitter: emitter, version: version}
}

// Version returns the application version.
func (s *Service) Version() string {
	return s.version
}

// Setup builds the translation, transcription and speech components. It is
// enough for Translate and CheckProviders; Init calls it too.
func (s *Service) Setup() {
	s.setup.Do(func() {
		s.setupCache()
		s.setupTranslation()
		s.setupTranscription()
		s.setupSpeech()
	})
}

// Init creates a session recording from device and picks the first usable
// provider. A provider failure leaves the session usable for a retry and is
// returned.
func (s *Service) Init(ctx context.Context, device audiocapture.Device) error {
	s.Setup()

	s.level = newLevelEmitter(s.emit, 0)
	capCfg := audiocapture.DefaultConfig()
	capCfg.OnLevel = s.level.update
	s.capture = audiocapture.New(device, capCfg)

	sess := livetranslate.New(livetranslate.Config{
		Mic:              livetranslate.FromCapture(s.capture),
		Strategies:       s.strategies,
		IdleTimeout:      s.cfg.Transcription.IdleTimeout,
		Providers:        s.providers,
		Cache:            s.cache,
		Checker:          s.checker,
		DetectLanguage:   s.cfg.Session.DetectLanguage,
		TranslateTimeout: s.cfg.Session.TranslateTimeout,
		Synthesizer:      s.synth,
		Speech:           speech.DefaultConfig(),
		Defaults: types.SessionConfig{
			InputLanguage:  s.cfg.Session.InputLanguage,
			OutputLanguage: s.cfg.Session.OutputLanguage,
			Model:          s.cfg.Session.Model,
			Provider:       s.cfg.Session.Provider,
			AutoSpeak:      s.cfg.Session.AutoSpeak,
		},
		SettleDelay: s.cfg.Session.SettleDelay,
		BannerTTL:   s.cfg.Session.BannerTTL,
		OnChange:    s.forward,
	})
	s.live.Attach(sess)

	return sess.Initialize(ctx)
}

// Shutdown cleans up resources.
func (s *Service) Shutdown() {
	s.live.Close()
	if s.level != nil {
		s.level.stop()
	}
	if s.translator != nil {
		s.translator.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Error("close cache", "error", err)
		}
	}
}

// Session returns the live session, or nil before Init.
func (s *Service) Session() *livetranslate.Session {
	return s.live.Session()
}

func (s *Service) emit(name string, data any) {
	s.emitter.Emit(name, data)
}

// ─────────────────────────────────────────────────────────────────────────────
// Setup
// ─────────────────────────────────────────────────────────────────────────────

func (s *Service) setupCache() {
	c, err := cache.New(s.cfg.Cache.Dir)
	if err != nil {
		slog.Error("init cache", "error", err)
		return
	}
	s.cache = c
	if s.cfg.Cache.Dir == "" {
		slog.Debug("cache initialized in memory")
	} else {
		slog.Info("cache initialized", "path", s.cfg.Cache.Dir)
	}
}

func (s *Service) setupTranslation() {
	completers := make(map[translate.ProviderID]llm.Completer)
	urls := make(map[translate.ProviderID]string)

	for _, id := range translate.ProviderIDs {
		pc := s.cfg.Provider(id)
		var p translate.Provider
		if pc.TranslateURL != "" {
			p = translate.NewHTTPProvider(id, pc.TranslateURL, pc.Model)
		} else {
			style := translate.StyleJSON
			if id == translate.Together {
				style = translate.StylePlain
			}
			lp := translate.NewLLMProvider(translate.LLMConfig{
				ID:           id,
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.Model,
				Style:        style,
			})
			completers[id] = lp.Completer()
			p = lp
		}
		if pc.CheckURL != "" {
			urls[id] = pc.CheckURL
		}
		s.providers = append(s.providers, p)
	}

	switch {
	case len(urls) > 0:
		s.checker = &translate.HTTPChecker{URLs: urls}
	case len(completers) > 0:
		s.checker = &translate.CompleterChecker{Completers: completers}
	}

	s.translator = NewTranslator(translate.NewDispatcher(translate.DispatcherConfig{
		Providers:      s.providers,
		Router:         translate.NewRouter(translate.ProviderID(s.cfg.Session.Provider)),
		Cache:          s.cache,
		DetectLanguage: s.cfg.Session.DetectLanguage,
		Timeout:        s.cfg.Session.TranslateTimeout,
	}))
}

func (s *Service) setupTranscription() {
	tc := s.cfg.Transcription
	policy := retry.Policy{MaxAttempts: tc.MaxAttempts, BaseDelay: tc.RetryDelay}

	var vad *stt.VADConfig
	if tc.VAD {
		v := stt.DefaultVADConfig()
		vad = &v
	}

	registry := stt.NewRegistry()
	if tc.NegotiateURL != "" {
		header := http.Header{}
		if tc.APIKey != "" {
			header.Set("Authorization", "Bearer "+tc.APIKey)
		}
		registry.Register(stt.NewStreaming(stt.StreamingConfig{
			Negotiator: stt.NewHTTPNegotiator(tc.NegotiateURL, header),
			Retry:      policy,
		}))
	}
	registry.Register(stt.NewBatch(stt.BatchConfig{
		Name: config.StrategyBatch,
		Transcriber: stt.NewWhisperAPI(stt.WhisperAPIConfig{
			APIKey:  tc.WhisperAPIKey,
			BaseURL: tc.WhisperBaseURL,
			Model:   tc.WhisperModel,
		}),
		ChunkDuration: tc.ChunkDuration,
		VAD:           vad,
	}))
	registry.Register(stt.NewBatch(stt.BatchConfig{
		Name: config.StrategyLocal,
		Transcriber: stt.NewWhisperLocal(stt.WhisperLocalConfig{
			ModelPath: tc.WhisperModelPath,
			BinPath:   tc.WhisperBin,
		}),
		ChunkDuration: tc.ChunkDuration,
		VAD:           vad,
	}))
	// The on-device recognizer needs a platform binding this build does not carry.
	if slices.Contains(tc.Strategies, config.StrategyRecognizer) {
		slog.Debug("on-device recognizer unavailable", "error", stt.ErrUnsupportedPlatform)
	}

	for _, strategy := range registry.Ordered(tc.Strategies) {
		if !strategy.Available() {
			slog.Debug("transcription strategy unavailable", "strategy", strategy.Name())
			continue
		}
		slog.Info("registered transcription strategy", "strategy", strategy.Name())
		s.strategies = append(s.strategies, stt.Entry{Strategy: strategy, Policy: policy})
	}
	if len(s.strategies) == 0 {
		slog.Warn("no transcription strategy available", "error", stt.ErrNoStrategy)
	}
}

func (s *Service) setupSpeech() {
	if !s.cfg.Speech.Enabled {
		return
	}
	voices := make([]speech.Voice, 0, len(s.cfg.Speech.Voices))
	for i, code := range s.cfg.Speech.Voices {
		voices = append(voices, speech.Voice{Name: code, Lang: code, Default: i == 0})
	}
	synth := speech.NewExecSynthesizer(speech.ExecConfig{Command: s.cfg.Speech.Command, Voices: voices})
	if !synth.Available() {
		slog.Warn("speech synthesizer not found, translations will not be spoken")
		return
	}
	s.synth = synth
}

// ─────────────────────────────────────────────────────────────────────────────
// Live Translation
// ─────────────────────────────────────────────────────────────────────────────

// ToggleMic starts or stops recording.
func (s *Service) ToggleMic(ctx context.Context) error {
	return s.live.ToggleMic(ctx)
}

// Status returns the current live translation status.
func (s *Service) Status() types.LiveStatus {
	return s.live.Status()
}

// forward maps session changes onto front-end events.
func (s *Service) forward(ev livetranslate.Event) {
	switch ev.Kind {
	case livetranslate.EventTranscript:
		s.emit(EventTranscript, ev.Transcript)
	case livetranslate.EventTranslation:
		s.emit(EventTranslation, ev.Translation)
	case livetranslate.EventBanner:
		s.emit(EventBanner, ev.Banner)
	case livetranslate.EventMicState:
		s.emit(EventMicState, ev.Mic.String())
		if ev.Mic == types.MicOff {
			s.level.reset()
		}
	case livetranslate.EventTranscription:
		s.emit(EventTranscription, TranscriptionState{State: ev.STT.String(), Strategy: ev.Strategy})
	case livetranslate.EventSpeaking:
		s.emit(EventSpeaking, ev.Speaking)
	case livetranslate.EventConfig:
		s.emit(EventConfig, ev.Config)
	case livetranslate.EventCleared:
		s.emit(EventCleared, nil)
	case livetranslate.EventLifecycle:
		s.emit(EventLifecycle, ev.Lifecycle.String())
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Translation
// ─────────────────────────────────────────────────────────────────────────────

// Translate translates one text outside the live session.
func (s *Service) Translate(ctx context.Context, req translate.Request) (translate.Result, error) {
	if s.translator == nil {
		return translate.Result{}, livetranslate.ErrNotReady
	}
	if req.Model == "" {
		req.Model = s.cfg.Session.Model
	}
	return s.translator.Translate(ctx, req)
}

// ProviderCheck is the credential state of one provider.
type ProviderCheck struct {
	Provider translate.ProviderID `json:"provider"`
	Valid    bool                 `json:"valid"`
	Error    string               `json:"error,omitempty"`
	Took     time.Duration        `json:"took"`
}

// CheckProviders probes every provider's credential.
func (s *Service) CheckProviders(ctx context.Context) ([]ProviderCheck, error) {
	if s.checker == nil {
		return nil, fmt.Errorf("check providers: %w", translate.ErrNoProvider)
	}
	out := make([]ProviderCheck, 0, len(s.providers))
	for _, p := range s.providers {
		start := time.Now()
		err := s.checker.Check(ctx, p.ID())
		c := ProviderCheck{Provider: p.ID(), Valid: err == nil, Took: time.Since(start)}
		if err != nil {
			c.Error = err.Error()
		}
		out = append(out, c)
	}
	return out, nil
}
