// Package livetranslate runs an interpreter session: microphone capture feeds
// transcription, finalized speech is translated one segment at a time, and
// translations are read aloud.
package livetranslate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.aimuz.me/voxbridge/cache"
	"go.aimuz.me/voxbridge/internal/types"
	"go.aimuz.me/voxbridge/lang"
	"go.aimuz.me/voxbridge/speech"
	"go.aimuz.me/voxbridge/stt"
	"go.aimuz.me/voxbridge/translate"
)

// ErrNotReady is returned by operations that need an initialized session.
var ErrNotReady = errors.New("session not ready")

// Config holds the collaborators and settings of a Session.
type Config struct {
	Mic         MicSource
	Strategies  []stt.Entry
	IdleTimeout time.Duration // Default 120s

	// Providers in priority order.
	Providers        []translate.Provider
	Router           *translate.Router  // Defaults to routing on the first provider
	Cache            *cache.Cache       // Optional
	Checker          translate.Checker  // Optional; without it the first provider is used
	DetectLanguage   bool
	TranslateTimeout time.Duration // Per provider call, default 30s

	Synthesizer speech.Synthesizer // Optional
	Speech      speech.Config

	Defaults    types.SessionConfig
	SettleDelay time.Duration // Pause before recording resumes after a change, default 100ms
	BannerTTL   time.Duration // Info banner lifetime, default 3s

	// OnChange receives every change, in order, from a dedicated goroutine.
	OnChange func(Event)
}

// Session is the state machine of one interpreter session.
type Session struct {
	cfg        Config
	router     *translate.Router
	manager    *stt.Manager
	dispatcher *translate.Dispatcher
	speaker    *speech.Controller

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	events       chan Event
	closed       bool
	lifecycle    types.LifecycleState
	conf         types.SessionConfig
	mic          types.MicState
	micGen       uint64
	startCancel  context.CancelFunc
	active       Mic
	started      time.Time
	resume       bool // restart recording once the mic is off
	restart      *time.Timer
	sttState     stt.State
	strategy     string
	speaking     bool
	transcript   Transcript
	translations []types.TranslationSegment
	pending      map[string]struct{} // queued items of the current configuration
	errBanner    *types.Banner
	infoBanner   *types.Banner
	infoTimer    *time.Timer
}

// New creates a session in the Uninitialized state.
func New(cfg Config) *Session {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 100 * time.Millisecond
	}
	if cfg.BannerTTL == 0 {
		cfg.BannerTTL = 3 * time.Second
	}

	conf := cfg.Defaults
	if conf.InputLanguage == "" {
		conf.InputLanguage = lang.DefaultInputLocale
	}
	if conf.OutputLanguage == "" {
		conf.OutputLanguage = lang.DefaultOutputLanguage
	}
	if conf.Provider == "" && len(cfg.Providers) > 0 {
		conf.Provider = string(cfg.Providers[0].ID())
	}
	if conf.Model == "" {
		conf.Model = translate.DefaultModel(translate.ProviderID(conf.Provider))
	}

	router := cfg.Router
	if router == nil {
		router = translate.NewRouter(translate.ProviderID(conf.Provider))
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:     cfg,
		router:  router,
		ctx:     ctx,
		cancel:  cancel,
		conf:    conf,
		pending: make(map[string]struct{}),
	}

	speechCfg := cfg.Speech
	onError := speechCfg.OnError
	speechCfg.OnError = func(err error) {
		slog.Warn("speech playback", "error", err)
		if onError != nil {
			onError(err)
		}
	}
	speechCfg.OnSpeaking = s.onSpeaking
	s.speaker = speech.NewController(cfg.Synthesizer, speechCfg)

	s.dispatcher = translate.NewDispatcher(translate.DispatcherConfig{
		Providers:      cfg.Providers,
		Router:         router,
		Cache:          cfg.Cache,
		DetectLanguage: cfg.DetectLanguage,
		Timeout:        cfg.TranslateTimeout,
		OnResult:       s.onTranslation,
	})

	s.manager = stt.NewManager(stt.ManagerConfig{
		Strategies:  cfg.Strategies,
		IdleTimeout: cfg.IdleTimeout,
		OnSegment:   s.onSegment,
		OnState:     s.onTranscriptionState,
		OnFatal:     s.onFatal,
		OnIdle:      s.onIdle,
	})

	if cfg.OnChange != nil {
		s.events = make(chan Event, 256)
		events := s.events
		s.wg.Go(func() {
			for ev := range events {
				cfg.OnChange(ev)
			}
		})
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

// Initialize picks the first usable translation provider and makes the
// session Ready. When no provider is usable the session is still Ready, an
// error banner stays up and the error is returned.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.lifecycle != types.Uninitialized {
		s.mu.Unlock()
		return nil
	}
	s.setLifecycleLocked(types.Initializing)
	s.mu.Unlock()

	ids := make([]translate.ProviderID, 0, len(s.cfg.Providers))
	for _, p := range s.cfg.Providers {
		ids = append(ids, p.ID())
	}

	var id translate.ProviderID
	var err error
	switch {
	case len(ids) == 0:
		err = translate.ErrNoProvider
	case s.cfg.Checker == nil:
		id = ids[0]
	default:
		id, err = translate.FirstUsable(ctx, s.cfg.Checker, ids)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		slog.Error("initialize session", "error", err)
		s.setBannerLocked(types.BannerError, msgNoProvider)
	} else {
		if translate.ProviderID(s.conf.Provider) != id || s.router.Route(s.conf.Model) != id {
			s.conf.Provider = string(id)
			s.conf.Model = translate.DefaultModel(id)
			s.emitLocked(Event{Kind: EventConfig, Config: s.conf})
		}
		slog.Info("session ready", "provider", id, "model", s.conf.Model)
	}
	s.setLifecycleLocked(types.Ready)
	return err
}

// Close stops recording, speech and translation. The session cannot be used
// afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.resume = false
	s.stopTimersLocked()
	s.mu.Unlock()

	s.stopMic()
	s.speaker.Cancel()
	s.dispatcher.Close()
	s.cancel()

	s.mu.Lock()
	if s.events != nil {
		close(s.events)
		s.events = nil
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ─────────────────────────────────────────────────────────────────────────────
// Microphone
// ─────────────────────────────────────────────────────────────────────────────

// ToggleMic starts recording when the mic is off and stops it when on. A
// toggle while the mic is starting or stopping is ignored.
func (s *Session) ToggleMic(ctx context.Context) error {
	s.mu.Lock()
	on := s.mic == types.MicOn
	s.mu.Unlock()
	if on {
		s.stopMic()
		return nil
	}
	return s.startMic(ctx)
}

// startMic moves MicOff -> MicStarting -> MicOn, or back to MicOff with an
// error banner.
func (s *Session) startMic(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.lifecycle != types.Ready {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.mic != types.MicOff {
		s.mu.Unlock()
		return nil
	}
	if s.cfg.Mic == nil {
		s.setBannerLocked(types.BannerError, errorMessage(stt.ErrUnsupportedPlatform))
		s.mu.Unlock()
		return stt.ErrUnsupportedPlatform
	}
	s.micGen++
	gen := s.micGen
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.startCancel = cancel
	s.clearErrorLocked()
	s.setMicLocked(types.MicStarting)
	language := s.conf.InputLanguage
	s.mu.Unlock()

	mic, err := s.cfg.Mic.Acquire(ctx)
	if err != nil {
		err = fmt.Errorf("acquire microphone: %w", err)
		s.startFailed(gen, err)
		return err
	}
	if err := s.manager.Start(ctx, language, mic); err != nil {
		if rerr := mic.Release(); rerr != nil {
			slog.Warn("release microphone", "error", rerr)
		}
		err = fmt.Errorf("start transcription: %w", err)
		s.startFailed(gen, err)
		return err
	}

	s.mu.Lock()
	if gen != s.micGen {
		// Stopped while starting.
		s.mu.Unlock()
		s.manager.Stop()
		if err := mic.Release(); err != nil {
			slog.Warn("release microphone", "error", err)
		}
		s.mu.Lock()
		if s.mic == types.MicStopping {
			s.finishStopLocked()
		}
		s.mu.Unlock()
		return nil
	}
	s.startCancel = nil
	s.active = mic
	s.started = time.Now()
	s.setMicLocked(types.MicOn)
	s.mu.Unlock()

	slog.Info("recording started", "lang", language)
	return nil
}

func (s *Session) startFailed(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.micGen {
		if s.mic == types.MicStopping {
			s.finishStopLocked()
		}
		return
	}
	slog.Error("start recording", "error", err)
	s.startCancel = nil
	s.setMicLocked(types.MicOff)
	s.setBannerLocked(types.BannerError, errorMessage(err))
}

// stopMic stops recording from any state. Stopping while the mic is still
// starting hands the cleanup to the starter.
func (s *Session) stopMic() {
	s.mu.Lock()
	switch s.mic {
	case types.MicStarting:
		s.micGen++
		cancel := s.startCancel
		s.startCancel = nil
		s.setMicLocked(types.MicStopping)
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.manager.Stop()
		return
	case types.MicOn:
	default:
		s.mu.Unlock()
		return
	}
	s.micGen++
	gen := s.micGen
	mic := s.active
	s.active = nil
	s.setMicLocked(types.MicStopping)
	s.mu.Unlock()

	s.manager.Stop()
	if mic != nil {
		if err := mic.Release(); err != nil {
			slog.Warn("release microphone", "error", err)
		}
	}

	s.mu.Lock()
	if s.micGen == gen && s.mic == types.MicStopping {
		s.finishStopLocked()
	}
	s.mu.Unlock()
	slog.Info("recording stopped")
}

func (s *Session) finishStopLocked() {
	s.transcript.DropInterim()
	s.started = time.Time{}
	s.setMicLocked(types.MicOff)
	if s.resume && !s.closed {
		s.resume = false
		s.restart = time.AfterFunc(s.cfg.SettleDelay, s.resumeRecording)
	}
}

func (s *Session) resumeRecording() {
	if err := s.startMic(s.ctx); err != nil && !errors.Is(err, ErrNotReady) {
		slog.Error("resume recording", "error", err)
	}
}

// Level returns the current microphone level in [0, 1].
func (s *Session) Level() float64 {
	s.mu.Lock()
	mic := s.active
	s.mu.Unlock()
	if mic == nil {
		return 0
	}
	return mic.Level()
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// SetInputLanguage changes the spoken language.
func (s *Session) SetInputLanguage(code string) error {
	if !lang.IsInputLocale(code) {
		return fmt.Errorf("unsupported input language %q", code)
	}
	s.reconfigure(func(c *types.SessionConfig) { c.InputLanguage = code })
	return nil
}

// SetOutputLanguage changes the translation language.
func (s *Session) SetOutputLanguage(code string) error {
	if !lang.IsOutputLanguage(code) {
		return fmt.Errorf("unsupported output language %q", code)
	}
	s.reconfigure(func(c *types.SessionConfig) { c.OutputLanguage = code })
	return nil
}

// SetModel changes the translation model.
func (s *Session) SetModel(model string) error {
	if model == "" {
		return errors.New("empty model")
	}
	s.reconfigure(func(c *types.SessionConfig) { c.Model = model })
	return nil
}

// SetProvider selects the preferred provider. A model the provider does not
// serve is replaced by the provider's default model, which resets the
// session like any model change.
func (s *Session) SetProvider(name string) error {
	id, err := translate.ParseProviderID(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	model := s.conf.Model
	s.mu.Unlock()

	if s.router.Route(model) != id {
		s.reconfigure(func(c *types.SessionConfig) {
			c.Provider = string(id)
			c.Model = translate.DefaultModel(id)
		})
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conf.Provider != string(id) {
		s.conf.Provider = string(id)
		s.emitLocked(Event{Kind: EventConfig, Config: s.conf})
	}
	return nil
}

// SetAutoSpeak turns automatic reading of translations on or off.
func (s *Session) SetAutoSpeak(on bool) {
	s.mu.Lock()
	changed := s.conf.AutoSpeak != on
	s.conf.AutoSpeak = on
	if changed {
		s.emitLocked(Event{Kind: EventConfig, Config: s.conf})
	}
	s.mu.Unlock()
	if !on {
		s.speaker.Cancel()
	}
}

// SwitchLanguages swaps input and output: the old input's base language is
// the new output, and the best locale for the old output is the new input.
func (s *Session) SwitchLanguages() {
	s.reconfigure(func(c *types.SessionConfig) {
		in, out := c.InputLanguage, c.OutputLanguage
		c.OutputLanguage = lang.Base(in)
		c.InputLanguage = lang.BestInputLocale(lang.Base(out))
	})
}

// Reset clears all state and stops recording.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resume = false
	s.stopTimersLocked()
	s.clearLocked()
	s.clearErrorLocked()
	s.mu.Unlock()

	s.speaker.Cancel()
	s.stopMic()
}

// reconfigure applies change. Any effective change cancels speech, clears
// transcript, translations, queue and cache, and restarts recording after
// the settle delay if the mic was on.
func (s *Session) reconfigure(change func(c *types.SessionConfig)) {
	s.mu.Lock()
	before := s.conf
	change(&s.conf)
	if s.conf == before {
		s.mu.Unlock()
		return
	}
	slog.Info("session configuration changed",
		"input", s.conf.InputLanguage, "output", s.conf.OutputLanguage,
		"provider", s.conf.Provider, "model", s.conf.Model)
	s.emitLocked(Event{Kind: EventConfig, Config: s.conf})
	s.clearLocked()
	s.setBannerLocked(types.BannerInfo, msgConfigChanged)
	recording := s.mic == types.MicOn || s.mic == types.MicStarting
	if recording {
		s.resume = true
	}
	s.mu.Unlock()

	s.speaker.Cancel()
	if recording {
		s.stopMic()
	}
}

// clearLocked drops transcript, translations, queued work and cached
// translations.
func (s *Session) clearLocked() {
	s.transcript.Reset()
	s.translations = nil
	clear(s.pending)
	s.dispatcher.Clear()
	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.Clear(); err != nil {
			slog.Warn("clear translation cache", "error", err)
		}
	}
	s.emitLocked(Event{Kind: EventCleared})
}

// ─────────────────────────────────────────────────────────────────────────────
// Callbacks
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) onSegment(seg types.TranscriptSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mic != types.MicOn && s.mic != types.MicStarting {
		return
	}
	stored, ok := s.transcript.Apply(seg)
	if !ok {
		return
	}
	s.emitLocked(Event{Kind: EventTranscript, Transcript: stored})

	if stored.IsFinal {
		id := s.dispatcher.EnqueueItem(translate.Item{
			SourceID:       stored.ID,
			Text:           stored.Text,
			InputLanguage:  s.conf.InputLanguage,
			OutputLanguage: s.conf.OutputLanguage,
			Model:          s.conf.Model,
		})
		s.pending[id] = struct{}{}
	}
}

func (s *Session) onTranslation(it translate.Item, res translate.Result) {
	s.mu.Lock()
	if _, ok := s.pending[it.ID]; !ok || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.pending, it.ID)

	seg := types.TranslationSegment{
		ID:       it.ID,
		SourceID: it.SourceID,
		Text:     res.Translation,
		Speaker:  res.Speaker,
		Degraded: res.Degraded,
	}
	s.translations = append(s.translations, seg)
	s.emitLocked(Event{Kind: EventTranslation, Translation: seg})
	speak := s.conf.AutoSpeak && !res.Degraded
	out := s.conf.OutputLanguage
	s.mu.Unlock()

	if speak {
		if err := s.speaker.Speak(seg.Text, out); err != nil && !errors.Is(err, speech.ErrUnsupported) {
			slog.Warn("speak translation", "error", err)
		}
	}
}

func (s *Session) onTranscriptionState(state stt.State, strategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sttState, s.strategy = state, strategy
	s.emitLocked(Event{Kind: EventTranscription, STT: state, Strategy: strategy})
}

func (s *Session) onFatal(err error) {
	s.mu.Lock()
	if s.mic != types.MicOn && s.mic != types.MicStarting {
		s.mu.Unlock()
		return
	}
	if errors.Is(err, stt.ErrAudioEnded) {
		s.setBannerLocked(types.BannerInfo, msgAudioEnded)
	} else {
		s.setBannerLocked(types.BannerError, errorMessage(err))
	}
	s.mu.Unlock()
	go s.stopMic()
}

func (s *Session) onIdle() {
	s.mu.Lock()
	if s.mic != types.MicOn {
		s.mu.Unlock()
		return
	}
	s.setBannerLocked(types.BannerInfo, msgIdle)
	s.mu.Unlock()
	go s.stopMic()
}

func (s *Session) onSpeaking(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = on
	s.emitLocked(Event{Kind: EventSpeaking, Speaking: on})
}

// ─────────────────────────────────────────────────────────────────────────────
// State
// ─────────────────────────────────────────────────────────────────────────────

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Lifecycle:    s.lifecycle,
		Mic:          s.mic,
		STT:          s.sttState,
		Strategy:     s.strategy,
		Config:       s.conf,
		Transcript:   s.transcript.Segments(),
		Translations: append([]types.TranslationSegment(nil), s.translations...),
		Speaking:     s.speaking,
		Pending:      len(s.pending),
	}
	if s.errBanner != nil {
		snap.Error = s.errBanner.Message
	}
	if s.infoBanner != nil {
		snap.Info = s.infoBanner.Message
	}
	return snap
}

// Config returns the current session configuration.
func (s *Session) Config() types.SessionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conf
}

// Status returns a summary of the live session.
func (s *Session) Status() types.LiveStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := types.LiveStatus{
		Active:           s.mic == types.MicOn,
		MicState:         s.mic.String(),
		SourceLang:       s.conf.InputLanguage,
		TargetLang:       s.conf.OutputLanguage,
		STTStrategy:      s.strategy,
		TranscriptCount:  s.transcript.Finals(),
		TranslationCount: len(s.translations),
		QueueLength:      len(s.pending),
	}
	if !s.started.IsZero() {
		st.Duration = int64(time.Since(s.started).Seconds())
	}
	return st
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers (callers hold s.mu)
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) emitLocked(ev Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("session event dropped", "kind", ev.Kind)
	}
}

func (s *Session) setLifecycleLocked(st types.LifecycleState) {
	s.lifecycle = st
	s.emitLocked(Event{Kind: EventLifecycle, Lifecycle: st})
}

func (s *Session) setMicLocked(st types.MicState) {
	if s.mic == st {
		return
	}
	s.mic = st
	s.emitLocked(Event{Kind: EventMicState, Mic: st})
}

// setBannerLocked shows a banner. Info banners dismiss themselves after
// BannerTTL; error banners stay until the next attempt.
func (s *Session) setBannerLocked(kind types.BannerKind, msg string) {
	b := &types.Banner{Kind: kind, Message: msg}
	if kind == types.BannerError {
		s.errBanner = b
		s.emitLocked(Event{Kind: EventBanner, Banner: *b})
		return
	}

	if s.infoTimer != nil {
		s.infoTimer.Stop()
	}
	s.infoBanner = b
	s.emitLocked(Event{Kind: EventBanner, Banner: *b})
	s.infoTimer = time.AfterFunc(s.cfg.BannerTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.infoBanner == b {
			s.infoBanner = nil
			s.emitLocked(Event{Kind: EventBanner, Banner: types.Banner{Kind: types.BannerInfo}})
		}
	})
}

func (s *Session) clearErrorLocked() {
	if s.errBanner == nil {
		return
	}
	s.errBanner = nil
	s.emitLocked(Event{Kind: EventBanner, Banner: types.Banner{Kind: types.BannerError}})
}

func (s *Session) stopTimersLocked() {
	if s.restart != nil {
		s.restart.Stop()
		s.restart = nil
	}
	if s.infoTimer != nil {
		s.infoTimer.Stop()
		s.infoTimer = nil
	}
	s.infoBanner = nil
}
