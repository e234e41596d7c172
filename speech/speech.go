// Package speech plays translations aloud through a platform synthesizer,
// keeping at most one utterance alive.
package speech

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Voice is a synthesizer voice.
type Voice struct {
	Name    string
	Lang    string // BCP 47, e.g. "es-ES"
	Default bool
}

// Utterance is one piece of text to speak.
type Utterance struct {
	Text   string
	Lang   string
	Voice  *Voice // nil means platform default
	Rate   float64
	Pitch  float64
	Volume float64
}

// EndReason tells why an utterance stopped.
type EndReason string

const (
	EndCompleted   EndReason = "completed"
	EndInterrupted EndReason = "interrupted"
	EndCanceled    EndReason = "canceled"
	EndFailed      EndReason = "synthesis-failed"
)

// Synthesizer is the platform text-to-speech facility.
type Synthesizer interface {
	Voices() []Voice
	// Speak starts u. onEnd is called exactly once when it stops.
	Speak(u Utterance, onEnd func(EndReason, error)) error
	Cancel()
	Pause()
	Resume()
	Speaking() bool
}

// ErrUnsupported is returned when no synthesizer is available.
var ErrUnsupported = errors.New("speech synthesis not supported")

// Error is a non-fatal playback failure.
type Error struct {
	Reason EndReason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech %s: %v", e.Reason, e.Err)
	}
	return "speech " + string(e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures a Controller.
type Config struct {
	Watchdog       time.Duration // Default 1s
	KeepAlive      time.Duration // Default 5s
	KeepAliveLimit time.Duration // Default 2m

	// OnError receives playback failures other than intentional cancels.
	OnError func(error)
	// OnSpeaking reports changes of IsSpeaking.
	OnSpeaking func(bool)
}

// DefaultConfig returns the default controller timings.
func DefaultConfig() Config {
	return Config{
		Watchdog:       time.Second,
		KeepAlive:      5 * time.Second,
		KeepAliveLimit: 2 * time.Minute,
	}
}

// Controller plays one utterance at a time.
type Controller struct {
	syn Synthesizer
	cfg Config

	mu       sync.Mutex
	attempt  uint64 // id of the current synthesizer call
	pending  *Utterance
	speaking bool
	watchdog *time.Timer
	stopKeep chan struct{}
}

// NewController creates a controller. syn may be nil, in which case Speak
// returns ErrUnsupported.
func NewController(syn Synthesizer, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.Watchdog == 0 {
		cfg.Watchdog = def.Watchdog
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = def.KeepAlive
	}
	if cfg.KeepAliveLimit == 0 {
		cfg.KeepAliveLimit = def.KeepAliveLimit
	}
	return &Controller{syn: syn, cfg: cfg}
}

// Speak cancels whatever is playing and speaks text in lang.
func (c *Controller) Speak(text, lang string) error {
	if c.syn == nil {
		return ErrUnsupported
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.Cancel()

	u := Utterance{Text: text, Lang: lang, Rate: 1, Pitch: 1, Volume: 1}
	if v, ok := SelectVoice(c.syn.Voices(), lang); ok {
		u.Voice = &v
		slog.Debug("speak", "lang", lang, "voice", v.Name)
	} else {
		slog.Debug("speak with default voice", "lang", lang)
	}
	return c.start(u, false)
}

// start hands u to the synthesizer and arms the watchdog and keep-alive.
func (c *Controller) start(u Utterance, retried bool) error {
	c.mu.Lock()
	c.attempt++
	id := c.attempt
	c.pending = &u
	wasSpeaking := c.speaking
	c.speaking = true
	c.mu.Unlock()

	// Announce before handing off; the synthesizer may end the utterance
	// before Speak returns.
	if !wasSpeaking {
		c.notifySpeaking(true)
	}
	if err := c.syn.Speak(u, func(r EndReason, err error) { c.ended(id, r, err) }); err != nil {
		c.mu.Lock()
		if c.attempt == id {
			c.pending = nil
			c.speaking = false
		}
		c.mu.Unlock()
		c.notifySpeaking(false)
		return fmt.Errorf("speak: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attempt != id || c.pending == nil {
		return nil
	}
	if !retried {
		c.watchdog = time.AfterFunc(c.cfg.Watchdog, func() { c.checkStarted(id) })
	}
	if c.stopKeep == nil {
		c.stopKeep = make(chan struct{})
		go c.keepAlive(c.stopKeep)
	}
	return nil
}

// checkStarted retries once when the platform accepted an utterance but
// never started speaking it.
func (c *Controller) checkStarted(id uint64) {
	c.mu.Lock()
	if c.attempt != id || c.pending == nil || c.syn.Speaking() {
		c.mu.Unlock()
		return
	}
	u := *c.pending
	c.attempt++ // the canceled attempt's end is not ours anymore
	c.mu.Unlock()

	slog.Warn("speech did not start, retrying", "lang", u.Lang)
	c.syn.Cancel()
	if err := c.start(u, true); err != nil {
		c.report(err)
	}
}

// keepAlive pulses pause/resume while speaking, up to the ceiling.
func (c *Controller) keepAlive(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepAlive)
	defer ticker.Stop()
	limit := time.NewTimer(c.cfg.KeepAliveLimit)
	defer limit.Stop()

	for {
		select {
		case <-stop:
			return
		case <-limit.C:
			slog.Debug("speech keep-alive limit reached")
			return
		case <-ticker.C:
			if !c.syn.Speaking() {
				continue
			}
			c.syn.Pause()
			c.syn.Resume()
		}
	}
}

func (c *Controller) ended(id uint64, reason EndReason, err error) {
	c.mu.Lock()
	if c.attempt != id {
		c.mu.Unlock()
		return
	}
	c.clearLocked()
	c.mu.Unlock()
	c.notifySpeaking(false)

	switch reason {
	case EndCompleted, EndInterrupted, EndCanceled:
		return
	}
	c.report(&Error{Reason: reason, Err: err})
}

// Cancel stops playback. It is safe to call at any time.
func (c *Controller) Cancel() {
	c.mu.Lock()
	wasSpeaking := c.speaking
	c.attempt++
	c.clearLocked()
	c.mu.Unlock()

	if c.syn != nil {
		c.syn.Cancel()
	}
	if wasSpeaking {
		c.notifySpeaking(false)
	}
}

// IsSpeaking reports whether an utterance is pending or playing.
func (c *Controller) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

func (c *Controller) clearLocked() {
	c.pending = nil
	c.speaking = false
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
}

func (c *Controller) report(err error) {
	slog.Warn("speech playback", "error", err)
	if c.cfg.OnError != nil {
		c.cfg.OnError(err)
	}
}

func (c *Controller) notifySpeaking(on bool) {
	if c.cfg.OnSpeaking != nil {
		c.cfg.OnSpeaking(on)
	}
}

// SelectVoice picks a voice whose locale starts with lang, preferring the
// platform default among matches, then any voice at all.
func SelectVoice(voices []Voice, lang string) (Voice, bool) {
	lang = strings.ToLower(strings.ReplaceAll(lang, "_", "-"))
	var match *Voice
	for i := range voices {
		v := &voices[i]
		vl := strings.ToLower(strings.ReplaceAll(v.Lang, "_", "-"))
		if lang != "" && strings.HasPrefix(vl, lang) {
			if v.Default {
				return *v, true
			}
			if match == nil {
				match = v
			}
		}
	}
	if match != nil {
		return *match, true
	}
	if len(voices) > 0 {
		return voices[0], true
	}
	return Voice{}, false
}
