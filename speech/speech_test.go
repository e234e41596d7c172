package speech

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSynth behaves like a browser synthesizer: cancel ends the active
// utterance as "interrupted", asynchronously.
type fakeSynth struct {
	voices []Voice
	silent int // the first silent Speak calls never start speaking

	mu      sync.Mutex
	spoken  []Utterance
	active  *fakeUtterance
	pauses  int
	resumes int
}

type fakeUtterance struct {
	u       Utterance
	onEnd   func(EndReason, error)
	started bool
}

func (f *fakeSynth) Voices() []Voice { return f.voices }

func (f *fakeSynth) Speak(u Utterance, onEnd func(EndReason, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, u)
	started := len(f.spoken) > f.silent
	f.active = &fakeUtterance{u: u, onEnd: onEnd, started: started}
	return nil
}

func (f *fakeSynth) Cancel() {
	f.mu.Lock()
	a := f.active
	f.active = nil
	f.mu.Unlock()
	if a != nil {
		go a.onEnd(EndInterrupted, nil)
	}
}

func (f *fakeSynth) Pause() {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
}

func (f *fakeSynth) Resume() {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
}

func (f *fakeSynth) Speaking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active != nil && f.active.started
}

// finish ends the active utterance with reason.
func (f *fakeSynth) finish(reason EndReason, err error) {
	f.mu.Lock()
	a := f.active
	f.active = nil
	f.mu.Unlock()
	if a != nil {
		a.onEnd(reason, err)
	}
}

func (f *fakeSynth) Spoken() []Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Utterance(nil), f.spoken...)
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) add(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errorSink) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestController_TwoQuickSpeaks(t *testing.T) {
	syn := &fakeSynth{}
	sink := &errorSink{}
	c := NewController(syn, Config{OnError: sink.add})

	if err := c.Speak("hola", "es"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if err := c.Speak("adiós", "es"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	time.Sleep(20 * time.Millisecond) // let the interrupted callback land

	syn.mu.Lock()
	active := syn.active
	syn.mu.Unlock()
	if active == nil || active.u.Text != "adiós" {
		t.Fatalf("active utterance = %+v, want adiós", active)
	}
	if !c.IsSpeaking() {
		t.Error("IsSpeaking() = false while second utterance plays")
	}
	if errs := sink.Errors(); len(errs) != 0 {
		t.Errorf("errors surfaced: %v", errs)
	}

	syn.finish(EndCompleted, nil)
	if c.IsSpeaking() {
		t.Error("IsSpeaking() = true after completion")
	}
}

func TestController_EndReasons(t *testing.T) {
	tests := []struct {
		reason    EndReason
		wantError bool
	}{
		{EndCompleted, false},
		{EndInterrupted, false},
		{EndCanceled, false},
		{EndFailed, true},
		{EndReason("audio-busy"), true},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			syn := &fakeSynth{}
			sink := &errorSink{}
			c := NewController(syn, Config{OnError: sink.add})

			c.Speak("hola", "es")
			syn.finish(tt.reason, nil)

			errs := sink.Errors()
			if got := len(errs) > 0; got != tt.wantError {
				t.Fatalf("errors = %v, want error: %v", errs, tt.wantError)
			}
			if tt.wantError {
				var se *Error
				if !errors.As(errs[0], &se) || se.Reason != tt.reason {
					t.Errorf("error = %v", errs[0])
				}
			}
		})
	}
}

func TestController_CancelIsIdempotent(t *testing.T) {
	syn := &fakeSynth{}
	sink := &errorSink{}
	c := NewController(syn, Config{OnError: sink.add})

	c.Cancel()
	c.Speak("hola", "es")
	c.Cancel()
	c.Cancel()
	time.Sleep(10 * time.Millisecond)

	if c.IsSpeaking() {
		t.Error("IsSpeaking() after Cancel")
	}
	if errs := sink.Errors(); len(errs) != 0 {
		t.Errorf("errors surfaced: %v", errs)
	}
}

func TestController_WatchdogRetriesOnce(t *testing.T) {
	tests := []struct {
		name      string
		silent    int
		wantCalls int
	}{
		{"starts normally", 0, 1},
		{"silent once", 1, 2},
		{"always silent", 100, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syn := &fakeSynth{silent: tt.silent}
			sink := &errorSink{}
			c := NewController(syn, Config{Watchdog: 10 * time.Millisecond, OnError: sink.add})

			c.Speak("hola", "es")
			time.Sleep(60 * time.Millisecond)

			spoken := syn.Spoken()
			if len(spoken) != tt.wantCalls {
				t.Fatalf("synth Speak calls = %d, want %d", len(spoken), tt.wantCalls)
			}
			for _, u := range spoken {
				if u.Text != "hola" {
					t.Errorf("retried text = %q", u.Text)
				}
			}
			if errs := sink.Errors(); len(errs) != 0 {
				t.Errorf("errors surfaced: %v", errs)
			}
		})
	}
}

func TestController_KeepAlive(t *testing.T) {
	syn := &fakeSynth{}
	c := NewController(syn, Config{KeepAlive: 5 * time.Millisecond, KeepAliveLimit: time.Second})

	c.Speak("una frase larga", "es")
	time.Sleep(30 * time.Millisecond)
	syn.finish(EndCompleted, nil)
	time.Sleep(10 * time.Millisecond)

	syn.mu.Lock()
	pauses, resumes := syn.pauses, syn.resumes
	syn.mu.Unlock()
	if pauses == 0 || pauses != resumes {
		t.Errorf("pauses = %d, resumes = %d", pauses, resumes)
	}

	time.Sleep(20 * time.Millisecond)
	syn.mu.Lock()
	after := syn.pauses
	syn.mu.Unlock()
	if after != pauses {
		t.Errorf("keep-alive kept pulsing after the end: %d -> %d", pauses, after)
	}
}

// instantSynth finishes every utterance before Speak returns.
type instantSynth struct{ fakeSynth }

func (s *instantSynth) Speak(u Utterance, onEnd func(EndReason, error)) error {
	onEnd(EndCompleted, nil)
	return nil
}

func TestController_EndBeforeSpeakReturns(t *testing.T) {
	var (
		mu     sync.Mutex
		events []bool
	)
	c := NewController(&instantSynth{}, Config{OnSpeaking: func(on bool) {
		mu.Lock()
		events = append(events, on)
		mu.Unlock()
	}})

	if err := c.Speak("hola", "es"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if c.IsSpeaking() {
		t.Error("IsSpeaking() = true after synchronous completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || !events[0] || events[1] {
		t.Errorf("OnSpeaking events = %v, want [true false]", events)
	}
}

func TestController_Unsupported(t *testing.T) {
	c := NewController(nil, Config{})
	if err := c.Speak("hola", "es"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Speak() error = %v, want ErrUnsupported", err)
	}
	c.Cancel()
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{Name: "Alex", Lang: "en-US"},
		{Name: "Monica", Lang: "es-ES"},
		{Name: "Paulina", Lang: "es-MX", Default: true},
		{Name: "Thomas", Lang: "fr_FR"},
	}
	tests := []struct {
		lang string
		want string
		ok   bool
	}{
		{"es", "Paulina", true},
		{"es-ES", "Monica", true},
		{"fr-FR", "Thomas", true},
		{"ja", "Alex", true},
	}
	for _, tt := range tests {
		v, ok := SelectVoice(voices, tt.lang)
		if ok != tt.ok || v.Name != tt.want {
			t.Errorf("SelectVoice(%q) = %s, %v; want %s", tt.lang, v.Name, ok, tt.want)
		}
	}
	if _, ok := SelectVoice(nil, "es"); ok {
		t.Error("SelectVoice with no voices should report false")
	}
}

func TestExecSynthesizer(t *testing.T) {
	s := NewExecSynthesizer(ExecConfig{Command: []string{"sh", "-c", "exit 0", "{text}"}})
	if !s.Available() {
		t.Skip("sh not available")
	}

	ended := make(chan EndReason, 1)
	if err := s.Speak(Utterance{Text: "hola", Lang: "es"}, func(r EndReason, _ error) { ended <- r }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case r := <-ended:
		if r != EndCompleted {
			t.Errorf("reason = %s, want completed", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command did not finish")
	}

	s = NewExecSynthesizer(ExecConfig{Command: []string{"sleep", "10"}})
	if err := s.Speak(Utterance{Text: "x"}, func(r EndReason, _ error) { ended <- r }); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !s.Speaking() {
		t.Error("Speaking() = false while command runs")
	}
	s.Cancel()
	select {
	case r := <-ended:
		if r != EndInterrupted {
			t.Errorf("reason after Cancel = %s, want interrupted", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Cancel did not stop the command")
	}
}
