package stt

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.aimuz.me/voxbridge/internal/retry"
	"go.aimuz.me/voxbridge/internal/types"
)

// fakeHandle is a Handle the test ends by hand.
type fakeHandle struct {
	done    chan struct{}
	once    sync.Once
	err     error
	stopped atomic.Bool
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) end(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *fakeHandle) Stop() {
	h.stopped.Store(true)
	h.end(nil)
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	if h.stopped.Load() {
		return nil
	}
	return h.err
}

// fakeStrategy records starts and runs onStart for each handle.
type fakeStrategy struct {
	name        string
	unavailable bool
	startErr    error
	onStart     func(h *fakeHandle, onSegment SegmentFunc)

	mu      sync.Mutex
	starts  int
	handles []*fakeHandle
}

func (s *fakeStrategy) Name() string    { return s.name }
func (s *fakeStrategy) Available() bool { return !s.unavailable }

func (s *fakeStrategy) Start(_ context.Context, _ string, _ Audio, onSegment SegmentFunc) (Handle, error) {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()

	if s.startErr != nil {
		return nil, s.startErr
	}
	h := newFakeHandle()
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	if s.onStart != nil {
		go s.onStart(h, onSegment)
	}
	return h, nil
}

func (s *fakeStrategy) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// noWait restarts immediately, three times.
var noWait = retry.Policy{MaxAttempts: 4}

func TestManager_StartUsesFirstAvailable(t *testing.T) {
	first := &fakeStrategy{name: "first", unavailable: true}
	second := &fakeStrategy{name: "second"}

	m := NewManager(ManagerConfig{
		Strategies: []Entry{{Strategy: first, Policy: noWait}, {Strategy: second, Policy: noWait}},
	})
	defer m.Stop()

	if err := m.Start(context.Background(), "en-US", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	state, name := m.State()
	if state != Connected || name != "second" {
		t.Errorf("state = %v/%q, want connected/second", state, name)
	}
	if first.startCount() != 0 {
		t.Error("unavailable strategy was started")
	}
}

func TestManager_StartErrors(t *testing.T) {
	tests := []struct {
		name       string
		strategies []*fakeStrategy
		wantErr    error
		wantStarts []int
	}{
		{
			name:       "nothing available",
			strategies: []*fakeStrategy{{name: "a", unavailable: true}},
			wantErr:    ErrUnsupportedPlatform,
			wantStarts: []int{0},
		},
		{
			name: "auth failure falls back without retry",
			strategies: []*fakeStrategy{
				{name: "a", startErr: &TransportError{Status: 401, Err: errors.New("bad key")}},
				{name: "b", startErr: &TransportError{Status: 403, Err: errors.New("forbidden")}},
			},
			wantErr:    ErrNoStrategy,
			wantStarts: []int{1, 1},
		},
		{
			name: "server errors retried then fall back",
			strategies: []*fakeStrategy{
				{name: "a", startErr: &TransportError{Status: 503, Err: errors.New("busy")}},
				{name: "b", startErr: &TransportError{Status: 500, Err: errors.New("boom")}},
			},
			wantErr:    ErrNoStrategy,
			wantStarts: []int{3, 3},
		},
		{
			name: "permission denied is fatal",
			strategies: []*fakeStrategy{
				{name: "a", startErr: ErrPermissionDenied},
				{name: "b"},
			},
			wantErr:    ErrPermissionDenied,
			wantStarts: []int{1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []Entry
			for _, s := range tt.strategies {
				entries = append(entries, Entry{Strategy: s, Policy: noWait})
			}
			m := NewManager(ManagerConfig{Strategies: entries})

			err := m.Start(context.Background(), "en-US", nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Start() error = %v, want %v", err, tt.wantErr)
			}
			for i, s := range tt.strategies {
				if got := s.startCount(); got != tt.wantStarts[i] {
					t.Errorf("%s started %d times, want %d", s.name, got, tt.wantStarts[i])
				}
			}
			if state, _ := m.State(); state != Error {
				t.Errorf("state = %v, want error", state)
			}
		})
	}
}

func TestManager_RestartCap(t *testing.T) {
	// Every run ends on its own right away, as a platform recognizer might.
	s := &fakeStrategy{
		name:    "on-device",
		onStart: func(h *fakeHandle, _ SegmentFunc) { h.end(ErrUnexpectedEnd) },
	}

	fatal := make(chan error, 1)
	m := NewManager(ManagerConfig{
		Strategies: []Entry{{Strategy: s, Policy: noWait}},
		OnFatal:    func(err error) { fatal <- err },
	})
	defer m.Stop()

	if err := m.Start(context.Background(), "en-US", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-fatal:
		if !errors.Is(err, ErrNoStrategy) || !errors.Is(err, ErrUnexpectedEnd) {
			t.Errorf("fatal error = %v, want ErrNoStrategy wrapping ErrUnexpectedEnd", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager never gave up")
	}

	// Give a stray fourth restart a chance to show up.
	time.Sleep(20 * time.Millisecond)
	if got := s.startCount(); got != 4 {
		t.Errorf("starts = %d, want 4 (first start plus three restarts)", got)
	}
	if state, _ := m.State(); state != Error {
		t.Errorf("state = %v, want error", state)
	}
}

func TestManager_SegmentResetsFailures(t *testing.T) {
	var runs atomic.Int32
	s := &fakeStrategy{
		name: "flaky",
		onStart: func(h *fakeHandle, onSegment SegmentFunc) {
			n := runs.Add(1)
			if n > 5 {
				return // stay up
			}
			// Each run hears something before dying, so the count never builds up.
			onSegment(types.TranscriptSegment{Text: "hi", IsFinal: true})
			h.end(ErrUnexpectedEnd)
		},
	}

	fatal := make(chan error, 1)
	m := NewManager(ManagerConfig{
		Strategies: []Entry{{Strategy: s, Policy: noWait}},
		OnFatal:    func(err error) { fatal <- err },
	})
	defer m.Stop()

	if err := m.Start(context.Background(), "en-US", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for s.startCount() < 6 {
		select {
		case err := <-fatal:
			t.Fatalf("unexpected fatal error: %v", err)
		case <-deadline:
			t.Fatalf("starts = %d, want 6", s.startCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManager_FallbackAfterTermination(t *testing.T) {
	primary := &fakeStrategy{
		name: "streaming",
		onStart: func(h *fakeHandle, _ SegmentFunc) {
			h.end(&TransportError{Status: 401, Err: errors.New("expired")})
		},
	}
	secondary := &fakeStrategy{name: "batch"}

	states := make(chan string, 16)
	m := NewManager(ManagerConfig{
		Strategies: []Entry{{Strategy: primary, Policy: noWait}, {Strategy: secondary, Policy: noWait}},
		OnState: func(s State, name string) {
			if s == Connected {
				states <- name
			}
		},
	})
	defer m.Stop()

	if err := m.Start(context.Background(), "en-US", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"streaming", "batch"}
	for _, w := range want {
		select {
		case got := <-states:
			if got != w {
				t.Errorf("connected to %q, want %q", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("never connected to %q", w)
		}
	}
	if primary.startCount() != 1 {
		t.Errorf("primary started %d times, want 1", primary.startCount())
	}
}

func TestManager_SegmentsAndStop(t *testing.T) {
	release := make(chan SegmentFunc, 1)
	s := &fakeStrategy{
		name:    "streaming",
		onStart: func(_ *fakeHandle, onSegment SegmentFunc) { release <- onSegment },
	}

	var mu sync.Mutex
	var got []types.TranscriptSegment
	m := NewManager(ManagerConfig{
		Strategies: []Entry{{Strategy: s, Policy: noWait}},
		OnSegment: func(seg types.TranscriptSegment) {
			mu.Lock()
			got = append(got, seg)
			mu.Unlock()
		},
	})

	if err := m.Start(context.Background(), "en-US", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	emit := <-release

	emit(types.TranscriptSegment{Text: "hel"})
	emit(types.TranscriptSegment{Text: "hello", IsFinal: true})

	m.Stop()
	m.Stop()

	emit(types.TranscriptSegment{Text: "late", IsFinal: true})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[1].Text != "hello" {
		t.Errorf("segments = %+v, want two before stop", got)
	}
	if !s.handles[0].stopped.Load() {
		t.Error("handle not stopped")
	}
	if state, _ := m.State(); state != Idle {
		t.Errorf("state = %v, want idle", state)
	}
}

func TestManager_IdleTimeout(t *testing.T) {
	s := &fakeStrategy{name: "streaming"}

	var idles atomic.Int32
	idle := make(chan struct{}, 4)
	m := NewManager(ManagerConfig{
		Strategies:  []Entry{{Strategy: s, Policy: noWait}},
		IdleTimeout: 20 * time.Millisecond,
		OnIdle: func() {
			idles.Add(1)
			idle <- struct{}{}
		},
	})

	if err := m.Start(context.Background(), "en-US", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-idle:
	case <-time.After(time.Second):
		t.Fatal("idle timeout never fired")
	}

	time.Sleep(60 * time.Millisecond)
	if n := idles.Load(); n != 1 {
		t.Errorf("idle fired %d times, want 1", n)
	}
	if state, _ := m.State(); state != Idle {
		t.Errorf("state = %v, want idle", state)
	}
}

func TestManager_AudioEndedIsTerminal(t *testing.T) {
	s := &fakeStrategy{
		name:    "batch",
		onStart: func(h *fakeHandle, _ SegmentFunc) { h.end(ErrAudioEnded) },
	}

	fatal := make(chan error, 1)
	m := NewManager(ManagerConfig{
		Strategies: []Entry{{Strategy: s, Policy: noWait}},
		OnFatal:    func(err error) { fatal <- err },
	})
	defer m.Stop()

	if err := m.Start(context.Background(), "en-US", nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-fatal:
		if !errors.Is(err, ErrAudioEnded) {
			t.Errorf("error = %v, want ErrAudioEnded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("end of audio not reported")
	}
	if s.startCount() != 1 {
		t.Errorf("starts = %d, want 1", s.startCount())
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		status    int
		exhausted bool
		retry     bool
	}{
		{0, false, true},
		{429, false, true},
		{500, false, true},
		{503, false, true},
		{401, false, false},
		{403, false, false},
		{503, true, false},
	}

	for _, tt := range tests {
		e := &TransportError{Status: tt.status, Err: errors.New("x"), Exhausted: tt.exhausted}
		if e.Retryable() != tt.retry {
			t.Errorf("status %d exhausted=%v: Retryable() = %v, want %v", tt.status, tt.exhausted, e.Retryable(), tt.retry)
		}
		if e.Fallback() == tt.retry {
			t.Errorf("status %d: Fallback() = %v, want %v", tt.status, e.Fallback(), !tt.retry)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeStrategy{name: "streaming"})
	r.Register(&fakeStrategy{name: "batch"})
	r.Register(&fakeStrategy{name: "streaming", unavailable: true})

	if got := len(r.List()); got != 2 {
		t.Fatalf("List() len = %d, want 2", got)
	}
	if r.Get("streaming").Available() {
		t.Error("re-registration did not replace strategy")
	}
	if r.Get("missing") != nil {
		t.Error("Get(missing) should be nil")
	}

	ordered := r.Ordered([]string{"batch", "missing", "streaming"})
	if len(ordered) != 2 || ordered[0].Name() != "batch" || ordered[1].Name() != "streaming" {
		t.Errorf("Ordered() = %v", ordered)
	}
}
