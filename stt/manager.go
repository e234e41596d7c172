package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/voxbridge/internal/retry"
	"go.aimuz.me/voxbridge/internal/types"
)

// DefaultIdleTimeout stops transcription after this long without speech.
const DefaultIdleTimeout = 120 * time.Second

// Entry is a strategy with its restart policy.
type Entry struct {
	Strategy Strategy
	Policy   retry.Policy
}

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	Strategies  []Entry       // Priority order
	IdleTimeout time.Duration // Default 120s; negative disables

	OnSegment func(seg types.TranscriptSegment)
	OnState   func(state State, strategy string)
	// OnFatal reports an error that exhausted every fallback, or ErrAudioEnded.
	OnFatal func(err error)
	// OnIdle reports that the idle timeout stopped transcription.
	OnIdle func()
}

// Manager keeps exactly one transcription strategy running, restarting it
// with backoff and falling back to the next strategy when it keeps failing.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	state    State
	strategy string
	gen      uint64
	cancel   context.CancelFunc
	handle   Handle
	idle     *time.Timer
}

// NewManager creates a manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	for i := range cfg.Strategies {
		if cfg.Strategies[i].Policy.MaxAttempts == 0 {
			cfg.Strategies[i].Policy = retry.Default()
		}
		if cfg.Strategies[i].Policy.Retryable == nil {
			cfg.Strategies[i].Policy.Retryable = IsRetryable
		}
	}
	return &Manager{cfg: cfg}
}

// State returns the current state and active strategy name.
func (m *Manager) State() (State, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.strategy
}

// run is one Start..Stop lifetime.
type run struct {
	ctx      context.Context
	gen      uint64
	lang     string
	audio    Audio
	idx      int
	failures atomic.Int32 // consecutive failures of the current strategy
}

// Start connects the first strategy that works. It blocks through retries and
// fallbacks and returns an error only when nothing could be started.
func (m *Manager) Start(ctx context.Context, lang string, audio Audio) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return errors.New("transcription already running")
	}
	m.gen++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	r := &run{ctx: runCtx, gen: m.gen, lang: lang, audio: audio}
	m.mu.Unlock()

	// Caller cancellation aborts the connection attempt only.
	stopWatch := context.AfterFunc(ctx, cancel)
	h, err := m.connect(r, nil)
	stopWatch()

	if err != nil {
		m.mu.Lock()
		if m.gen == r.gen {
			m.cancel = nil
		}
		m.mu.Unlock()
		cancel()
		m.setState(r.gen, Error, "")
		return err
	}

	m.armIdle(r.gen)
	go m.supervise(r, h)
	return nil
}

// Stop ends transcription. It is safe to call at any time.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.gen++
	cancel, h := m.cancel, m.handle
	m.cancel, m.handle = nil, nil
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	prev := m.state
	m.state, m.strategy = Idle, ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		h.Stop()
	}
	if prev != Idle {
		slog.Info("transcription stopped")
		m.notifyState(Idle, "")
	}
}

// connect starts r's current strategy, retrying and falling back per policy.
// lastErr is the failure that led here, nil on a fresh start.
func (m *Manager) connect(r *run, lastErr error) (Handle, error) {
	entries := m.cfg.Strategies
	tried := false
	cause := lastErr

	for r.idx < len(entries) {
		e := entries[r.idx]

		if lastErr != nil {
			if errors.Is(lastErr, ErrPermissionDenied) || errors.Is(lastErr, ErrAudioEnded) {
				return nil, lastErr
			}
			n := int(r.failures.Load())
			if !e.Policy.ShouldRetry(n, lastErr) {
				slog.Warn("transcription strategy failed, falling back",
					"strategy", e.Strategy.Name(), "failures", n, "error", lastErr)
				r.idx++
				r.failures.Store(0)
				lastErr = nil
				continue
			}
			delay := e.Policy.Delay(n)
			slog.Info("restarting transcription strategy",
				"strategy", e.Strategy.Name(), "attempt", n+1, "delay", delay)
			if err := retry.Sleep(r.ctx, delay); err != nil {
				return nil, err
			}
		}

		if !e.Strategy.Available() {
			r.idx++
			r.failures.Store(0)
			continue
		}
		tried = true

		m.setState(r.gen, Connecting, e.Strategy.Name())
		h, err := e.Strategy.Start(r.ctx, r.lang, r.audio, m.segmentFunc(r))
		if err == nil {
			if !m.adopt(r.gen, h, e.Strategy.Name()) {
				h.Stop()
				return nil, context.Canceled
			}
			slog.Info("transcription connected", "strategy", e.Strategy.Name())
			return h, nil
		}
		if r.ctx.Err() != nil {
			return nil, r.ctx.Err()
		}
		slog.Warn("start transcription strategy", "strategy", e.Strategy.Name(), "error", err)
		r.failures.Add(1)
		lastErr, cause = err, err
	}

	if cause != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoStrategy, cause)
	}
	if !tried {
		return nil, ErrUnsupportedPlatform
	}
	return nil, ErrNoStrategy
}

// supervise watches the running handle and reconnects when it dies.
func (m *Manager) supervise(r *run, h Handle) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-h.Done():
		}
		if r.ctx.Err() != nil {
			return
		}

		err := h.Err()
		if err == nil {
			err = ErrUnexpectedEnd
		}
		name := m.cfg.Strategies[r.idx].Strategy.Name()
		m.setState(r.gen, Disconnected, name)
		slog.Warn("transcription strategy terminated", "strategy", name, "error", err)

		r.failures.Add(1)
		next, cerr := m.connect(r, err)
		if cerr != nil {
			if r.ctx.Err() != nil {
				return
			}
			m.fail(r.gen, cerr)
			return
		}
		h = next
	}
}

func (m *Manager) segmentFunc(r *run) SegmentFunc {
	return func(seg types.TranscriptSegment) {
		if !m.current(r.gen) {
			return
		}
		r.failures.Store(0)
		m.armIdle(r.gen)
		if m.cfg.OnSegment != nil {
			m.cfg.OnSegment(seg)
		}
	}
}

// armIdle (re)starts the idle timer for gen.
func (m *Manager) armIdle(gen uint64) {
	if m.cfg.IdleTimeout < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	if m.idle != nil {
		m.idle.Reset(m.cfg.IdleTimeout)
		return
	}
	m.idle = time.AfterFunc(m.cfg.IdleTimeout, func() { m.onIdle(gen) })
}

func (m *Manager) onIdle(gen uint64) {
	if !m.current(gen) {
		return
	}
	slog.Info("transcription idle timeout", "after", m.cfg.IdleTimeout)
	m.Stop()
	if m.cfg.OnIdle != nil {
		m.cfg.OnIdle()
	}
}

// fail stops gen's run and reports err.
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel, m.handle = nil, nil
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	m.state, m.strategy = Error, ""
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if errors.Is(err, ErrAudioEnded) {
		slog.Info("transcription finished", "reason", err)
	} else {
		slog.Error("transcription failed", "error", err)
	}
	m.notifyState(Error, "")
	if m.cfg.OnFatal != nil {
		m.cfg.OnFatal(err)
	}
}

func (m *Manager) adopt(gen uint64, h Handle, name string) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.handle = h
	m.state, m.strategy = Connected, name
	m.mu.Unlock()
	m.notifyState(Connected, name)
	return true
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen == gen
}

func (m *Manager) setState(gen uint64, s State, strategy string) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.state, m.strategy = s, strategy
	m.mu.Unlock()
	m.notifyState(s, strategy)
}

func (m *Manager) notifyState(s State, strategy string) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(s, strategy)
	}
}
