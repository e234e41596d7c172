// Package stt provides live transcription strategies and the manager that
// keeps exactly one of them running.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"go.aimuz.me/voxbridge/internal/types"
)

var (
	// ErrPermissionDenied is fatal: the user must grant access and retry.
	ErrPermissionDenied = errors.New("speech recognition permission denied")

	// ErrUnsupportedPlatform is returned when no strategy can run at all.
	ErrUnsupportedPlatform = errors.New("no transcription strategy available on this platform")

	// ErrNoStrategy is returned when every strategy failed.
	ErrNoStrategy = errors.New("no usable transcription strategy")

	// ErrUnexpectedEnd is reported when a strategy stops on its own while
	// it should still be recording.
	ErrUnexpectedEnd = errors.New("transcription ended unexpectedly")

	// ErrAudioEnded is reported when the audio source ran dry. It ends the
	// session cleanly rather than triggering a restart.
	ErrAudioEnded = errors.New("audio input ended")
)

// maxResponseSize caps how much of a service response is read.
const maxResponseSize = 1 << 20

// TransportError is a network failure talking to a transcription service.
type TransportError struct {
	Status    int // HTTP status, 0 for connection-level failures
	Err       error
	Exhausted bool // retries already spent by the strategy itself
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transcription transport (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transcription transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Fallback reports whether the failure calls for the next strategy
// instead of another attempt with this one.
func (e *TransportError) Fallback() bool {
	return e.Exhausted || !e.Retryable()
}

// Retryable reports whether another attempt may succeed.
// Rate limits, server errors and dropped connections are retryable;
// authentication failures are not.
func (e *TransportError) Retryable() bool {
	if e.Exhausted {
		return false
	}
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}

// IsRetryable classifies strategy errors for retry.Policy.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrPermissionDenied) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnexpectedEnd) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// State is the manager's connection state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Audio is the microphone a strategy listens to.
// *audiocapture.Microphone satisfies it.
type Audio interface {
	Subscribe(buffer int) (<-chan []float32, func(), error)
	SampleRate() int
}

// SegmentFunc receives transcript segments in recognition order.
type SegmentFunc func(seg types.TranscriptSegment)

// Strategy is one way of turning audio into text.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// Available reports whether the strategy can run on this host.
	Available() bool

	// Start begins transcription. It returns once the strategy is running.
	// Segments are delivered on a single goroutine, in order.
	Start(ctx context.Context, lang string, audio Audio, onSegment SegmentFunc) (Handle, error)
}

// Handle controls a running strategy.
type Handle interface {
	// Stop ends transcription and waits for the strategy to wind down.
	Stop()

	// Done is closed when the strategy has stopped, for any reason.
	Done() <-chan struct{}

	// Err explains why the strategy stopped. It is nil after Stop.
	Err() error
}

// handle runs strategy goroutines; the first failure cancels the rest.
type handle struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	mu      sync.Mutex
	err     error
	stopped atomic.Bool
}

func newHandle(ctx context.Context) (*handle, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &handle{cancel: cancel, done: make(chan struct{})}, ctx
}

// goFunc runs fn; a non-nil error ends the whole handle.
func (h *handle) goFunc(fn func() error) {
	h.wg.Go(func() {
		if err := fn(); err != nil {
			h.fail(err)
		}
	})
}

// seal must be called after the last goFunc.
func (h *handle) seal() {
	go func() {
		h.wg.Wait()
		h.cancel()
		close(h.done)
	}()
}

func (h *handle) fail(err error) {
	h.mu.Lock()
	if h.err == nil {
		h.err = err
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *handle) Stop() {
	h.stopped.Store(true)
	h.cancel()
	<-h.done
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Err() error {
	if h.stopped.Load() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Registry holds strategies in priority order.
type Registry struct {
	strategies []Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a strategy; later registrations have lower priority.
// Registering a name twice replaces the earlier strategy in place.
func (r *Registry) Register(s Strategy) {
	for i, existing := range r.strategies {
		if existing.Name() == s.Name() {
			r.strategies[i] = s
			return
		}
	}
	r.strategies = append(r.strategies, s)
}

// Get returns a strategy by name, or nil.
func (r *Registry) Get(name string) Strategy {
	for _, s := range r.strategies {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// List returns all strategies in priority order.
func (r *Registry) List() []Strategy {
	out := make([]Strategy, len(r.strategies))
	copy(out, r.strategies)
	return out
}

// Ordered returns the named strategies in the given order, skipping unknown names.
func (r *Registry) Ordered(names []string) []Strategy {
	out := make([]Strategy, 0, len(names))
	for _, n := range names {
		if s := r.Get(n); s != nil {
			out = append(out, s)
		}
	}
	return out
}
