// Package audiocapture acquires microphone audio, fans frames out to
// consumers and derives a rolling volume level for visualization.
package audiocapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrPermissionDenied is returned when the user refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable is returned when no usable input device exists.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrReleased is returned when subscribing to a released microphone.
	ErrReleased = errors.New("microphone released")
)

// Device is a platform audio input.
type Device interface {
	// Open starts the device. It fails with ErrPermissionDenied or
	// ErrDeviceUnavailable (possibly wrapped).
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open device.
type Stream interface {
	// Frames delivers float32 samples in [-1, 1], interleaved when
	// Channels() > 1. The channel is closed when the stream ends.
	Frames() <-chan []float32
	SampleRate() int
	Channels() int
	// Close stops all device tracks. It must be safe to call twice.
	Close() error
}

// Config holds configuration for microphone capture.
type Config struct {
	MeterInterval time.Duration // Level sampling cadence, default ~60 Hz
	FFTSize       int           // Analyser window, default 256
	OnLevel       func(level float64)
}

// DefaultConfig returns the default capture configuration.
func DefaultConfig() Config {
	return Config{
		MeterInterval: time.Second / 60,
		FFTSize:       256,
	}
}

// Capture acquires microphones from a Device.
type Capture struct {
	device Device
	cfg    Config
}

// New creates a new audio capture instance.
func New(device Device, cfg Config) *Capture {
	if cfg.MeterInterval == 0 {
		cfg.MeterInterval = time.Second / 60
	}
	if cfg.FFTSize == 0 {
		cfg.FFTSize = 256
	}
	return &Capture{device: device, cfg: cfg}
}

// Acquire opens the device and starts frame processing and the level meter.
func (c *Capture) Acquire(ctx context.Context) (*Microphone, error) {
	if c.device == nil {
		return nil, ErrDeviceUnavailable
	}

	stream, err := c.device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}

	analyser := NewFFTAnalyser(c.cfg.FFTSize)
	loopCtx, cancel := context.WithCancel(context.Background())

	m := &Microphone{
		stream:   stream,
		analyser: analyser,
		meter:    NewLevelMeter(analyser, c.cfg.MeterInterval, c.cfg.OnLevel),
		subs:     make(map[int]chan []float32),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go m.loop(loopCtx)
	m.meter.Start()

	slog.Info("microphone acquired", "sampleRate", stream.SampleRate(), "channels", stream.Channels())
	return m, nil
}

// Microphone is an acquired input. Frames are mono at SampleRate().
type Microphone struct {
	stream   Stream
	analyser *FFTAnalyser
	meter    *LevelMeter

	mu     sync.Mutex
	subs   map[int]chan []float32
	nextID int
	ended  bool

	cancel context.CancelFunc
	done   chan struct{}

	stopTracks sync.Once
	closeLoop  sync.Once
	stopMeter  sync.Once
}

// SampleRate returns the sample rate of delivered frames.
func (m *Microphone) SampleRate() int {
	return m.stream.SampleRate()
}

// Level returns the latest normalized volume level in [0, 1].
func (m *Microphone) Level() float64 {
	return m.meter.Level()
}

// Done is closed when the microphone stops producing frames.
func (m *Microphone) Done() <-chan struct{} {
	return m.done
}

// Subscribe returns a channel of mono frames and a function that cancels the
// subscription. A subscriber that falls behind loses frames; capture never blocks.
func (m *Microphone) Subscribe(buffer int) (<-chan []float32, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return nil, nil, ErrReleased
	}

	id := m.nextID
	m.nextID++
	ch := make(chan []float32, buffer)
	m.subs[id] = ch

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe, nil
}

// Release stops the device tracks, closes the processing loop and cancels the
// level meter. Every step runs even if an earlier one fails, and calling
// Release again is a no-op.
func (m *Microphone) Release() error {
	var errs []error

	m.stopTracks.Do(func() {
		if err := safely(m.stream.Close); err != nil {
			errs = append(errs, fmt.Errorf("stop tracks: %w", err))
		}
	})

	m.closeLoop.Do(func() {
		err := safely(func() error {
			m.cancel()
			<-m.done
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("close processing: %w", err))
		}
	})

	m.stopMeter.Do(func() {
		err := safely(func() error {
			m.meter.Stop()
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("stop level meter: %w", err))
		}
	})

	if len(errs) > 0 {
		slog.Error("release microphone", "error", errors.Join(errs...))
	}
	return errors.Join(errs...)
}

func (m *Microphone) loop(ctx context.Context) {
	defer m.finish()

	frames := m.stream.Frames()
	channels := m.stream.Channels()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if channels == 2 {
				frame = DownmixStereo(frame)
			}
			m.analyser.Write(frame)
			m.broadcast(frame)
		}
	}
}

func (m *Microphone) broadcast(frame []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (m *Microphone) finish() {
	m.mu.Lock()
	m.ended = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.mu.Unlock()
	close(m.done)
}

// safely runs fn, turning a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
