package audiocapture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ReaderDevice is a Device backed by raw 16-bit little-endian PCM from an
// io.Reader, such as a recorded file or stdin.
type ReaderDevice struct {
	r          io.Reader
	sampleRate int
	channels   int
	frameSize  int  // samples per channel per frame
	realtime   bool // pace frames at playback speed
}

// ReaderOption configures a ReaderDevice.
type ReaderOption func(*ReaderDevice)

// WithFrameSize sets the number of samples per channel in each frame.
func WithFrameSize(n int) ReaderOption {
	return func(d *ReaderDevice) { d.frameSize = n }
}

// WithRealtime paces frames at the stream's playback speed.
func WithRealtime(on bool) ReaderOption {
	return func(d *ReaderDevice) { d.realtime = on }
}

// NewReaderDevice creates a device reading PCM from r.
func NewReaderDevice(r io.Reader, sampleRate, channels int, opts ...ReaderOption) *ReaderDevice {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels != 2 {
		channels = 1
	}
	d := &ReaderDevice{
		r:          r,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  4096,
		realtime:   true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open starts reading. The returned stream ends at EOF.
func (d *ReaderDevice) Open(_ context.Context) (Stream, error) {
	if d.r == nil {
		return nil, ErrDeviceUnavailable
	}

	s := &readerStream{
		device: d,
		frames: make(chan []float32, 4),
		stop:   make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

type readerStream struct {
	device *ReaderDevice
	frames chan []float32

	stopOnce sync.Once
	stop     chan struct{}
}

func (s *readerStream) Frames() <-chan []float32 { return s.frames }
func (s *readerStream) SampleRate() int          { return s.device.sampleRate }
func (s *readerStream) Channels() int            { return s.device.channels }

func (s *readerStream) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *readerStream) pump() {
	defer close(s.frames)

	d := s.device
	buf := make([]byte, d.frameSize*d.channels*2)
	frameDur := time.Duration(d.frameSize) * time.Second / time.Duration(d.sampleRate)

	var ticker *time.Ticker
	if d.realtime {
		ticker = time.NewTicker(frameDur)
		defer ticker.Stop()
	}

	for {
		n, err := io.ReadFull(d.r, buf)
		if n > 0 {
			frame := DecodePCM16LE(buf[:n])
			select {
			case s.frames <- frame:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Error("read pcm", "error", err)
			}
			return
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.stop:
				return
			}
		}
	}
}
