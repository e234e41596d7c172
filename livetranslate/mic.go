package livetranslate

import (
	"context"

	"go.aimuz.me/voxbridge/audiocapture"
	"go.aimuz.me/voxbridge/stt"
)

// Mic is an acquired microphone.
type Mic interface {
	stt.Audio
	Level() float64
	Release() error
}

// MicSource acquires the microphone for one recording.
type MicSource interface {
	Acquire(ctx context.Context) (Mic, error)
}

// MicSourceFunc adapts a function to MicSource.
type MicSourceFunc func(ctx context.Context) (Mic, error)

func (f MicSourceFunc) Acquire(ctx context.Context) (Mic, error) { return f(ctx) }

// FromCapture acquires microphones from c.
func FromCapture(c *audiocapture.Capture) MicSource {
	return MicSourceFunc(func(ctx context.Context) (Mic, error) {
		m, err := c.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return m, nil
	})
}
