package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/voxbridge/audiocapture"
	"go.aimuz.me/voxbridge/internal/types"
)

// Transcriber turns one recorded chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, lang string) (string, error)
}

// BatchConfig configures the batch strategy.
type BatchConfig struct {
	Name          string        // Optional, defaults to "batch"
	Transcriber   Transcriber
	ChunkDuration time.Duration // Default 5s
	MinChunk      time.Duration // Shorter trailing chunks are dropped, default 500ms
	Timeout       time.Duration // Per-chunk request timeout, default 30s

	// VAD, when set, cuts chunks at the end of an utterance instead of
	// waiting for ChunkDuration, and drops chunks that hold no speech.
	VAD *VADConfig
}

// BatchStrategy records fixed-size chunks and transcribes each as a file.
// Every result is final; there are no interim segments.
type BatchStrategy struct {
	name        string
	transcriber Transcriber
	chunk       time.Duration
	minChunk    time.Duration
	timeout     time.Duration
	vad         *VADConfig
}

// NewBatch creates a batch strategy.
func NewBatch(cfg BatchConfig) *BatchStrategy {
	if cfg.Name == "" {
		cfg.Name = "batch"
	}
	if cfg.ChunkDuration == 0 {
		cfg.ChunkDuration = 5 * time.Second
	}
	if cfg.MinChunk == 0 {
		cfg.MinChunk = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &BatchStrategy{
		name:        cfg.Name,
		transcriber: cfg.Transcriber,
		chunk:       cfg.ChunkDuration,
		minChunk:    cfg.MinChunk,
		timeout:     cfg.Timeout,
		vad:         cfg.VAD,
	}
}

func (b *BatchStrategy) Name() string { return b.name }

func (b *BatchStrategy) Available() bool {
	if b.transcriber == nil {
		return false
	}
	if a, ok := b.transcriber.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return true
}

// Start begins recording chunks.
func (b *BatchStrategy) Start(ctx context.Context, lang string, audio Audio, onSegment SegmentFunc) (Handle, error) {
	frames, unsubscribe, err := audio.Subscribe(64)
	if err != nil {
		return nil, fmt.Errorf("subscribe audio: %w", err)
	}

	h, hctx := newHandle(ctx)
	rate := audio.SampleRate()
	chunkSamples := int(b.chunk.Seconds() * streamSampleRate)
	minSamples := int(b.minChunk.Seconds() * streamSampleRate)
	chunks := make(chan []float32, 4)

	var vad *VAD
	if b.vad != nil {
		vad = NewVAD(*b.vad, streamSampleRate)
	}

	// Recorder: cut the stream into chunks.
	h.goFunc(func() error {
		defer close(chunks)
		defer unsubscribe()

		pending := make([]float32, 0, chunkSamples)
		heard := vad == nil
		// flush hands the pending chunk to the uploader unless VAD heard
		// nothing in it.
		flush := func() bool {
			if heard {
				select {
				case chunks <- pending:
				case <-hctx.Done():
					return false
				}
			}
			pending = make([]float32, 0, chunkSamples)
			heard = vad == nil
			return true
		}

		for {
			select {
			case <-hctx.Done():
				return nil
			case frame, ok := <-frames:
				if !ok {
					if hctx.Err() != nil {
						return nil
					}
					// Source ended: hand over what we have, then report.
					if len(pending) >= minSamples {
						flush()
					}
					return nil
				}
				samples := audiocapture.Resample(frame, rate, streamSampleRate)
				pending = append(pending, samples...)

				ended := false
				if vad != nil {
					switch vad.Process(samples) {
					case VADSpeechStart, VADSpeechContinue:
						heard = true
					case VADSpeechEnd:
						ended = true
					}
				}
				switch {
				case len(pending) >= chunkSamples:
					if !flush() {
						return nil
					}
				case ended && len(pending) >= minSamples:
					if !flush() {
						return nil
					}
				case vad != nil && !heard && !vad.InSpeech() && len(pending) >= minSamples:
					// Nothing but silence so far; keep the buffer short.
					pending = pending[:0]
				}
			}
		}
	})

	// Uploader: one request at a time keeps segments in order.
	h.goFunc(func() error {
		for chunk := range chunks {
			text, err := b.transcribe(hctx, chunk, lang)
			if err != nil {
				if hctx.Err() != nil {
					return nil
				}
				var te *TransportError
				if errors.As(err, &te) && te.Fallback() {
					return err
				}
				slog.Warn("batch chunk failed", "strategy", b.name, "error", err)
				continue
			}
			if text == "" {
				continue
			}
			onSegment(types.TranscriptSegment{
				Text:    text,
				IsFinal: true,
				Speaker: types.SpeakerUnknown,
			})
		}
		if hctx.Err() != nil {
			return nil
		}
		return ErrAudioEnded
	})

	h.seal()
	slog.Info("batch transcription started", "strategy", b.name, "chunk", b.chunk, "lang", lang)
	return h, nil
}

func (b *BatchStrategy) transcribe(ctx context.Context, chunk []float32, lang string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	wav := audiocapture.EncodeWAV(chunk, streamSampleRate)
	text, err := b.transcriber.Transcribe(ctx, wav, lang)
	if err != nil {
		return "", err
	}
	return cleanTranscript(text), nil
}
