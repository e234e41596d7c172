package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.aimuz.me/voxbridge/internal/types"
)

// RecognitionEventKind tells what a platform recognizer reported.
type RecognitionEventKind int

const (
	RecognitionResult RecognitionEventKind = iota
	RecognitionError
	RecognitionEnd
)

// Platform error codes with special handling.
const (
	RecognitionNoSpeech   = "no-speech"
	RecognitionAborted    = "aborted"
	RecognitionNotAllowed = "not-allowed"
)

// RecognitionEvent is one callback from a platform recognizer.
type RecognitionEvent struct {
	Kind    RecognitionEventKind
	Text    string
	IsFinal bool
	Error   string // platform error code for RecognitionError
}

// Recognizer is a host speech recognition facility (continuous, with
// interim results). It captures audio itself.
type Recognizer interface {
	Supported() bool
	Start(ctx context.Context, lang string) (Recognition, error)
}

// Recognition is a running platform recognition session.
type Recognition interface {
	// Events delivers results, errors and the final end event.
	Events() <-chan RecognitionEvent
	Stop()
}

// RecognizerStrategy adapts a platform Recognizer. An end event while still
// recording ends the handle with ErrUnexpectedEnd so the manager restarts it.
type RecognizerStrategy struct {
	recognizer Recognizer
}

// NewRecognizer creates an on-device strategy. r may be nil on hosts without
// a recognizer, which makes the strategy unavailable.
func NewRecognizer(r Recognizer) *RecognizerStrategy {
	return &RecognizerStrategy{recognizer: r}
}

func (s *RecognizerStrategy) Name() string { return "on-device" }

func (s *RecognizerStrategy) Available() bool {
	return s.recognizer != nil && s.recognizer.Supported()
}

// Start begins platform recognition. The audio argument is unused because the
// platform reads the microphone directly.
func (s *RecognizerStrategy) Start(ctx context.Context, lang string, _ Audio, onSegment SegmentFunc) (Handle, error) {
	if !s.Available() {
		return nil, ErrUnsupportedPlatform
	}

	rec, err := s.recognizer.Start(ctx, lang)
	if err != nil {
		if strings.Contains(err.Error(), RecognitionNotAllowed) {
			return nil, fmt.Errorf("start recognizer: %w", ErrPermissionDenied)
		}
		return nil, fmt.Errorf("start recognizer: %w", err)
	}

	h, hctx := newHandle(ctx)
	h.goFunc(func() error {
		defer rec.Stop()

		events := rec.Events()
		for {
			select {
			case <-hctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					ev = RecognitionEvent{Kind: RecognitionEnd}
				}
				if err := handleRecognitionEvent(hctx, ev, onSegment); err != nil {
					return err
				}
			}
		}
	})
	h.seal()
	return h, nil
}

func handleRecognitionEvent(ctx context.Context, ev RecognitionEvent, onSegment SegmentFunc) error {
	switch ev.Kind {
	case RecognitionResult:
		text := strings.TrimSpace(ev.Text)
		if text != "" {
			onSegment(types.TranscriptSegment{
				Text:    text,
				IsFinal: ev.IsFinal,
				Speaker: types.SpeakerUnknown,
			})
		}
	case RecognitionError:
		switch ev.Error {
		case RecognitionNoSpeech, RecognitionAborted:
			slog.Debug("recognizer notice", "code", ev.Error)
		case RecognitionNotAllowed, "service-not-allowed":
			return ErrPermissionDenied
		default:
			slog.Warn("recognizer error", "code", ev.Error)
		}
	case RecognitionEnd:
		if ctx.Err() != nil {
			return nil
		}
		return ErrUnexpectedEnd
	default:
		return errors.New("unknown recognition event")
	}
	return nil
}
