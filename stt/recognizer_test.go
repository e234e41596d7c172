package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/voxbridge/internal/types"
)

type fakeRecognition struct {
	events  chan RecognitionEvent
	stopped chan struct{}
	once    sync.Once
}

func (r *fakeRecognition) Events() <-chan RecognitionEvent { return r.events }
func (r *fakeRecognition) Stop()                           { r.once.Do(func() { close(r.stopped) }) }

type fakeRecognizer struct {
	supported bool
	err       error
	rec       *fakeRecognition
}

func (f *fakeRecognizer) Supported() bool { return f.supported }

func (f *fakeRecognizer) Start(context.Context, string) (Recognition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func newFakeRecognition() *fakeRecognition {
	return &fakeRecognition{events: make(chan RecognitionEvent, 8), stopped: make(chan struct{})}
}

func TestRecognizerStrategy_Available(t *testing.T) {
	tests := []struct {
		name string
		r    Recognizer
		want bool
	}{
		{"no recognizer", nil, false},
		{"unsupported", &fakeRecognizer{}, false},
		{"supported", &fakeRecognizer{supported: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewRecognizer(tt.r).Available(); got != tt.want {
				t.Errorf("Available() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecognizerStrategy_Events(t *testing.T) {
	rec := newFakeRecognition()
	s := NewRecognizer(&fakeRecognizer{supported: true, rec: rec})

	segments := make(chan types.TranscriptSegment, 8)
	h, err := s.Start(context.Background(), "en-US", nil, func(seg types.TranscriptSegment) {
		segments <- seg
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec.events <- RecognitionEvent{Kind: RecognitionResult, Text: "hel"}
	rec.events <- RecognitionEvent{Kind: RecognitionError, Error: RecognitionNoSpeech}
	rec.events <- RecognitionEvent{Kind: RecognitionResult, Text: " "}
	rec.events <- RecognitionEvent{Kind: RecognitionResult, Text: "hello", IsFinal: true}
	rec.events <- RecognitionEvent{Kind: RecognitionEnd}

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("unexpected end did not finish the handle")
	}
	if !errors.Is(h.Err(), ErrUnexpectedEnd) {
		t.Errorf("Err() = %v, want ErrUnexpectedEnd", h.Err())
	}

	close(segments)
	var got []types.TranscriptSegment
	for seg := range segments {
		got = append(got, seg)
	}
	if len(got) != 2 || got[0].IsFinal || !got[1].IsFinal || got[1].Text != "hello" {
		t.Errorf("segments = %+v", got)
	}

	select {
	case <-rec.stopped:
	default:
		t.Error("platform recognition not stopped")
	}
}

func TestRecognizerStrategy_PermissionDenied(t *testing.T) {
	s := NewRecognizer(&fakeRecognizer{supported: true, err: errors.New("not-allowed")})
	_, err := s.Start(context.Background(), "en-US", nil, func(types.TranscriptSegment) {})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Start() error = %v, want ErrPermissionDenied", err)
	}

	rec := newFakeRecognition()
	s = NewRecognizer(&fakeRecognizer{supported: true, rec: rec})
	h, err := s.Start(context.Background(), "en-US", nil, func(types.TranscriptSegment) {})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.events <- RecognitionEvent{Kind: RecognitionError, Error: RecognitionNotAllowed}

	<-h.Done()
	if !errors.Is(h.Err(), ErrPermissionDenied) {
		t.Errorf("Err() = %v, want ErrPermissionDenied", h.Err())
	}
}

func TestRecognizerStrategy_StopIsClean(t *testing.T) {
	rec := newFakeRecognition()
	s := NewRecognizer(&fakeRecognizer{supported: true, rec: rec})
	h, err := s.Start(context.Background(), "en-US", nil, func(types.TranscriptSegment) {})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.Stop()
	if h.Err() != nil {
		t.Errorf("Err() after Stop = %v", h.Err())
	}
}
