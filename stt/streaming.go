package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"go.aimuz.me/voxbridge/audiocapture"
	"go.aimuz.me/voxbridge/internal/retry"
	"go.aimuz.me/voxbridge/internal/types"
)

const (
	streamSampleRate = 16000
	closeGracePeriod = time.Second
)

// StreamingConfig configures the streaming strategy.
type StreamingConfig struct {
	Negotiator Negotiator
	Header     http.Header       // Sent on the websocket handshake
	Dialer     *websocket.Dialer // Optional, defaults to websocket.DefaultDialer
	Retry      retry.Policy      // Negotiation retry, defaults to retry.Default()
}

// StreamingStrategy streams 16 kHz mono PCM over a websocket and receives
// incremental transcripts.
type StreamingStrategy struct {
	negotiator Negotiator
	header     http.Header
	dialer     *websocket.Dialer
	retry      retry.Policy
}

// NewStreaming creates a streaming strategy.
func NewStreaming(cfg StreamingConfig) *StreamingStrategy {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Default()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = IsRetryable
	}
	return &StreamingStrategy{
		negotiator: cfg.Negotiator,
		header:     cfg.Header,
		dialer:     cfg.Dialer,
		retry:      cfg.Retry,
	}
}

func (s *StreamingStrategy) Name() string    { return "streaming" }
func (s *StreamingStrategy) Available() bool { return s.negotiator != nil }

// streamMessage is an incremental result from the transcription service.
type streamMessage struct {
	Result struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
		Final bool `json:"final"`
	} `json:"result"`
}

// Start negotiates a session, connects and begins streaming.
func (s *StreamingStrategy) Start(ctx context.Context, lang string, audio Audio, onSegment SegmentFunc) (Handle, error) {
	var ep Endpoint
	err := retry.Do(ctx, s.retry, "negotiate transcription session", func(ctx context.Context) error {
		var err error
		ep, err = s.negotiator.Negotiate(ctx, lang)
		return err
	})
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) && te.Retryable() {
			te.Exhausted = true
		}
		return nil, fmt.Errorf("negotiate: %w", err)
	}

	conn, resp, err := s.dialer.DialContext(ctx, ep.WebsocketURL, s.header)
	if err != nil {
		te := &TransportError{Err: fmt.Errorf("dial: %w", err)}
		if resp != nil {
			te.Status = resp.StatusCode
		}
		return nil, te
	}

	frames, unsubscribe, err := audio.Subscribe(64)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe audio: %w", err)
	}

	slog.Info("streaming transcription connected", "session", ep.SessionID, "lang", lang)

	h, hctx := newHandle(ctx)
	rate := audio.SampleRate()

	// Close the socket once the handle is cancelled so the reader unblocks.
	h.goFunc(func() error {
		<-hctx.Done()
		unsubscribe()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		_ = conn.Close()
		return nil
	})

	h.goFunc(func() error {
		for {
			select {
			case <-hctx.Done():
				return nil
			case frame, ok := <-frames:
				if !ok {
					if hctx.Err() != nil {
						return nil
					}
					return ErrAudioEnded
				}
				pcm := audiocapture.PCM16LE(audiocapture.Resample(frame, rate, streamSampleRate))
				if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
					if hctx.Err() != nil {
						return nil
					}
					return &TransportError{Err: fmt.Errorf("write audio: %w", err)}
				}
			}
		}
	})

	h.goFunc(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if hctx.Err() != nil {
					return nil
				}
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure) {
					slog.Warn("transcription socket closed", "error", err)
				}
				return &TransportError{Err: fmt.Errorf("read transcript: %w", err)}
			}

			var msg streamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Debug("skip non-transcript message", "error", err)
				continue
			}
			if len(msg.Result.Alternatives) == 0 {
				continue
			}
			text := strings.TrimSpace(msg.Result.Alternatives[0].Transcript)
			if text == "" {
				continue
			}
			onSegment(types.TranscriptSegment{
				Text:    text,
				IsFinal: msg.Result.Final,
				Speaker: types.SpeakerUnknown,
			})
		}
	})

	h.seal()
	return h, nil
}
