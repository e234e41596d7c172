package livetranslate

import (
	"errors"
	"fmt"

	"go.aimuz.me/voxbridge/audiocapture"
	"go.aimuz.me/voxbridge/internal/types"
	"go.aimuz.me/voxbridge/stt"
)

// EventKind names a session change.
type EventKind string

const (
	EventLifecycle     EventKind = "lifecycle"
	EventMicState      EventKind = "mic-state"
	EventTranscription EventKind = "transcription-state"
	EventTranscript    EventKind = "transcript"
	EventTranslation   EventKind = "translation"
	EventBanner        EventKind = "banner"
	EventSpeaking      EventKind = "speaking"
	EventConfig        EventKind = "config"
	EventCleared       EventKind = "cleared"
)

// Event describes one change. Only the fields of its Kind are set.
type Event struct {
	Kind EventKind `json:"kind"`

	Lifecycle   types.LifecycleState     `json:"lifecycle,omitempty"`
	Mic         types.MicState           `json:"mic,omitempty"`
	STT         stt.State                `json:"stt,omitempty"`
	Strategy    string                   `json:"strategy,omitempty"`
	Transcript  types.TranscriptSegment  `json:"transcript,omitzero"`
	Translation types.TranslationSegment `json:"translation,omitzero"`
	Config      types.SessionConfig      `json:"config,omitzero"`
	Speaking    bool                     `json:"speaking,omitempty"`

	// Banner is the banner shown for Banner.Kind; an empty message
	// dismisses it.
	Banner types.Banner `json:"banner,omitzero"`
}

// Snapshot is the session state for rendering.
type Snapshot struct {
	Lifecycle    types.LifecycleState       `json:"lifecycle"`
	Mic          types.MicState             `json:"mic"`
	STT          stt.State                  `json:"stt"`
	Strategy     string                     `json:"strategy,omitempty"`
	Config       types.SessionConfig        `json:"config"`
	Transcript   []types.TranscriptSegment  `json:"transcript"`
	Translations []types.TranslationSegment `json:"translations"`
	Error        string                     `json:"error,omitempty"`
	Info         string                     `json:"info,omitempty"`
	Speaking     bool                       `json:"speaking"`
	Pending      int                        `json:"pending"`
}

const (
	msgNoProvider    = "No translation provider is available. Check your API keys and try again."
	msgConfigChanged = "Language changed, resetting..."
	msgIdle          = "Stopped listening after a long silence."
	msgAudioEnded    = "Audio input ended."
)

// errorMessage turns a recording failure into banner text.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, audiocapture.ErrPermissionDenied), errors.Is(err, stt.ErrPermissionDenied):
		return "Microphone access was denied. Allow microphone access and try again."
	case errors.Is(err, audiocapture.ErrDeviceUnavailable):
		return "No microphone is available."
	case errors.Is(err, stt.ErrUnsupportedPlatform):
		return "Speech recognition is not supported on this system."
	default:
		return fmt.Sprintf("Recording failed: %v", err)
	}
}
