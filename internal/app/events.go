package app

// Event names for frontend communication.
const (
	EventLifecycle     = "lifecycle"
	EventMicState      = "mic-state"
	EventTranscription = "transcription-state"
	EventTranscript    = "transcript"
	EventTranslation   = "translation"
	EventBanner        = "banner"
	EventSpeaking      = "speaking"
	EventConfig        = "config"
	EventCleared       = "cleared"
	EventLevel         = "level"
)

// Level is a typed event for the input level meter.
type Level struct {
	Level     float64 `json:"level"` // 0..1
	Timestamp int64   `json:"timestamp"`
	Seq       int     `json:"seq"`
}

// TranscriptionState reports the transcription manager's state.
type TranscriptionState struct {
	State    string `json:"state"`
	Strategy string `json:"strategy,omitempty"`
}
