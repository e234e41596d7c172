// Package types provides shared type definitions for the application.
package types

import "strings"

// Speaker identifies who produced an utterance in a clinical conversation.
type Speaker string

const (
	SpeakerPatient  Speaker = "patient"
	SpeakerProvider Speaker = "provider"
	SpeakerUnknown  Speaker = "unknown"
)

// ParseSpeaker maps free-form model output to a Speaker.
// Anything that is not clearly patient or provider is unknown.
func ParseSpeaker(s string) Speaker {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient":
		return SpeakerPatient
	case "provider", "doctor", "clinician":
		return SpeakerProvider
	default:
		return SpeakerUnknown
	}
}

// Usage represents token usage statistics from LLM API calls.
type Usage struct {
	PromptTokens     int  `json:"promptTokens"`
	CompletionTokens int  `json:"completionTokens"`
	TotalTokens      int  `json:"totalTokens"`
	CacheHit         bool `json:"cacheHit"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Transcript Types
// ─────────────────────────────────────────────────────────────────────────────

// TranscriptSegment is a chunk of recognized speech.
// Interim segments (IsFinal=false) may be replaced; final segments never change.
type TranscriptSegment struct {
	ID      string  `json:"id"`
	Text    string  `json:"text"`
	IsFinal bool    `json:"isFinal"`
	Speaker Speaker `json:"speaker"`
}

// TranslationSegment is the translation of one finalized TranscriptSegment.
type TranslationSegment struct {
	ID       string  `json:"id"`
	SourceID string  `json:"sourceId,omitempty"`
	Text     string  `json:"text"`
	Speaker  Speaker `json:"speaker"`
	Degraded bool    `json:"degraded,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Session Types
// ─────────────────────────────────────────────────────────────────────────────

// LifecycleState is the top-level session state.
type LifecycleState int

const (
	Uninitialized LifecycleState = iota
	Initializing
	Ready
)

func (s LifecycleState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// MicState is the microphone sub-state of a Ready session.
type MicState int

const (
	MicOff MicState = iota
	MicStarting
	MicOn
	MicStopping
)

func (s MicState) String() string {
	switch s {
	case MicOff:
		return "off"
	case MicStarting:
		return "starting"
	case MicOn:
		return "on"
	case MicStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BannerKind distinguishes transient notices from standing errors.
type BannerKind string

const (
	BannerInfo  BannerKind = "info"
	BannerError BannerKind = "error"
)

// Banner is a user-visible notice.
// Info banners auto-dismiss; error banners stay until the user retries.
type Banner struct {
	Kind    BannerKind `json:"kind"`
	Message string     `json:"message"`
}

// SessionConfig is the user-selected session configuration.
type SessionConfig struct {
	InputLanguage  string `json:"inputLanguage"`
	OutputLanguage string `json:"outputLanguage"`
	Model          string `json:"model"`
	Provider       string `json:"provider"`
	AutoSpeak      bool   `json:"autoSpeak"`
}

// LiveStatus represents the status of a live session.
type LiveStatus struct {
	Active           bool   `json:"active"`
	MicState         string `json:"micState"`
	SourceLang       string `json:"sourceLang"`
	TargetLang       string `json:"targetLang"`
	Duration         int64  `json:"duration"`         // Running duration in seconds
	STTStrategy      string `json:"sttStrategy"`      // Active transcription strategy
	TranscriptCount  int    `json:"transcriptCount"`  // Number of finalized segments
	TranslationCount int    `json:"translationCount"` // Number of translated segments
	QueueLength      int    `json:"queueLength"`
}
