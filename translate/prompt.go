package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"go.aimuz.me/voxbridge/internal/types"
	"go.aimuz.me/voxbridge/lang"
	"go.aimuz.me/voxbridge/llm"
)

// PromptStyle selects how a provider is asked and how its answer is read.
type PromptStyle int

const (
	// StyleJSON asks for a JSON array of {speaker, text} and reads the first element.
	StyleJSON PromptStyle = iota
	// StylePlain asks for the bare translation; the speaker stays unknown.
	StylePlain
)

const systemPrompt = "You are a professional medical interpreter."

func buildMessages(style PromptStyle, req Request) []llm.Message {
	in, out := languageName(req.InputLanguage), languageName(req.OutputLanguage)

	var content string
	switch style {
	case StylePlain:
		content = fmt.Sprintf(
			"Translate the following text from %s to %s. Preserve medical terminology and accuracy:\n\n"+
				"Text to translate: %q\n\nRespond with ONLY the translated text, nothing else.",
			in, out, req.Text,
		)
	default:
		content = fmt.Sprintf(
			"Translate the following %s text into %s, preserving meaning, medical terminology, and speaker identity.\n\n"+
				"Input:\nSpeaker: unknown\nText: %s\n\n"+
				"Output a JSON array of objects with keys \"speaker\" and \"text\". Example:\n"+
				"[\n  { \"speaker\": \"patient\", \"text\": \"Translated text here.\" }\n]",
			in, out, req.Text,
		)
	}

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: content},
	}
}

func languageName(code string) string {
	if name := lang.Name(code); name != "" {
		return name
	}
	return code
}

type speakerText struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// parseResponse reads a model answer. JSON answers that do not have the
// expected shape are used verbatim.
func parseResponse(style PromptStyle, raw string) (string, types.Speaker) {
	raw = strings.TrimSpace(raw)
	if style == StylePlain {
		return unquote(raw), types.SpeakerUnknown
	}

	var items []speakerText
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &items); err == nil && len(items) > 0 && items[0].Text != "" {
		return strings.TrimSpace(items[0].Text), types.ParseSpeaker(items[0].Speaker)
	}
	return raw, types.SpeakerUnknown
}

// stripCodeFence removes a ```json fence some models wrap answers in.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
