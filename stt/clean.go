package stt

import (
	"regexp"
	"strings"
)

var (
	// [00:00:00.000 --> 00:00:04.000]
	regexTimestamp = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\.\d{3}\s-->\s\d{2}:\d{2}:\d{2}\.\d{3}\]`)
	// [BLANK_AUDIO], [MUSIC], (silence) and friends
	regexArtifacts = regexp.MustCompile(`\[(?:BLANK_AUDIO|MUSIC|NOISE|SOUND|SILENCE|INAUDIBLE)\]|\((?:silence|music|noise)\)`)
	regexSpaces    = regexp.MustCompile(`\s+`)
)

// cleanTranscript strips subtitle timestamps and non-speech markers that
// file transcribers leave in their output.
func cleanTranscript(text string) string {
	text = regexTimestamp.ReplaceAllString(text, "")
	text = regexArtifacts.ReplaceAllString(text, "")
	text = regexSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
