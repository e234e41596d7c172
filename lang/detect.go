package lang

import (
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// minDetectRunes is the shortest text worth running detection on.
// Short utterances ("ok", "sí") are too ambiguous to classify.
const minDetectRunes = 12

// Detector guesses the language of short utterances.
type Detector struct {
	detector lingua.LanguageDetector
}

// NewDetector builds a detector restricted to the given base codes.
// Unknown codes are ignored. With fewer than two usable codes it
// returns nil, which Detect treats as "unknown".
func NewDetector(codes ...string) *Detector {
	langs := make([]lingua.Language, 0, len(codes))
	seen := make(map[lingua.Language]bool)
	for _, c := range codes {
		l, ok := linguaLanguage(Base(c))
		if !ok || seen[l] {
			continue
		}
		seen[l] = true
		langs = append(langs, l)
	}
	if len(langs) < 2 {
		return nil
	}

	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(langs...).
		WithLowAccuracyMode().
		Build()
	return &Detector{detector: d}
}

// Detect returns the base code of text's language.
// ok is false when text is too short or the language is undecided.
func (d *Detector) Detect(text string) (code string, ok bool) {
	if d == nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minDetectRunes {
		return "", false
	}

	l, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(l.IsoCode639_1().String()), true
}

func linguaLanguage(base string) (lingua.Language, bool) {
	if base == "" {
		return 0, false
	}
	for _, l := range lingua.AllLanguages() {
		if strings.EqualFold(l.IsoCode639_1().String(), base) {
			return l, true
		}
	}
	return 0, false
}
