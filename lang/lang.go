// Package lang provides language code helpers: base-code extraction,
// locale matching and the supported language lists.
package lang

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultInputLocale is used when no better input locale can be found.
const DefaultInputLocale = "en-US"

// DefaultOutputLanguage is the output language of a fresh session.
const DefaultOutputLanguage = "es"

// InputLocales are the recognition locales offered for speech input.
// Order matters: the first locale of a base language is its preferred match.
var InputLocales = []string{
	"en-US", "en-GB", "en-AU", "en-IN",
	"es-ES", "es-MX", "es-US",
	"fr-FR", "fr-CA",
	"de-DE", "it-IT",
	"pt-BR", "pt-PT",
	"nl-NL", "ja-JP", "ko-KR", "zh-CN", "ru-RU",
	"pl-PL", "tr-TR", "ar-SA", "hi-IN",
}

// OutputLanguages are the base codes translations can be produced in.
var OutputLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "nl", "ja", "ko", "zh", "ru",
	"pl", "tr", "ar", "hi", "ur", "bn", "th", "vi", "id", "ms", "fa",
	"he", "sv", "da", "fi", "no", "cs", "hu", "ro", "uk", "el", "bg",
}

var inputMatcher = language.NewMatcher(parseAll(InputLocales))

func parseAll(codes []string) []language.Tag {
	tags := make([]language.Tag, 0, len(codes))
	for _, c := range codes {
		tags = append(tags, language.MustParse(c))
	}
	return tags
}

// Base returns the primary language subtag of code, lower-cased.
// "en-US" and "en_GB" both yield "en". Empty input yields "".
func Base(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if tag, err := language.Parse(code); err == nil {
		if b, conf := tag.Base(); conf != language.No {
			return b.String()
		}
	}
	// Fall back to naive splitting for codes x/text rejects.
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}

// SameBase reports whether a and b share a base language code.
func SameBase(a, b string) bool {
	ba, bb := Base(a), Base(b)
	return ba != "" && ba == bb
}

// BestInputLocale returns the input locale that best serves code.
// An exact locale match wins, then the first locale with the same base
// language, then DefaultInputLocale.
func BestInputLocale(code string) string {
	for _, l := range InputLocales {
		if strings.EqualFold(l, code) {
			return l
		}
	}

	base := Base(code)
	if base == "" {
		return DefaultInputLocale
	}

	if tag, err := language.Parse(code); err == nil {
		_, idx, conf := inputMatcher.Match(tag)
		if conf >= language.High && Base(InputLocales[idx]) == base {
			return InputLocales[idx]
		}
	}

	for _, l := range InputLocales {
		if Base(l) == base {
			return l
		}
	}
	return DefaultInputLocale
}

// IsInputLocale reports whether code is one of InputLocales.
func IsInputLocale(code string) bool {
	for _, l := range InputLocales {
		if strings.EqualFold(l, code) {
			return true
		}
	}
	return false
}

// IsOutputLanguage reports whether code is one of OutputLanguages.
func IsOutputLanguage(code string) bool {
	for _, l := range OutputLanguages {
		if l == code {
			return true
		}
	}
	return false
}

// Name returns the English display name for code, or code itself.
func Name(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if n := display.English.Tags().Name(tag); n != "" {
		return n
	}
	return code
}
