// Package langdetect detects the language of short recognised texts.
package langdetect

import (
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
)

var (
	detector     lingua.LanguageDetector
	detectorOnce sync.Once
)

// Restricting the candidate set keeps the detector small and makes short
// dictations far more reliable.
var languages = []lingua.Language{
	lingua.Chinese,
	lingua.English,
	lingua.Japanese,
	lingua.Korean,
}

func get() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(languages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}

// Detect returns the ISO 639-1 code and English name of the language of
// text, or ("auto", "Unknown") when it cannot be decided.
func Detect(text string) (code, name string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "auto", "Unknown"
	}

	lang, ok := get().DetectLanguageOf(text)
	if !ok {
		return "auto", "Unknown"
	}
	return strings.ToLower(lang.IsoCode639_1().String()), lang.String()
}

// IsCJK reports whether code names a language written without spaces and
// with full-width punctuation.
func IsCJK(code string) bool {
	switch code {
	case "zh", "ja", "yue":
		return true
	}
	return false
}
