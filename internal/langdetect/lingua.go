package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// MinLetters is the floor below which detection is not attempted.
const MinLetters = 6

// Detector maps text to an ISO 639-1 code, or "" when unsure.
type Detector interface {
	Detect(text string) string
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(text string) string

func (f DetectorFunc) Detect(text string) string { return f(text) }

// Lingua is the default detector backed by lingua-go.
var Lingua Detector = DetectorFunc(DetectISO6391)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < MinLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
