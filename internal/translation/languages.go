package translation

import (
	"sort"
	"strings"

	textlang "golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"horse.fit/glint/internal/language"
)

// LanguageOption is one entry of the target language picker.
type LanguageOption struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Native string `json:"native,omitempty"`
}

// offeredLanguages are listed even when no provider reports them.
var offeredLanguages = []string{
	"ar", "de", "en", "es", "fr", "id", "it", "ja", "ko", "pl", "pt", "ru", "th", "tr", "vi", "zh",
}

func SupportedTranslationLanguageCodes() []string {
	return append([]string(nil), offeredLanguages...)
}

// englishName returns the English display name of code, or "" when unknown.
func englishName(code string) string {
	tag, err := textlang.Parse(code)
	if err != nil {
		return ""
	}
	return display.English.Languages().Name(tag)
}

// TranslationLanguageOptions lists target languages offered to clients: the
// default set plus whatever registered providers report.
func TranslationLanguageOptions(registry *Registry) []LanguageOption {
	supported := map[string]struct{}{}
	for _, code := range offeredLanguages {
		supported[code] = struct{}{}
	}
	if registry != nil {
		for _, provider := range registry.providers {
			for _, code := range provider.SupportedLanguages() {
				if normalized := normalizeLangCode(code); normalized != "" && normalized != language.Auto {
					supported[normalized] = struct{}{}
				}
			}
		}
	}

	codes := make([]string, 0, len(supported))
	for code := range supported {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	options := make([]LanguageOption, 0, len(codes))
	for _, code := range codes {
		option := LanguageOption{Code: code, Label: englishName(code)}
		if option.Label == "" {
			option.Label = strings.ToUpper(code)
		}
		if tag, err := textlang.Parse(code); err == nil {
			option.Native = display.Self.Name(tag)
		}
		options = append(options, option)
	}
	return options
}

// normalizeLangCode reduces a tag to its primary subtag, keeping "auto".
func normalizeLangCode(raw string) string {
	if language.IsAuto(raw) && strings.TrimSpace(raw) != "" {
		return language.Auto
	}
	return language.NormalizeCode(raw)
}
