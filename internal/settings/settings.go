package settings

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/language"

	glintlang "horse.fit/glint/internal/language"
)

const (
	StrategyReplace = "replace"
	StrategyAppend  = "append"

	DefaultParallelRequests = 5
	// AIEnginePrefix marks engine ids that resolve through Settings.AIEngines.
	AIEnginePrefix = "ai:"
)

// Settings is the effective configuration one page translation runs with.
type Settings struct {
	TargetLanguage   string        `json:"target_language"`
	SourceLanguage   string        `json:"source_language,omitempty"`
	TranslatorEngine string        `json:"translator_engine"`
	DisplayStrategy  string        `json:"display_strategy,omitempty"`
	ParallelRequests int           `json:"parallel_requests,omitempty"`
	PrecheckRules    PrecheckRules `json:"precheck_rules"`
	AIEngines        []AIEngine    `json:"ai_engines,omitempty"`
}

// PrecheckRules configures the gate deciding whether text is worth translating.
type PrecheckRules struct {
	MinLength         int      `json:"min_length,omitempty"`
	SkipSameLanguage  bool     `json:"skip_same_language"`
	SkipNonAlphabetic bool     `json:"skip_non_alphabetic"`
	Blacklist         []Rule   `json:"blacklist,omitempty"`
	Whitelist         []Rule   `json:"whitelist,omitempty"`
	SkipSelectors     []string `json:"skip_selectors,omitempty"`
}

// Rule is one named regular expression.
type Rule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	// Disabled rules are kept in settings but never evaluated.
	Disabled bool `json:"disabled,omitempty"`
}

// AIEngine describes an AI-backed engine and its short-text fallback.
type AIEngine struct {
	ID                 string `json:"id"`
	Provider           string `json:"provider"`
	Model              string `json:"model,omitempty"`
	ShortTextThreshold int    `json:"short_text_threshold,omitempty"`
	FallbackEngine     string `json:"fallback_engine,omitempty"`
}

// EngineID returns the id under which translate requests name this engine.
func (e AIEngine) EngineID() string {
	return AIEnginePrefix + e.ID
}

// Defaults returns settings with every optional field populated.
func Defaults() Settings {
	return Settings{
		SourceLanguage:   glintlang.Auto,
		TranslatorEngine: "local",
		DisplayStrategy:  StrategyReplace,
		ParallelRequests: DefaultParallelRequests,
		PrecheckRules: PrecheckRules{
			MinLength:         1,
			SkipSameLanguage:  true,
			SkipNonAlphabetic: true,
		},
	}
}

// WithDefaults fills blank optional fields from Defaults.
func (s Settings) WithDefaults() Settings {
	d := Defaults()
	if strings.TrimSpace(s.SourceLanguage) == "" {
		s.SourceLanguage = d.SourceLanguage
	}
	if strings.TrimSpace(s.DisplayStrategy) == "" {
		s.DisplayStrategy = d.DisplayStrategy
	}
	if s.ParallelRequests <= 0 {
		s.ParallelRequests = d.ParallelRequests
	}
	return s
}

// Validate checks the settings a job needs before it can start plus rule syntax.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.TargetLanguage) == "" {
		return fmt.Errorf("target_language is required")
	}
	if _, err := language.Parse(s.TargetLanguage); err != nil {
		return fmt.Errorf("target_language %q: %w", s.TargetLanguage, err)
	}
	if strings.TrimSpace(s.TranslatorEngine) == "" {
		return fmt.Errorf("translator_engine is required")
	}
	switch s.DisplayStrategy {
	case "", StrategyReplace, StrategyAppend:
	default:
		return fmt.Errorf("display_strategy %q is not supported", s.DisplayStrategy)
	}
	for _, rule := range append(append([]Rule{}, s.PrecheckRules.Blacklist...), s.PrecheckRules.Whitelist...) {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("precheck rule %q: %w", rule.Name, err)
		}
	}
	seen := make(map[string]struct{}, len(s.AIEngines))
	for _, engine := range s.AIEngines {
		id := strings.TrimSpace(engine.ID)
		if id == "" {
			return fmt.Errorf("ai engine id is required")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("ai engine %q is defined twice", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(engine.Provider) == "" {
			return fmt.Errorf("ai engine %q: provider is required", id)
		}
	}
	return nil
}

// AIEngine looks up an AI engine by its engine id ("ai:<id>").
func (s Settings) AIEngine(engineID string) (AIEngine, bool) {
	id, ok := strings.CutPrefix(strings.TrimSpace(engineID), AIEnginePrefix)
	if !ok {
		return AIEngine{}, false
	}
	for _, engine := range s.AIEngines {
		if engine.ID == id {
			return engine, true
		}
	}
	return AIEngine{}, false
}

// IsAIEngine reports whether engineID names an AI engine.
func IsAIEngine(engineID string) bool {
	return strings.HasPrefix(strings.TrimSpace(engineID), AIEnginePrefix)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s Settings) Clone() Settings {
	out := s
	out.PrecheckRules.Blacklist = append([]Rule(nil), s.PrecheckRules.Blacklist...)
	out.PrecheckRules.Whitelist = append([]Rule(nil), s.PrecheckRules.Whitelist...)
	out.PrecheckRules.SkipSelectors = append([]string(nil), s.PrecheckRules.SkipSelectors...)
	out.AIEngines = append([]AIEngine(nil), s.AIEngines...)
	return out
}
