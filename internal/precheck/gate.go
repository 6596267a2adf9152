// Package precheck decides whether a piece of text is worth translating.
package precheck

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"horse.fit/glint/internal/langdetect"
	"horse.fit/glint/internal/language"
	"horse.fit/glint/internal/settings"
)

const (
	ReasonEmpty          = "empty text"
	ReasonTooShort       = "shorter than minimum length"
	ReasonBlacklisted    = "matched blacklist rule"
	ReasonWhitelisted    = "matched whitelist rule"
	ReasonNonAlphabetic  = "no letters to translate"
	ReasonSameLanguage   = "already in target language"
	ReasonPassed         = "passed all rules"
	ReasonInvalidPattern = "invalid rule pattern"
)

// Decision is the gate's verdict. A rejection is a normal outcome, not an error.
type Decision struct {
	Translate bool
	Reason    string
	Log       []string
}

// Gate evaluates settings.PrecheckRules. It is safe for concurrent use, and its
// verdict depends only on the text, the settings and the detector.
type Gate struct {
	detector langdetect.Detector
	patterns sync.Map // pattern string -> compiled or error
}

type compiledPattern struct {
	re  *regexp.Regexp
	err error
}

// NewGate builds a gate. A nil detector disables the same-language rule.
func NewGate(detector langdetect.Detector) *Gate {
	return &Gate{detector: detector}
}

// Check runs the rules in order: empty, minimum length, blacklist, whitelist,
// non-alphabetic, same language.
func (g *Gate) Check(text string, s settings.Settings) Decision {
	if g == nil {
		return Decision{Translate: true, Reason: ReasonPassed}
	}

	d := Decision{}
	sample := strings.TrimSpace(text)
	if sample == "" {
		return d.reject(ReasonEmpty)
	}

	rules := s.PrecheckRules
	if n := utf8.RuneCountInString(sample); n < rules.MinLength {
		d.logf("length %d < min_length %d", n, rules.MinLength)
		return d.reject(ReasonTooShort)
	}

	for _, rule := range rules.Blacklist {
		matched, err := g.match(rule, sample)
		if err != nil {
			d.logf("blacklist rule %q skipped: %v", rule.Name, err)
			continue
		}
		if matched {
			d.logf("blacklist rule %q matched", rule.Name)
			return d.reject(ReasonBlacklisted)
		}
	}

	for _, rule := range rules.Whitelist {
		matched, err := g.match(rule, sample)
		if err != nil {
			d.logf("whitelist rule %q skipped: %v", rule.Name, err)
			continue
		}
		if matched {
			d.logf("whitelist rule %q matched", rule.Name)
			return d.accept(ReasonWhitelisted)
		}
	}

	if rules.SkipNonAlphabetic && !hasLetter(sample) {
		return d.reject(ReasonNonAlphabetic)
	}

	if rules.SkipSameLanguage && g.detector != nil && !language.IsAuto(s.TargetLanguage) {
		detected := g.detector.Detect(sample)
		if detected != "" {
			d.logf("detected language %s", detected)
		}
		if language.Same(detected, s.TargetLanguage) {
			return d.reject(ReasonSameLanguage)
		}
	}

	return d.accept(ReasonPassed)
}

func (g *Gate) match(rule settings.Rule, text string) (bool, error) {
	if rule.Disabled {
		return false, nil
	}
	if cached, ok := g.patterns.Load(rule.Pattern); ok {
		c := cached.(compiledPattern)
		if c.err != nil {
			return false, c.err
		}
		return c.re.MatchString(text), nil
	}

	re, err := regexp.Compile(rule.Pattern)
	if err != nil {
		err = fmt.Errorf("%s: %w", ReasonInvalidPattern, err)
	}
	g.patterns.Store(rule.Pattern, compiledPattern{re: re, err: err})
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}

func (d Decision) reject(reason string) Decision {
	d.Translate = false
	d.Reason = reason
	return d
}

func (d Decision) accept(reason string) Decision {
	d.Translate = true
	d.Reason = reason
	return d
}

func (d *Decision) logf(format string, args ...any) {
	d.Log = append(d.Log, fmt.Sprintf(format, args...))
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
