package translation

import "context"

// Provider translates free-form text between languages. Implementations must
// abort promptly when ctx is canceled.
type Provider interface {
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)
	Name() string
	SupportedLanguages() []string
}

// TranslateRequest describes one translation request.
type TranslateRequest struct {
	Text       string
	SourceLang string // ISO 639-1 (for example: "zh", "en"), or "auto"
	TargetLang string
	// Model overrides the provider's configured model when set.
	Model string
}

// TranslateResponse contains translated text and provider metadata.
type TranslateResponse struct {
	Text         string
	SourceLang   string
	TargetLang   string
	ProviderName string
	ModelName    string
	LatencyMs    int64
	Log          []string
}
