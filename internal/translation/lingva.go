package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultLingvaEndpoint is a public Lingva Translate instance.
const DefaultLingvaEndpoint = "https://translate.plausibility.cloud"

// LingvaProvider calls the Lingva Translate REST API. Instances are tried in
// order until one answers.
type LingvaProvider struct {
	instances []string
	client    *http.Client
}

// NewLingvaProvider accepts a comma-separated list of instance base URLs.
func NewLingvaProvider(endpoints string) *LingvaProvider {
	var instances []string
	for _, raw := range strings.Split(endpoints, ",") {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		instances = append(instances, raw)
	}
	if len(instances) == 0 {
		instances = []string{DefaultLingvaEndpoint}
	}
	return &LingvaProvider{
		instances: instances,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *LingvaProvider) Name() string {
	return "lingva"
}

func (p *LingvaProvider) SupportedLanguages() []string {
	return SupportedTranslationLanguageCodes()
}

type lingvaResponse struct {
	Translation string `json:"translation"`
	Error       string `json:"error"`
}

func (p *LingvaProvider) Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error) {
	if p == nil {
		return nil, fmt.Errorf("lingva provider is nil")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	targetLang := normalizeLangCode(req.TargetLang)
	if targetLang == "" || targetLang == "auto" {
		return nil, fmt.Errorf("target language is required")
	}
	sourceLang := normalizeLangCode(req.SourceLang)
	if sourceLang == "" {
		sourceLang = "auto"
	}

	started := time.Now()
	var log []string
	var lastErr error
	for _, instance := range p.instances {
		translated, err := p.translateWith(ctx, instance, text, sourceLang, targetLang)
		if err == nil {
			latency := time.Since(started).Milliseconds()
			log = append(log, fmt.Sprintf("lingva instance=%s latency=%dms", instance, latency))
			return &TranslateResponse{
				Text:         translated,
				SourceLang:   sourceLang,
				TargetLang:   targetLang,
				ProviderName: p.Name(),
				LatencyMs:    latency,
				Log:          log,
			}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log = append(log, fmt.Sprintf("lingva instance=%s failed: %v", instance, err))
		lastErr = err
	}
	return nil, fmt.Errorf("all lingva instances failed: %w", lastErr)
}

func (p *LingvaProvider) translateWith(ctx context.Context, instance, text, source, target string) (string, error) {
	reqURL := fmt.Sprintf("%s/api/v1/%s/%s/%s", instance, url.PathEscape(source), url.PathEscape(target), url.PathEscape(text))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build lingva request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send lingva request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read lingva response: %w", err)
	}

	var parsed lingvaResponse
	decodeErr := json.Unmarshal(body, &parsed)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && strings.TrimSpace(parsed.Error) != "" {
			return "", fmt.Errorf("lingva status %d: %s", resp.StatusCode, parsed.Error)
		}
		return "", fmt.Errorf("lingva status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode lingva response: %w", decodeErr)
	}
	translated := strings.TrimSpace(parsed.Translation)
	if translated == "" {
		return "", errors.New("lingva response was empty")
	}
	return translated, nil
}
