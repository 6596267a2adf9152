package translation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"horse.fit/glint/internal/config"
)

func TestLocalProviderSendsModelOverride(t *testing.T) {
	t.Parallel()

	var gotModel, gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req localChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		if len(req.Messages) > 0 {
			gotPrompt = req.Messages[0].Content
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" Hallo <t0>Welt</t0> "}}]}`))
	}))
	defer server.Close()

	provider := NewLocalProvider(server.URL, "")
	resp, err := provider.Translate(context.Background(), TranslateRequest{
		Text:       "Hello <t0>world</t0>",
		SourceLang: "en",
		TargetLang: "de-DE",
		Model:      "custom-model",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.Text != "Hallo <t0>Welt</t0>" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	if gotModel != "custom-model" || resp.ModelName != "custom-model" {
		t.Fatalf("unexpected model: sent %q, reported %q", gotModel, resp.ModelName)
	}
	if !strings.Contains(gotPrompt, "German") || !strings.Contains(gotPrompt, "<t0>") {
		t.Fatalf("unexpected prompt: %q", gotPrompt)
	}
	if resp.TargetLang != "de" || len(resp.Log) == 0 {
		t.Fatalf("unexpected response metadata: %+v", resp)
	}
}

func TestLocalProviderSurfacesEndpointError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"model offline"}}`))
	}))
	defer server.Close()

	_, err := NewLocalProvider(server.URL, "m").Translate(context.Background(), TranslateRequest{Text: "hi", TargetLang: "fr"})
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Fatalf("expected endpoint error, got %v", err)
	}
}

func TestLocalProviderHonorsCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocalProvider(server.URL, "m").Translate(ctx, TranslateRequest{Text: "hi", TargetLang: "fr"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLingvaProviderFallsBackAcrossInstances(t *testing.T) {
	t.Parallel()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	var gotSegments []string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, seg := range strings.Split(strings.TrimPrefix(r.URL.EscapedPath(), "/api/v1/"), "/") {
			decoded, _ := url.PathUnescape(seg)
			gotSegments = append(gotSegments, decoded)
		}
		_, _ = w.Write([]byte(`{"translation":"Bonjour <t0>monde</t0>"}`))
	}))
	defer up.Close()

	provider := NewLingvaProvider(down.URL + ", " + up.URL + "/")
	resp, err := provider.Translate(context.Background(), TranslateRequest{
		Text:       "Hello <t0>world</t0>",
		TargetLang: "fr",
	})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.Text != "Bonjour <t0>monde</t0>" {
		t.Fatalf("unexpected text: %q", resp.Text)
	}
	want := []string{"auto", "fr", "Hello <t0>world</t0>"}
	if strings.Join(gotSegments, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected request path segments: %q", gotSegments)
	}
	if len(resp.Log) != 2 {
		t.Fatalf("expected a log line per instance, got %q", resp.Log)
	}
}

func TestRegistryResolvesDefaultAndRejectsUnknown(t *testing.T) {
	t.Parallel()

	registry := NewRegistry("")
	if err := registry.Register(NewLingvaProvider("")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(NewLocalProvider("", "")); err != nil {
		t.Fatalf("register: %v", err)
	}

	provider, err := registry.Provider("")
	if err != nil || provider.Name() != DefaultProviderName {
		t.Fatalf("unexpected default provider: %v %v", provider, err)
	}
	if p, err := registry.Provider(" LINGVA "); err != nil || p.Name() != "lingva" {
		t.Fatalf("unexpected lingva lookup: %v %v", p, err)
	}
	if _, err := registry.Provider("deepl"); err == nil || !strings.Contains(err.Error(), "lingva, local") {
		t.Fatalf("expected unknown provider error listing names, got %v", err)
	}
}

func TestRegistryFromConfigFallsBackToLocal(t *testing.T) {
	t.Parallel()

	registry := NewRegistryFromConfig(&config.Config{TranslatorEngine: "ai:gpt"})
	if registry.DefaultProvider() != DefaultProviderName {
		t.Fatalf("unexpected default provider: %q", registry.DefaultProvider())
	}
	if got := strings.Join(registry.ProviderNames(), ","); got != "lingva,local" {
		t.Fatalf("unexpected providers: %s", got)
	}
}

type dutchProvider struct{}

func (dutchProvider) Translate(context.Context, TranslateRequest) (*TranslateResponse, error) {
	return nil, errors.New("not used")
}
func (dutchProvider) Name() string                 { return "dutch" }
func (dutchProvider) SupportedLanguages() []string { return []string{"nl-NL", "auto", "de"} }

func TestTranslationLanguageOptionsNamesLanguages(t *testing.T) {
	t.Parallel()

	registry := NewRegistry("dutch")
	if err := registry.Register(dutchProvider{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	options := TranslationLanguageOptions(registry)

	byCode := make(map[string]LanguageOption, len(options))
	for _, o := range options {
		if _, dup := byCode[o.Code]; dup {
			t.Fatalf("duplicate option %q", o.Code)
		}
		byCode[o.Code] = o
	}
	if _, ok := byCode["auto"]; ok {
		t.Fatalf("auto is not a target language")
	}
	if nl := byCode["nl"]; nl.Label != "Dutch" || nl.Native != "Nederlands" {
		t.Fatalf("unexpected provider-reported option: %+v", nl)
	}
	if de := byCode["de"]; de.Label != "German" || de.Native != "Deutsch" {
		t.Fatalf("unexpected default option: %+v", de)
	}
	if len(options) != len(SupportedTranslationLanguageCodes())+1 {
		t.Fatalf("unexpected option count: %d", len(options))
	}
}
