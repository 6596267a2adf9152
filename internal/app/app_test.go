package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/glint/internal/config"
	"horse.fit/glint/internal/document"
	"horse.fit/glint/internal/messaging"
	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/scheduler"
	"horse.fit/glint/internal/settings"
	"horse.fit/glint/internal/translation"
)

const samplePage = `<html lang="en"><head><title>Sample</title></head><body>
<h1 id="title">A small sample page</h1>
<p id="intro">Hello <a href="/x">reader</a>, welcome to the page.</p>
<nav class="nav">Home</nav>
<p id="num">2024</p>
</body></html>`

type bracketProvider struct{}

func (bracketProvider) Translate(_ context.Context, req translation.TranslateRequest) (*translation.TranslateResponse, error) {
	return &translation.TranslateResponse{Text: "[" + req.Text + "]"}, nil
}
func (bracketProvider) Name() string                 { return "local" }
func (bracketProvider) SupportedLanguages() []string { return nil }

func strPtr(v string) *string { return &v }

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	if code := Run([]string{"frobnicate"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := Run(nil); code != 2 {
		t.Fatalf("expected exit code 2 without args, got %d", code)
	}
}

func TestResolveSettingsLayersOverrides(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{TargetLanguage: "fr", TranslatorEngine: "lingva", ParallelRequests: 3}
	store, err := resolveSettings(cfg, settingsFlags{target: strPtr("de"), strategy: strPtr("append")}, true)
	if err != nil {
		t.Fatalf("resolve settings: %v", err)
	}
	got := store.Get()
	if got.TargetLanguage != "de" || got.TranslatorEngine != "lingva" || got.ParallelRequests != 3 {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if got.DisplayStrategy != settings.StrategyAppend || got.SourceLanguage != "auto" {
		t.Fatalf("unexpected defaults: %+v", got)
	}
}

func TestResolveSettingsFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	raw := `{"target_language":"ja","translator_engine":"local","parallel_requests":2}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg := &config.Config{SettingsFile: path, ParallelRequests: 9}
	store, err := resolveSettings(cfg, settingsFlags{}, true)
	if err != nil {
		t.Fatalf("resolve settings: %v", err)
	}
	if got := store.Get(); got.TargetLanguage != "ja" || got.ParallelRequests != 2 {
		t.Fatalf("file settings must win over env defaults: %+v", got)
	}

	if _, err := resolveSettings(&config.Config{SettingsFile: filepath.Join(t.TempDir(), "missing.json")}, settingsFlags{}, false); err == nil {
		t.Fatalf("expected missing settings file to fail")
	}
}

func TestResolveSettingsRequiresTarget(t *testing.T) {
	t.Parallel()

	if _, err := resolveSettings(&config.Config{}, settingsFlags{}, true); err == nil {
		t.Fatalf("expected missing target language to fail")
	}
	if _, err := resolveSettings(&config.Config{}, settingsFlags{}, false); err != nil {
		t.Fatalf("decompose settings must not require a target: %v", err)
	}
}

func TestTranslatePageInProcess(t *testing.T) {
	t.Parallel()

	registry := translation.NewRegistry("local")
	if err := registry.Register(bracketProvider{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	store, err := resolveSettings(&config.Config{}, settingsFlags{target: strPtr("de")}, true)
	if err != nil {
		t.Fatalf("resolve settings: %v", err)
	}
	sched := scheduler.New(registry, scheduler.Options{Settings: store.Get, Logger: zerolog.Nop()})
	defer sched.Close()

	doc, err := document.ParseString(samplePage)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	counts, err := translatePage(ctx, doc, pageOptions{
		Settings:  store,
		Gate:      precheck.NewGate(nil),
		Messenger: messaging.NewLocal(sched),
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("translate page: %v", err)
	}
	if counts.Translated != 2 || counts.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}

	out, err := doc.HTML()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "[A small sample page]") {
		t.Fatalf("heading not translated: %s", out)
	}
	if !strings.Contains(out, `[Hello <a href="/x">reader</a>, welcome to the page.]`) {
		t.Fatalf("paragraph not translated with its link intact: %s", out)
	}
	if !strings.Contains(out, `<nav class="nav">Home</nav>`) {
		t.Fatalf("navigation must stay untouched: %s", out)
	}
}

func TestDecomposePageReport(t *testing.T) {
	t.Parallel()

	doc, err := document.ParseString(samplePage)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	report := decomposePage(doc, settings.Defaults(), precheck.NewGate(nil))
	if len(report.Containers) != 2 {
		t.Fatalf("unexpected containers: %+v", report.Containers)
	}
	intro := report.Containers[1]
	if intro.ID != "intro" || intro.Tags != 1 || !strings.Contains(intro.Text, "<t0>reader</t0>") {
		t.Fatalf("unexpected intro row: %+v", intro)
	}

	var table bytes.Buffer
	if err := writeDecomposeReport(&table, report, outputFormatTable); err != nil {
		t.Fatalf("write table: %v", err)
	}
	if !strings.Contains(table.String(), "p#intro") {
		t.Fatalf("table missing container label: %s", table.String())
	}

	var raw bytes.Buffer
	if err := writeDecomposeReport(&raw, report, outputFormatJSON); err != nil {
		t.Fatalf("write json: %v", err)
	}
	var decoded decomposeReport
	if err := json.Unmarshal(raw.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json report: %v", err)
	}
	if len(decoded.Containers) != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	if got, err := parseOutputFormat(" JSON ", outputFormatTable); err != nil || got != outputFormatJSON {
		t.Fatalf("unexpected format: %q %v", got, err)
	}
	if got, err := parseOutputFormat("", outputFormatTable); err != nil || got != outputFormatTable {
		t.Fatalf("unexpected default format: %q %v", got, err)
	}
	if _, err := parseOutputFormat("xml", outputFormatTable); err == nil {
		t.Fatalf("expected xml to be rejected")
	}
}

func TestTruncateForTable(t *testing.T) {
	t.Parallel()

	if got := truncateForTable("a  b\n c", 0); got != "a b c" {
		t.Fatalf("unexpected collapsed text %q", got)
	}
	if got := truncateForTable("abcdefghij", 6); got != "abc..." {
		t.Fatalf("unexpected truncated text %q", got)
	}
}
