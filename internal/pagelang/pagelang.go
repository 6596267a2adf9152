// Package pagelang fetches pages and guesses the language they are written in.
package pagelang

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
	"github.com/go-shiori/dom"
	"golang.org/x/net/html"

	"horse.fit/glint/internal/document"
	"horse.fit/glint/internal/langdetect"
	"horse.fit/glint/internal/language"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultBodyByteLimit = 4 * 1024 * 1024
	// SampleRunes caps how much main text is handed to the detector.
	SampleRunes = 2000

	defaultUserAgent = "glint/1.0 (+https://horse.fit/glint)"
)

// Source says where a detected language came from.
const (
	SourceMarkup  = "markup"
	SourceContent = "content"
)

// FetchOptions controls HTTP behavior for Fetch.
type FetchOptions struct {
	Timeout       time.Duration
	BodyByteLimit int64
	UserAgent     string
	HTTPClient    *http.Client
}

// Fetch downloads an HTML page.
func Fetch(ctx context.Context, pageURL string, opts FetchOptions) ([]byte, error) {
	page := strings.TrimSpace(pageURL)
	if page == "" {
		return nil, fmt.Errorf("page URL is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	bodyLimit := opts.BodyByteLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyByteLimit
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, page, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Result is a page language guess.
type Result struct {
	Lang   string `json:"lang"`
	Source string `json:"source"`
}

// Detect prefers the <html lang> attribute and otherwise runs the detector
// over the page's main text as extracted by readability. pageURL may be nil.
func Detect(doc *document.Document, pageURL *url.URL, detector langdetect.Detector) Result {
	if doc == nil {
		return Result{}
	}

	var declared string
	doc.View(func(root *html.Node) {
		if el := dom.QuerySelector(root, "html"); el != nil {
			declared = dom.GetAttribute(el, "lang")
		}
	})
	if code := language.NormalizeCode(declared); code != "" && !language.IsAuto(code) {
		return Result{Lang: code, Source: SourceMarkup}
	}

	if detector == nil {
		return Result{}
	}
	raw, err := doc.HTML()
	if err != nil {
		return Result{}
	}
	sample, _ := TruncateText(MainText(raw, pageURL), SampleRunes)
	if code := detector.Detect(sample); code != "" {
		return Result{Lang: code, Source: SourceContent}
	}
	return Result{}
}

// MainText extracts readable text from an HTML page, falling back to the excerpt.
func MainText(rawHTML string, pageURL *url.URL) string {
	if pageURL == nil {
		pageURL = &url.URL{Scheme: "https", Host: "localhost"}
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), pageURL)
	if err != nil {
		return ""
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return CleanText(article.Excerpt())
	}
	text := CleanText(rendered.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	return text
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(strings.TrimSpace(line)), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
}

// TruncateText clips text to maxChars runes and appends a single ellipsis rune when truncated.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxChars-1]))
	if clipped == "" {
		return "…", true
	}
	return clipped + "…", true
}
