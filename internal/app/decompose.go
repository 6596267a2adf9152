package app

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-shiori/dom"
	"golang.org/x/net/html"

	"horse.fit/glint/internal/cli"
	"horse.fit/glint/internal/discovery"
	"horse.fit/glint/internal/document"
	"horse.fit/glint/internal/langdetect"
	"horse.fit/glint/internal/pagelang"
	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/settings"
	"horse.fit/glint/internal/tagged"
)

type containerRow struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	ID    string `json:"id,omitempty"`
	Text  string `json:"text"`
	Tags  int    `json:"tags"`
}

type decomposeReport struct {
	PageLanguage pagelang.Result `json:"page_language"`
	Containers   []containerRow  `json:"containers"`
}

func runDecompose(args []string) int {
	fs := flag.NewFlagSet("decompose", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")
	pageURL := fs.String("url", "", "Fetch the page from this URL instead of a file")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	flags := settingsFlags{
		file:   fs.String("settings", "", "Settings JSON file (defaults to SETTINGS_FILE)"),
		target: fs.String("lang", "", "Target language used by the same-language check"),
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 1 || (fs.NArg() == 0 && *pageURL == "") {
		fmt.Fprintln(os.Stderr, "decompose requires one HTML file argument (- for stdin) or --url")
		return 2
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	store, err := resolveSettings(cfg, flags, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	raw, base, err := readPage(ctx, fs.Arg(0), *pageURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	doc, err := document.Parse(bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse page: %v\n", err)
		return 1
	}

	report := decomposePage(doc, store.Get(), precheck.NewGate(langdetect.Lingua))
	report.PageLanguage = pagelang.Detect(doc, base, langdetect.Lingua)

	if err := writeDecomposeReport(os.Stdout, report, outputFormat); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		return 1
	}
	return 0
}

func decomposePage(doc *document.Document, s settings.Settings, gate *precheck.Gate) decomposeReport {
	var report decomposeReport
	doc.View(func(*html.Node) {
		for i, n := range discovery.FindTranslatableElements(s, gate, doc.Body()) {
			unit := tagged.Decompose(n)
			if unit == nil {
				continue
			}
			report.Containers = append(report.Containers, containerRow{
				Index: i,
				Tag:   dom.TagName(n),
				ID:    dom.ID(n),
				Text:  unit.Text,
				Tags:  unit.TagCount(),
			})
		}
	})
	return report
}

func writeDecomposeReport(out io.Writer, report decomposeReport, format string) error {
	if format == outputFormatJSON {
		return printJSON(out, report)
	}

	if report.PageLanguage.Lang != "" {
		if _, err := fmt.Fprintf(out, "page language: %s (%s)\n\n", report.PageLanguage.Lang, report.PageLanguage.Source); err != nil {
			return err
		}
	}
	rows := make([][]string, 0, len(report.Containers))
	for _, c := range report.Containers {
		label := c.Tag
		if c.ID != "" {
			label += "#" + c.ID
		}
		rows = append(rows, []string{
			strconv.Itoa(c.Index),
			label,
			strconv.Itoa(c.Tags),
			truncateForTable(c.Text, 80),
		})
	}
	return writeTable(out, []string{"#", "container", "tags", "tagged_text"}, rows)
}
