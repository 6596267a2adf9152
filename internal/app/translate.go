package app

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/glint/internal/cli"
	"horse.fit/glint/internal/document"
	"horse.fit/glint/internal/langdetect"
	"horse.fit/glint/internal/messaging"
	"horse.fit/glint/internal/pagejob"
	"horse.fit/glint/internal/pagelang"
	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/render"
	"horse.fit/glint/internal/settings"
)

func runTranslate(args []string) int {
	fs := flag.NewFlagSet("translate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	pageURL := fs.String("url", "", "Fetch the page from this URL instead of a file")
	out := fs.String("out", "-", "Write translated HTML here (- for stdout)")
	remote := fs.String("remote", "", "Scheduler API base URL (defaults to SCHEDULER_URL; empty runs in-process)")
	flags := settingsFlags{
		file:     fs.String("settings", "", "Settings JSON file (defaults to SETTINGS_FILE)"),
		target:   fs.String("lang", "", "Target language, for example de or zh-CN"),
		source:   fs.String("source", "", "Source language (auto when empty)"),
		engine:   fs.String("engine", "", "Translator engine, for example local, lingva or ai:<id>"),
		strategy: fs.String("strategy", "", "Display strategy: replace or append"),
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 1 || (fs.NArg() == 0 && strings.TrimSpace(*pageURL) == "") {
		fmt.Fprintln(os.Stderr, "translate requires one HTML file argument (- for stdin) or --url")
		printTranslateUsage()
		return 2
	}

	cfg, err := loadConfig(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger, err := commandLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	store, err := resolveSettings(cfg, flags, true)
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

	gate := precheck.NewGate(langdetect.Lingua)
	var messenger messaging.Messenger
	schedulerURL := strings.TrimSpace(*remote)
	if schedulerURL == "" {
		schedulerURL = strings.TrimSpace(cfg.SchedulerURL)
	}
	if schedulerURL != "" {
		messenger = messaging.NewRemote(schedulerURL, cfg.HostToken)
		logger.Info().Str("scheduler_url", schedulerURL).Msg("using remote scheduler")
	} else {
		rt, err := newRuntime(ctx, cfg, store, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer rt.Close()
		gate = rt.gate
		messenger = messaging.NewLocal(rt.sched)
	}

	started := time.Now()
	counts, err := translatePage(ctx, doc, pageOptions{
		Settings:  store,
		Gate:      gate,
		Messenger: messenger,
		PageURL:   base,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Translate failed: %v\n", err)
		return 1
	}

	rendered, err := doc.HTML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render page: %v\n", err)
		return 1
	}
	if err := writeOutput(*out, []byte(rendered)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write output: %v\n", err)
		return 1
	}

	s := store.Get()
	fmt.Fprintf(
		os.Stderr,
		"translate lang=%s engine=%s strategy=%s translated=%d original=%d failed=%d skipped=%d elapsed=%s\n",
		s.TargetLanguage,
		s.TranslatorEngine,
		s.DisplayStrategy,
		counts.Translated,
		counts.Original,
		counts.Failed,
		counts.Skipped,
		time.Since(started).Round(time.Millisecond),
	)
	if counts.Failed > 0 {
		return 1
	}
	return 0
}

type pageOptions struct {
	Settings  *settings.Store
	Gate      *precheck.Gate
	Messenger messaging.Messenger
	PageURL   *url.URL
	Logger    zerolog.Logger
}

// translatePage runs one page job over doc with every container visible and
// waits for it to settle.
func translatePage(ctx context.Context, doc *document.Document, opts pageOptions) (pagejob.Counts, error) {
	current := opts.Settings.Get()
	renderer, err := render.NewDOM(doc, current.DisplayStrategy)
	if err != nil {
		return pagejob.Counts{}, err
	}

	job := pagejob.New(doc, pagejob.Deps{
		Settings:  func() (settings.Settings, error) { return opts.Settings.Get(), nil },
		Gate:      opts.Gate,
		Messenger: opts.Messenger,
		Renderer:  renderer,
		Viewport:  pagejob.Eager,
		PageLanguage: func(d *document.Document) string {
			return pagelang.Detect(d, opts.PageURL, langdetect.Lingua).Lang
		},
		Status: func(st pagejob.Status) {
			opts.Logger.Debug().
				Str("state", string(st.State)).
				Int("loading", st.Counts.Loading).
				Int("translated", st.Counts.Translated).
				Msg("page job status")
		},
		Logger: opts.Logger,
	})
	defer job.Close()

	if err := job.Start(ctx); err != nil {
		return pagejob.Counts{}, err
	}
	if err := job.Wait(ctx); err != nil {
		return job.Counts(), fmt.Errorf("wait for translations: %w", err)
	}
	counts := job.Counts()

	// keep the rendered result: Close would revert it
	job.Detach()
	return counts, nil
}

func readPage(ctx context.Context, path, pageURL string) ([]byte, *url.URL, error) {
	if pageURL = strings.TrimSpace(pageURL); pageURL != "" {
		parsed, err := url.Parse(pageURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --url: %w", err)
		}
		raw, err := pagelang.Fetch(ctx, pageURL, pagelang.FetchOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("fetch page: %w", err)
		}
		return raw, parsed, nil
	}

	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read page: %w", err)
	}
	return raw, nil, nil
}

func printTranslateUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  glint translate <page.html|-> --lang <lang> [--engine local] [--strategy replace] [--out -] [--remote URL] [--env .env]")
	fmt.Fprintln(os.Stderr, "  glint translate --url <https://...> --lang <lang> [flags]")
}
