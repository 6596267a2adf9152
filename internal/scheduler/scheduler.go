// Package scheduler runs translation requests against providers with a memory
// cache, request coalescing and a FIFO queue bounded by a concurrency limit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"horse.fit/glint/internal/db"
	"horse.fit/glint/internal/language"
	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/settings"
	"horse.fit/glint/internal/tagged"
	"horse.fit/glint/internal/translation"
)

var (
	// ErrCanceled settles tasks that were interrupted. It is not a failure.
	ErrCanceled = errors.New("translation canceled")
	// ErrClosed is returned for requests made after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Resolver maps an engine name onto a provider.
type Resolver interface {
	Provider(name string) (translation.Provider, error)
}

// PersistentStore is the optional second cache tier.
type PersistentStore interface {
	LookupTranslation(ctx context.Context, sourceLang, targetLang, text string) (*db.CachedTranslation, error)
	SaveTranslation(ctx context.Context, row db.SaveTranslationParams) error
}

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	Limit             int
	CacheCapacity     int
	Store             PersistentStore
	Gate              *precheck.Gate
	Settings          func() settings.Settings
	RequestsPerSecond float64
	Logger            zerolog.Logger
}

// Request is one translation call. A blank Engine uses the settings engine.
type Request struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang"`
	Engine     string `json:"engine,omitempty"`
}

// Result is the settled outcome of a request. Err is set for provider failures
// and for cancellation (errors.Is(err, ErrCanceled)); precheck rejections and
// same-language requests settle with Translated false and no error.
type Result struct {
	Text       string
	Translated bool
	Err        error
	Log        []string
	Cached     bool
	Engine     string

	// save is written to the persistent tier once the task settles uninterrupted.
	save *db.SaveTranslationParams
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Active       int `json:"active"`
	Queued       int `json:"queued"`
	InFlight     int `json:"in_flight"`
	CacheEntries int `json:"cache_entries"`
	Limit        int `json:"limit"`
}

// Handle is the eventual result of a request. Coalesced requests share one handle.
type Handle struct {
	done   chan struct{}
	result Result
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func settled(r Result) *Handle {
	h := newHandle()
	h.resolve(r)
	return h
}

func (h *Handle) resolve(r Result) {
	h.result = r
	close(h.done)
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks for the result. If ctx ends first the returned result carries
// ErrCanceled; the underlying task keeps running for other waiters.
func (h *Handle) Wait(ctx context.Context) Result {
	select {
	case <-h.done:
		return h.result
	case <-ctx.Done():
		return Result{Err: fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())}
	}
}

type task struct {
	key     cacheKey
	req     Request
	handle  *Handle
	cancel  context.CancelFunc
	settled bool
}

// Scheduler is safe for concurrent use. All bookkeeping happens under one
// mutex so the cache check, in-flight check and task creation are atomic.
type Scheduler struct {
	registry Resolver
	store    PersistentStore
	gate     *precheck.Gate
	settings func() settings.Settings
	limiter  *rate.Limiter
	logger   zerolog.Logger

	root       context.Context
	cancelRoot context.CancelFunc
	running    sync.WaitGroup

	mu       sync.Mutex
	limit    int
	queue    []*task
	active   map[*task]struct{}
	inflight map[cacheKey]*task
	cache    *lru
	closed   bool
}

// New builds a scheduler over registry.
func New(registry Resolver, opts Options) *Scheduler {
	limit := opts.Limit
	if limit < 1 {
		limit = settings.DefaultParallelRequests
	}
	capacity := opts.CacheCapacity
	if capacity == 0 {
		capacity = DefaultCacheCapacity
	}
	current := opts.Settings
	if current == nil {
		current = settings.Defaults
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		registry:   registry,
		store:      opts.Store,
		gate:       opts.Gate,
		settings:   current,
		limiter:    limiter,
		logger:     opts.Logger.With().Str("component", "scheduler").Logger(),
		root:       root,
		cancelRoot: cancel,
		limit:      limit,
		active:     make(map[*task]struct{}),
		inflight:   make(map[cacheKey]*task),
		cache:      newLRU(capacity),
	}
}

// Translate enqueues req and waits for its result.
func (s *Scheduler) Translate(ctx context.Context, req Request) Result {
	return s.Enqueue(ctx, req).Wait(ctx)
}

// Enqueue registers req and returns without blocking. ctx is only consulted
// for early cancellation: queued work is canceled through InterruptAll.
func (s *Scheduler) Enqueue(ctx context.Context, req Request) *Handle {
	if err := ctx.Err(); err != nil {
		return settled(Result{Text: req.Text, Err: fmt.Errorf("%w: %w", ErrCanceled, err)})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return settled(Result{Text: req.Text, Err: ErrClosed})
	}
	if sameLanguage(req.SourceLang, req.TargetLang) {
		return settled(Result{Text: req.Text})
	}

	text := Normalize(req.Text)
	if text == "" {
		return settled(Result{Text: text})
	}

	key := keyFor(text, req.SourceLang, req.TargetLang)
	if hit, ok := s.cache.get(key); ok {
		return settled(Result{Text: hit.text, Translated: true, Cached: true, Engine: hit.engine})
	}
	if t, ok := s.inflight[key]; ok {
		return t.handle
	}

	req.Text = text
	t := &task{key: key, req: req, handle: newHandle()}
	s.queue = append(s.queue, t)
	s.inflight[key] = t
	s.pump()
	return t.handle
}

// InterruptAll cancels every active and queued task. Each settles with
// ErrCanceled and the active count is zero when it returns.
func (s *Scheduler) InterruptAll() {
	s.mu.Lock()
	canceled := make([]*task, 0, len(s.active)+len(s.queue))
	for t := range s.active {
		t.cancel()
		canceled = append(canceled, t)
	}
	canceled = append(canceled, s.queue...)
	for _, t := range canceled {
		t.settled = true
	}
	s.queue = nil
	s.active = make(map[*task]struct{})
	s.inflight = make(map[cacheKey]*task)
	s.mu.Unlock()

	for _, t := range canceled {
		t.handle.resolve(Result{Text: t.req.Text, Err: ErrCanceled})
	}
	if len(canceled) > 0 {
		s.logger.Debug().Int("tasks", len(canceled)).Msg("interrupted translation tasks")
	}
}

// UpdateConcurrencyLimit changes the active-task cap. Values below one are
// raised to one. Active tasks are never preempted.
func (s *Scheduler) UpdateConcurrencyLimit(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit == n {
		return
	}
	s.logger.Info().Int("from", s.limit).Int("to", n).Msg("concurrency limit updated")
	s.limit = n
	s.pump()
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Active:       len(s.active),
		Queued:       len(s.queue),
		InFlight:     len(s.inflight),
		CacheEntries: s.cache.len(),
		Limit:        s.limit,
	}
}

// ClearCache empties the memory tier.
func (s *Scheduler) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.clear()
}

// Close interrupts all work and waits for task goroutines to return; later
// requests settle with ErrClosed.
func (s *Scheduler) Close() {
	s.InterruptAll()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancelRoot()
	s.running.Wait()
}

// pump moves queued tasks into the active set while there is room.
// Callers hold s.mu.
func (s *Scheduler) pump() {
	for len(s.active) < s.limit && len(s.queue) > 0 {
		t := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		ctx, cancel := context.WithCancel(s.root)
		t.cancel = cancel
		s.active[t] = struct{}{}
		s.running.Add(1)
		go s.run(ctx, t)
	}
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	defer s.running.Done()
	res := s.execute(ctx, t.req, t.key)
	if res.Err != nil && (ctx.Err() != nil || errors.Is(res.Err, context.Canceled)) {
		res = Result{Text: t.req.Text, Err: ErrCanceled, Log: res.Log}
	}
	s.settle(ctx, t, res)
}

func (s *Scheduler) settle(ctx context.Context, t *task, res Result) {
	s.mu.Lock()
	if t.settled {
		// interrupted: the caller already saw ErrCanceled
		s.mu.Unlock()
		t.cancel()
		return
	}
	t.settled = true
	delete(s.active, t)
	if s.inflight[t.key] == t {
		delete(s.inflight, t.key)
	}
	if res.Err == nil && res.Translated {
		s.cache.add(cacheEntry{key: t.key, text: res.Text, engine: res.Engine})
	}
	s.pump()
	s.mu.Unlock()

	if res.save != nil {
		if err := s.store.SaveTranslation(ctx, *res.save); err != nil {
			s.logger.Warn().Err(err).Msg("persistent cache write failed")
		}
		res.save = nil
	}

	t.cancel()
	switch {
	case errors.Is(res.Err, ErrCanceled):
		s.logger.Debug().Str("engine", t.req.Engine).Msg("translation canceled")
	case res.Err != nil:
		s.logger.Warn().Err(res.Err).Str("target_lang", t.req.TargetLang).Msg("translation failed")
	}
	t.handle.resolve(res)
}

func (s *Scheduler) execute(ctx context.Context, req Request, key cacheKey) Result {
	if sameLanguage(req.SourceLang, req.TargetLang) {
		return Result{Text: req.Text}
	}
	text := Normalize(req.Text)
	if text == "" {
		return Result{Text: text}
	}

	s.mu.Lock()
	hit, ok := s.cache.get(key)
	s.mu.Unlock()
	if ok {
		return Result{Text: hit.text, Translated: true, Cached: true, Engine: hit.engine}
	}

	var log []string
	if s.store != nil {
		row, err := s.store.LookupTranslation(ctx, key.sourceLang, key.targetLang, text)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return Result{Text: text, Err: ctx.Err()}
			}
			s.logger.Warn().Err(err).Msg("persistent cache lookup failed")
			log = append(log, fmt.Sprintf("persistent cache unavailable: %v", err))
		case row != nil:
			return Result{Text: row.TranslatedText, Translated: true, Cached: true, Engine: row.Engine,
				Log: append(log, "persistent cache hit")}
		}
	}

	current := s.settings()
	if s.gate != nil {
		decision := s.gate.Check(tagged.StripTags(text), withTarget(current, req.TargetLang))
		log = append(log, decision.Log...)
		if !decision.Translate {
			return Result{Text: text, Log: append(log, "precheck: "+decision.Reason)}
		}
	}

	engineID := strings.TrimSpace(req.Engine)
	if engineID == "" {
		engineID = current.TranslatorEngine
	}
	target, resolveLog, err := resolveEngine(current, engineID, text)
	log = append(log, resolveLog...)
	if err != nil {
		return Result{Text: text, Err: err, Log: log}
	}
	provider, err := s.registry.Provider(target.provider)
	if err != nil {
		return Result{Text: text, Err: fmt.Errorf("translate with %s: %w", target.engine, err), Log: log}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return Result{Text: text, Err: err, Log: log}
		}
	}

	resp, err := provider.Translate(ctx, translation.TranslateRequest{
		Text:       text,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Model:      target.model,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Text: text, Err: ctx.Err(), Log: log}
		}
		return Result{Text: text, Err: fmt.Errorf("translate with %s: %w", target.engine, err), Log: log}
	}
	log = append(log, resp.Log...)

	translated := strings.TrimSpace(resp.Text)
	if translated == "" {
		return Result{Text: text, Err: fmt.Errorf("translate with %s: empty translation", target.engine), Log: log}
	}

	res := Result{Text: translated, Translated: true, Log: log, Engine: target.engine}
	if s.store != nil {
		res.save = &db.SaveTranslationParams{
			SourceLang:     key.sourceLang,
			TargetLang:     key.targetLang,
			OriginalText:   text,
			TranslatedText: translated,
			Engine:         target.engine,
			ModelName:      resp.ModelName,
			LatencyMS:      int(resp.LatencyMs),
		}
	}
	return res
	return Result{Text: translated, Translated: true, Log: log, Engine: target.engine}
}

type engineTarget struct {
	engine   string
	provider string
	model    string
}

// resolveEngine picks the provider for one call. Short texts sent to an AI
// engine move to its fallback engine; the fallback itself is taken as is.
func resolveEngine(s settings.Settings, engineID, text string) (engineTarget, []string, error) {
	var log []string
	if !settings.IsAIEngine(engineID) {
		return engineTarget{engine: engineID, provider: engineID}, nil, nil
	}

	ai, ok := s.AIEngine(engineID)
	if !ok {
		return engineTarget{}, nil, fmt.Errorf("translate with %s: ai engine is not configured", engineID)
	}

	fallback := strings.TrimSpace(ai.FallbackEngine)
	if fallback != "" && fallback != engineID && ai.ShortTextThreshold > 0 {
		words := len(strings.Fields(tagged.StripTags(text)))
		if words <= ai.ShortTextThreshold {
			log = append(log, fmt.Sprintf("%d words <= %d: using fallback %s", words, ai.ShortTextThreshold, fallback))
			if !settings.IsAIEngine(fallback) {
				return engineTarget{engine: fallback, provider: fallback}, log, nil
			}
			next, ok := s.AIEngine(fallback)
			if !ok {
				return engineTarget{}, log, fmt.Errorf("translate with %s: fallback ai engine is not configured", fallback)
			}
			return engineTarget{engine: fallback, provider: next.Provider, model: next.Model}, log, nil
		}
	}
	return engineTarget{engine: engineID, provider: ai.Provider, model: ai.Model}, log, nil
}

// Normalize trims text, unifies line endings and applies Unicode NFC.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return norm.NFC.String(strings.TrimSpace(text))
}

func keyFor(text, sourceLang, targetLang string) cacheKey {
	return cacheKey{text: text, sourceLang: langKey(sourceLang), targetLang: langKey(targetLang)}
}

func langKey(raw string) string {
	if language.IsAuto(raw) {
		return language.Auto
	}
	return language.NormalizeTag(raw)
}

func sameLanguage(source, target string) bool {
	if language.IsAuto(source) || language.IsAuto(target) {
		return false
	}
	return language.NormalizeTag(source) == language.NormalizeTag(target)
}

func withTarget(s settings.Settings, target string) settings.Settings {
	if strings.TrimSpace(target) != "" {
		s.TargetLanguage = target
	}
	return s
}
