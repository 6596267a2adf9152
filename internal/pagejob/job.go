// Package pagejob drives translation of one document: it discovers
// containers, translates them as they become visible and follows insertions.
package pagejob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"horse.fit/glint/internal/discovery"
	"horse.fit/glint/internal/document"
	"horse.fit/glint/internal/language"
	"horse.fit/glint/internal/messaging"
	"horse.fit/glint/internal/precheck"
	"horse.fit/glint/internal/render"
	"horse.fit/glint/internal/settings"
	"horse.fit/glint/internal/tagged"
)

// DefaultBatchDelay is how long insertions are collected before rediscovery.
const DefaultBatchDelay = 50 * time.Millisecond

var (
	ErrMissingTargetLanguage = errors.New("target language is not configured")
	ErrMissingEngine         = errors.New("translator engine is not configured")
	ErrClosed                = errors.New("page job closed")
)

// State is the job lifecycle position.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateTranslating State = "translating"
	StateReverting   State = "reverting"
)

// Counts tallies containers by lifecycle state.
type Counts struct {
	Observed   int `json:"observed"`
	Loading    int `json:"loading"`
	Translated int `json:"translated"`
	Original   int `json:"original"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Status is reported after every change a user could see.
type Status struct {
	State     State
	Counts    Counts
	LastError string
}

// StatusFunc receives status updates on the job goroutine. It must not call
// back into the job synchronously.
type StatusFunc func(Status)

// Deps wires a job to its collaborators. Settings, Messenger, Renderer and
// Viewport are required.
type Deps struct {
	Settings   func() (settings.Settings, error)
	Gate       *precheck.Gate
	Messenger  messaging.Messenger
	Renderer   render.Renderer
	Viewport   ViewportFactory
	Status     StatusFunc
	BatchDelay time.Duration
	// PageLanguage optionally guesses the page language when the source is auto.
	PageLanguage func(*document.Document) string
	Logger       zerolog.Logger
}

type entry struct {
	id     string
	node   *html.Node
	unit   *tagged.Unit
	state  render.State
	failed bool
}

// Job is one page translation. Its methods are safe for concurrent use; all
// document and table work runs on the job goroutine.
type Job struct {
	doc    *document.Document
	deps   Deps
	logger zerolog.Logger

	state atomic.Value // State

	qmu     sync.Mutex
	queue   []func()
	wake    chan struct{}
	stop    chan struct{}
	closed  bool
	stopped chan struct{}

	// owned by the job goroutine
	current     settings.Settings
	runCtx      context.Context
	cancelRun   context.CancelFunc
	viewport    ViewportObserver
	unsubscribe func()
	observed    map[*html.Node]struct{}
	entries     map[string]*entry
	byNode      map[*html.Node]string
	skipped     map[*html.Node]struct{}
	pending     []*html.Node
	batchTimer  *time.Timer
	loading     int
	lastError   string
	waiters     []chan struct{}
}

// New creates an idle job for doc and starts its goroutine.
func New(doc *document.Document, deps Deps) *Job {
	if deps.BatchDelay <= 0 {
		deps.BatchDelay = DefaultBatchDelay
	}
	if deps.Viewport == nil {
		deps.Viewport = Eager
	}
	j := &Job{
		doc:     doc,
		deps:    deps,
		logger:  deps.Logger.With().Str("component", "pagejob").Logger(),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	j.state.Store(StateIdle)
	j.resetTables()
	go j.run()
	return j
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	return j.state.Load().(State)
}

// Start discovers containers and begins observing them. It is a no-op when
// the job is not idle. Configuration errors leave the job idle.
func (j *Job) Start(ctx context.Context) error {
	var err error
	if callErr := j.call(ctx, func() { err = j.start(ctx) }); callErr != nil {
		return callErr
	}
	return err
}

// Deliver hands a reply to the job. Replies for unknown ids are ignored.
func (j *Job) Deliver(reply messaging.Reply) {
	j.post(func() { j.deliver(reply) })
}

// Revert cancels outstanding work and restores every tracked container. It is
// idempotent and safe on an idle job.
func (j *Job) Revert() {
	_ = j.call(context.Background(), j.revert)
}

// Counts returns container tallies.
func (j *Job) Counts() Counts {
	var c Counts
	_ = j.call(context.Background(), func() { c = j.counts() })
	return c
}

// Wait blocks until no container is loading and no insertion batch is pending.
func (j *Job) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	if !j.post(func() { j.waiters = append(j.waiters, ch) }) {
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close reverts the job and stops its goroutine.
func (j *Job) Close() {
	j.Revert()
	j.shutdown()
}

// Detach stops the job but leaves rendered translations in the document.
func (j *Job) Detach() {
	_ = j.call(context.Background(), j.detach)
	j.shutdown()
}

func (j *Job) shutdown() {
	j.qmu.Lock()
	if j.closed {
		j.qmu.Unlock()
		return
	}
	j.closed = true
	j.qmu.Unlock()
	close(j.stop)
	<-j.stopped
}

func (j *Job) post(fn func()) bool {
	j.qmu.Lock()
	if j.closed {
		j.qmu.Unlock()
		return false
	}
	j.queue = append(j.queue, fn)
	j.qmu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
	return true
}

// call runs fn on the job goroutine and waits for it.
func (j *Job) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !j.post(func() { fn(); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) run() {
	defer close(j.stopped)
	for {
		select {
		case <-j.wake:
		case <-j.stop:
			return
		}
		for {
			j.qmu.Lock()
			if len(j.queue) == 0 {
				j.qmu.Unlock()
				break
			}
			fn := j.queue[0]
			j.queue[0] = nil
			j.queue = j.queue[1:]
			j.qmu.Unlock()
			fn()
		}
		j.releaseWaiters()
	}
}

func (j *Job) releaseWaiters() {
	if len(j.waiters) == 0 || j.loading > 0 || j.batchTimer != nil || len(j.pending) > 0 {
		return
	}
	j.qmu.Lock()
	busy := len(j.queue) > 0
	j.qmu.Unlock()
	if busy {
		return
	}
	for _, ch := range j.waiters {
		close(ch)
	}
	j.waiters = nil
}

func (j *Job) setState(s State) {
	j.state.Store(s)
}

func (j *Job) start(ctx context.Context) error {
	if state := j.State(); state != StateIdle {
		j.logger.Info().Str("state", string(state)).Msg("start ignored: job is not idle")
		return nil
	}
	j.setState(StateStarting)

	s, err := j.loadSettings()
	if err != nil {
		j.setState(StateIdle)
		j.lastError = err.Error()
		j.report()
		return err
	}
	j.current = s

	if j.deps.PageLanguage != nil && language.IsAuto(s.SourceLanguage) {
		if hint := j.deps.PageLanguage(j.doc); hint != "" {
			event := j.logger.Info().Str("page_lang", hint).Str("target_lang", s.TargetLanguage)
			if language.Same(hint, s.TargetLanguage) {
				event.Msg("page already appears to be in the target language")
			} else {
				event.Msg("detected page language")
			}
		}
	}

	j.runCtx, j.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	j.unsubscribe = j.doc.Subscribe(func(nodes []*html.Node) {
		j.post(func() { j.onInserted(nodes) })
	})
	j.viewport = j.deps.Viewport(func(n *html.Node) {
		j.post(func() { j.onEnter(n) })
	})

	var found []*html.Node
	j.doc.View(func(*html.Node) {
		found = discovery.FindTranslatableElements(s, j.deps.Gate, j.doc.Body())
	})
	j.setState(StateTranslating)
	for _, n := range found {
		j.observe(n)
	}

	j.logger.Info().Int("containers", len(found)).Str("target_lang", s.TargetLanguage).Msg("page job started")
	j.report()
	return nil
}

func (j *Job) loadSettings() (settings.Settings, error) {
	if j.deps.Settings == nil {
		return settings.Settings{}, ErrMissingTargetLanguage
	}
	s, err := j.deps.Settings()
	if err != nil {
		return settings.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	s = s.WithDefaults()
	if strings.TrimSpace(s.TargetLanguage) == "" {
		return settings.Settings{}, ErrMissingTargetLanguage
	}
	if strings.TrimSpace(s.TranslatorEngine) == "" {
		return settings.Settings{}, ErrMissingEngine
	}
	return s, nil
}

func (j *Job) observe(n *html.Node) {
	if j.isTracked(n) {
		return
	}
	j.observed[n] = struct{}{}
	j.viewport.Observe(n)
}

func (j *Job) onEnter(n *html.Node) {
	if j.State() != StateTranslating {
		return
	}
	if _, ok := j.observed[n]; !ok {
		return
	}
	delete(j.observed, n)
	j.viewport.Unobserve(n)
	j.trigger(n)
}

func (j *Job) trigger(n *html.Node) {
	var unit *tagged.Unit
	j.doc.View(func(*html.Node) { unit = tagged.Decompose(n) })
	if unit == nil {
		j.skipped[n] = struct{}{}
		return
	}

	id := uuid.NewString()
	e := &entry{id: id, node: n, unit: unit, state: render.StateLoading}
	j.entries[id] = e
	j.byNode[n] = id
	j.loading++
	j.deps.Renderer.Update(n, id, render.StateLoading, render.Payload{Unit: unit})
	j.report()

	j.deps.Messenger.Send(j.runCtx, messaging.Message{
		ID:         id,
		Text:       unit.Text,
		SourceLang: j.current.SourceLanguage,
		TargetLang: j.current.TargetLanguage,
		Engine:     j.current.TranslatorEngine,
	}, j.Deliver)
}

func (j *Job) deliver(reply messaging.Reply) {
	e, ok := j.entries[reply.ID]
	if !ok || e.state != render.StateLoading {
		j.logger.Debug().Str("id", reply.ID).Msg("ignoring reply for untracked container")
		return
	}
	j.loading--

	switch {
	case reply.Error == "" && reply.Translated:
		e.state = render.StateTranslated
		j.deps.Renderer.Update(e.node, e.id, render.StateTranslated, render.Payload{Unit: e.unit, Text: reply.Text})
	case reply.Failed():
		e.failed = true
		j.lastError = reply.Error
		j.logger.Warn().Str("id", e.id).Str("error", reply.Error).Msg("container translation failed")
		j.deps.Renderer.Update(e.node, e.id, render.StateError, render.Payload{Unit: e.unit, Err: errors.New(reply.Error)})
		e.state = render.StateOriginal
		j.deps.Renderer.Revert(e.node, e.id)
	default:
		// canceled, rejected by precheck or same language
		e.state = render.StateOriginal
		j.deps.Renderer.Revert(e.node, e.id)
	}
	j.report()
}

func (j *Job) onInserted(nodes []*html.Node) {
	if j.State() != StateTranslating {
		return
	}
	j.pending = append(j.pending, nodes...)
	if j.batchTimer == nil {
		j.batchTimer = time.AfterFunc(j.deps.BatchDelay, func() {
			j.post(j.flushBatch)
		})
	}
}

func (j *Job) flushBatch() {
	j.batchTimer = nil
	nodes := j.pending
	j.pending = nil
	if j.State() != StateTranslating || len(nodes) == 0 {
		return
	}

	claimed := make([]*html.Node, 0, len(j.observed)+len(j.byNode)+len(j.skipped))
	for n := range j.observed {
		claimed = append(claimed, n)
	}
	for n := range j.byNode {
		claimed = append(claimed, n)
	}
	for n := range j.skipped {
		claimed = append(claimed, n)
	}

	// parents are read under the document lock; insertions run on other goroutines
	var found []*html.Node
	j.doc.View(func(*html.Node) {
		roots := make([]*html.Node, 0, len(nodes))
		for _, n := range nodes {
			if n.Parent == nil || j.insideTracked(n) {
				continue
			}
			roots = append(roots, n)
		}
		if len(roots) == 0 {
			return
		}
		found = discovery.Find(j.current, j.deps.Gate, discovery.Options{Claimed: claimed}, roots...)
	})
	for _, n := range found {
		j.observe(n)
	}
	if len(found) > 0 {
		j.logger.Debug().Int("containers", len(found)).Msg("discovered inserted containers")
		j.report()
	}
}

func (j *Job) revert() {
	if j.State() == StateIdle && len(j.entries) == 0 && len(j.observed) == 0 {
		return
	}
	j.setState(StateReverting)

	j.deps.Messenger.Interrupt(context.Background())
	j.release()
	for _, e := range j.entries {
		j.deps.Renderer.Revert(e.node, e.id)
	}

	j.resetTables()
	j.setState(StateIdle)
	j.logger.Info().Msg("page job reverted")
	j.report()
}

func (j *Job) detach() {
	j.release()
	j.resetTables()
	j.setState(StateIdle)
}

// release stops observation and cancels sends without touching the document.
func (j *Job) release() {
	if j.cancelRun != nil {
		j.cancelRun()
		j.cancelRun = nil
	}
	if j.unsubscribe != nil {
		j.unsubscribe()
		j.unsubscribe = nil
	}
	if j.viewport != nil {
		j.viewport.Disconnect()
		j.viewport = nil
	}
	if j.batchTimer != nil {
		j.batchTimer.Stop()
		j.batchTimer = nil
	}
}

func (j *Job) resetTables() {
	j.observed = make(map[*html.Node]struct{})
	j.entries = make(map[string]*entry)
	j.byNode = make(map[*html.Node]string)
	j.skipped = make(map[*html.Node]struct{})
	j.pending = nil
	j.loading = 0
	j.lastError = ""
}

func (j *Job) isTracked(n *html.Node) bool {
	if _, ok := j.observed[n]; ok {
		return true
	}
	if _, ok := j.byNode[n]; ok {
		return true
	}
	_, ok := j.skipped[n]
	return ok
}

func (j *Job) insideTracked(n *html.Node) bool {
	for a := n; a != nil; a = a.Parent {
		if j.isTracked(a) {
			return true
		}
	}
	return false
}

func (j *Job) counts() Counts {
	c := Counts{Observed: len(j.observed), Skipped: len(j.skipped)}
	for _, e := range j.entries {
		switch e.state {
		case render.StateLoading:
			c.Loading++
		case render.StateTranslated:
			c.Translated++
		case render.StateOriginal:
			c.Original++
		}
		if e.failed {
			c.Failed++
		}
	}
	return c
}

func (j *Job) report() {
	if j.deps.Status == nil {
		return
	}
	j.deps.Status(Status{State: j.State(), Counts: j.counts(), LastError: j.lastError})
}
